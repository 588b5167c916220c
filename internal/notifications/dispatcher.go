// Package notifications persists in-app notifications and routes them to
// the gateway and to push workers.
package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/5l1v3r1/tellecast-sub000/internal/broker"
	"github.com/5l1v3r1/tellecast-sub000/internal/models"
	"github.com/5l1v3r1/tellecast-sub000/pkg/apperr"
)

// ReplayLimit bounds ListUnread and gateway replay.
const ReplayLimit = 50

type Store interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	GetNotification(ctx context.Context, id int64) (*models.Notification, error)
	ListUnread(ctx context.Context, userID int64, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, userID int64, ids []int64) (int64, error)
	ListDevices(ctx context.Context, userID int64, platform models.Platform) ([]models.Device, error)
}

// Cache is the replay list in front of Store.
type Cache interface {
	Push(ctx context.Context, n *models.Notification)
	Recent(ctx context.Context, userID int64) ([]models.Notification, bool)
	Forget(ctx context.Context, userID int64, ids []int64)
	Warm(ctx context.Context, userID int64, notifications []models.Notification)
}

type Dispatcher struct {
	store Store
	cache Cache
	pub   broker.Publisher
	log   *zap.Logger
}

// NewDispatcher wires the dispatcher. cache may be nil.
func NewDispatcher(store Store, cache Cache, pub broker.Publisher, log *zap.Logger) *Dispatcher {
	return &Dispatcher{store: store, cache: cache, pub: pub, log: log.Named("notifications")}
}

// IdempotencyKey identifies one push of one notification to one device.
func IdempotencyKey(deviceID, notificationID int64) string {
	return fmt.Sprintf("%d:%d", deviceID, notificationID)
}

// Dispatch persists the intent as an Unread notification, announces it on
// the ws exchange and enqueues one push job per registered device.
// Delivery is at-least-once: a publish failure is returned after every
// other step was attempted, and the caller may retry the whole intent.
func (d *Dispatcher) Dispatch(ctx context.Context, intent models.NotificationIntent) (*models.Notification, error) {
	if intent.UserID <= 0 {
		return nil, apperr.E(apperr.Invalid, "notification needs a recipient")
	}
	if !models.ValidNotificationType(intent.Type) {
		return nil, apperr.E(apperr.Invalid, "unknown notification type %q", intent.Type)
	}
	if len(intent.Contents) > 0 && !json.Valid(intent.Contents) {
		return nil, apperr.E(apperr.Invalid, "notification contents must be JSON")
	}

	n := &models.Notification{UserID: intent.UserID, Type: intent.Type, Contents: intent.Contents}
	if err := d.store.CreateNotification(ctx, n); err != nil {
		return nil, err
	}
	if d.cache != nil {
		d.cache.Push(ctx, n)
	}

	log := d.log.With(zap.Int64("user_id", n.UserID), zap.Int64("notification_id", n.ID))
	var errs []error

	if err := broker.PublishWS(ctx, d.pub, broker.SubjectNotifications, n.ID); err != nil {
		log.Warn("publish notification", zap.Error(err))
		errs = append(errs, err)
	}

	devices, err := d.store.ListDevices(ctx, n.UserID, "")
	if err != nil {
		errs = append(errs, err)
		return n, errors.Join(errs...)
	}
	if len(devices) == 0 {
		return n, errors.Join(errs...)
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return n, fmt.Errorf("notifications: encode: %w", err)
	}
	for _, device := range devices {
		job := models.PushJob{
			UserID:         n.UserID,
			JSON:           string(payload),
			DeviceID:       device.ID,
			NotificationID: n.ID,
			IdempotencyKey: IdempotencyKey(device.ID, n.ID),
		}
		if err := broker.Submit(ctx, d.pub, broker.QueuePushNotifications, job); err != nil {
			log.Warn("enqueue push", zap.Int64("device_id", device.ID), zap.Error(err))
			errs = append(errs, err)
		}
	}
	log.Debug("dispatched", zap.Int("devices", len(devices)))
	return n, errors.Join(errs...)
}

// Get loads one notification.
func (d *Dispatcher) Get(ctx context.Context, id int64) (*models.Notification, error) {
	return d.store.GetNotification(ctx, id)
}

// ListUnread returns up to limit unread notifications, oldest first. The
// replay cache answers when it can; Postgres is the fallback.
func (d *Dispatcher) ListUnread(ctx context.Context, userID int64, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > ReplayLimit {
		limit = ReplayLimit
	}
	if d.cache != nil {
		if cached, ok := d.cache.Recent(ctx, userID); ok {
			if len(cached) > limit {
				cached = cached[len(cached)-limit:]
			}
			return cached, nil
		}
	}
	list, err := d.store.ListUnread(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if d.cache != nil && limit == ReplayLimit {
		d.cache.Warm(ctx, userID, list)
	}
	return list, nil
}

// MarkRead flips ids to Read for userID and drops them from the replay cache.
func (d *Dispatcher) MarkRead(ctx context.Context, userID int64, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := d.store.MarkRead(ctx, userID, ids)
	if err != nil {
		return 0, err
	}
	if d.cache != nil {
		d.cache.Forget(ctx, userID, ids)
	}
	return n, nil
}

// ForMessage maps a direct message to the notification its recipient
// gets, if any.
func ForMessage(m *models.Message) (models.NotificationIntent, bool) {
	var t models.NotificationType
	switch m.Type {
	case models.MessageTypeRequest:
		t = "A"
	case models.MessageTypeResponseAccepted:
		t = "B"
	case models.MessageTypeAsk:
		t = "C"
	default:
		return models.NotificationIntent{}, false
	}
	contents, _ := json.Marshal(map[string]interface{}{
		"message_id":     m.ID,
		"user_source_id": m.UserSourceID,
		"type":           m.Type,
	})
	return models.NotificationIntent{UserID: m.UserDestID, Type: t, Contents: contents}, true
}
