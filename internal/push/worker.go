package push

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/5l1v3r1/tellecast-sub000/internal/broker"
	"github.com/5l1v3r1/tellecast-sub000/internal/models"
	"github.com/5l1v3r1/tellecast-sub000/internal/observability"
	"github.com/5l1v3r1/tellecast-sub000/pkg/apperr"
)

type DeviceStore interface {
	ListDevices(ctx context.Context, userID int64, platform models.Platform) ([]models.Device, error)
	DeleteDevice(ctx context.Context, userID, id int64) error
}

// Claimer guards against sending the same (device, notification) twice.
type Claimer interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Worker consumes api.tasks.push_notifications.
type Worker struct {
	devices DeviceStore
	senders map[models.Platform]Sender
	claims  Claimer
	log     *zap.Logger
}

// NewWorker wires the worker. claims may be nil.
func NewWorker(devices DeviceStore, claims Claimer, log *zap.Logger, senders ...Sender) *Worker {
	w := &Worker{
		devices: devices,
		senders: make(map[models.Platform]Sender, len(senders)),
		claims:  claims,
		log:     log.Named("push"),
	}
	for _, s := range senders {
		w.senders[s.Platform()] = s
	}
	return w
}

// Handle is the broker handler. Provider failures are reported and the
// job acked; only malformed jobs and store outages reach the broker.
func (w *Worker) Handle(ctx context.Context, d broker.Delivery) error {
	msg, err := broker.Decode(d.Exchange, d.Body)
	if err != nil {
		return err
	}
	push, ok := msg.(broker.Push)
	if !ok {
		return apperr.E(apperr.Permanent, "push: unexpected message %T", msg)
	}
	return w.Deliver(ctx, push.Job)
}

// Deliver sends job to the matching devices of its user.
func (w *Worker) Deliver(ctx context.Context, job models.PushJob) error {
	devices, err := w.devices.ListDevices(ctx, job.UserID, "")
	if err != nil {
		return apperr.Wrap(apperr.Transient, "push: list devices", err)
	}

	for _, device := range devices {
		if job.DeviceID != 0 && device.ID != job.DeviceID {
			continue
		}
		sender, ok := w.senders[device.Platform]
		if !ok {
			w.log.Debug("no sender for platform", zap.String("platform", string(device.Platform)))
			continue
		}
		w.deliverOne(ctx, sender, device, job)
	}
	return nil
}

func (w *Worker) deliverOne(ctx context.Context, sender Sender, device models.Device, job models.PushJob) {
	platform := string(device.Platform)
	log := w.log.With(
		zap.Int64("user_id", job.UserID),
		zap.Int64("device_id", device.ID),
		zap.String("platform", platform),
	)

	key := job.IdempotencyKey
	if key != "" && w.claims != nil {
		first, err := w.claims.Claim(ctx, key)
		if err != nil {
			// Without Redis a duplicate is better than a lost push.
			log.Warn("idempotency claim", zap.Error(err))
		} else if !first {
			observability.PushAttempts.WithLabelValues(platform, "duplicate").Inc()
			log.Debug("already sent", zap.String("key", key))
			return
		}
	}

	err := sender.Send(ctx, device, job.JSON)
	switch {
	case err == nil:
		observability.PushAttempts.WithLabelValues(platform, "sent").Inc()
		return

	case errors.Is(err, ErrUnregistered):
		observability.PushAttempts.WithLabelValues(platform, "unregistered").Inc()
		log.Info("removing unregistered device")
		if delErr := w.devices.DeleteDevice(ctx, 0, device.ID); delErr != nil && !apperr.Is(delErr, apperr.NotFound) {
			log.Warn("remove device", zap.Error(delErr))
		}
		return
	}

	observability.PushAttempts.WithLabelValues(platform, "failed").Inc()
	log.Error("push failed", zap.Error(err))
	observability.Report(err, map[string]interface{}{
		"user_id":         job.UserID,
		"device_id":       device.ID,
		"platform":        platform,
		"notification_id": job.NotificationID,
	})
	if key != "" && w.claims != nil {
		if relErr := w.claims.Release(ctx, key); relErr != nil {
			log.Warn("release claim", zap.Error(relErr))
		}
	}
}
