// Package location accepts location fixes from HTTP and WebSocket clients,
// stores the last-known fix and announces it on the ws exchange.
package location

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/5l1v3r1/tellecast-sub000/internal/broker"
	"github.com/5l1v3r1/tellecast-sub000/internal/geo"
	"github.com/5l1v3r1/tellecast-sub000/internal/models"
	"github.com/5l1v3r1/tellecast-sub000/pkg/apperr"
)

// Store persists the active fix per principal.
type Store interface {
	UpsertLocation(ctx context.Context, fix *models.LocationFix) (bool, error)
}

// Archive keeps every accepted fix for history.
type Archive interface {
	Archive(ctx context.Context, fix *models.LocationFix) error
}

type Ingestor struct {
	store   Store
	archive Archive
	pub     broker.Publisher
	log     *zap.Logger
	now     func() time.Time
}

// NewIngestor wires the ingestor. archive may be nil.
func NewIngestor(store Store, archive Archive, pub broker.Publisher, log *zap.Logger) *Ingestor {
	return &Ingestor{
		store:   store,
		archive: archive,
		pub:     pub,
		log:     log.Named("location"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Validate checks a fix reported by userID.
func Validate(userID int64, fix *models.LocationFix) error {
	if fix.UserID != 0 && fix.UserID != userID {
		return apperr.E(apperr.PermissionDenied, "cannot post a location for another user")
	}
	if err := geo.CheckPoint(fix.Point); err != nil {
		return err
	}
	if fix.Bearing < 0 || fix.Bearing > 359 {
		return apperr.E(apperr.Invalid, "bearing must be within 0..359")
	}
	if fix.AccuraciesHorizontal < 0 || fix.AccuraciesVertical < 0 {
		return apperr.E(apperr.Invalid, "accuracies must not be negative")
	}
	return nil
}

// Ingest validates fix, stamps it with server time, stores it as userID's
// active fix and publishes users_locations. A fix older than the stored
// one is dropped without publishing.
func (i *Ingestor) Ingest(ctx context.Context, userID int64, fix models.LocationFix) (*models.LocationFix, error) {
	if err := Validate(userID, &fix); err != nil {
		return nil, err
	}
	fix.UserID = userID
	fix.Timestamp = i.now()

	applied, err := i.store.UpsertLocation(ctx, &fix)
	if err != nil {
		return nil, err
	}
	if !applied {
		i.log.Debug("stale fix dropped", zap.Int64("user_id", userID))
		return &fix, nil
	}

	if i.archive != nil {
		if err := i.archive.Archive(ctx, &fix); err != nil {
			i.log.Warn("archive fix", zap.Int64("user_id", userID), zap.Error(err))
		}
	}

	if err := broker.PublishWS(ctx, i.pub, broker.SubjectUsersLocations, &fix); err != nil {
		return nil, apperr.Wrap(apperr.UpstreamUnavailable, "location: publish", err)
	}
	return &fix, nil
}

// SeedOwners posts a casting fix at every owned tellzone's point on behalf
// of its owner. It returns how many fixes were ingested.
func (i *Ingestor) SeedOwners(ctx context.Context, tellzones []models.Tellzone) (int, error) {
	seeded := 0
	for _, tz := range tellzones {
		if tz.UserID == nil {
			continue
		}
		tellzoneID := tz.ID
		_, err := i.Ingest(ctx, *tz.UserID, models.LocationFix{
			TellzoneID: &tellzoneID,
			Point:      tz.Point,
			IsCasting:  true,
		})
		if err != nil {
			return seeded, err
		}
		i.log.Info("seeded owner", zap.Int64("user_id", *tz.UserID), zap.Int64("tellzone_id", tz.ID))
		seeded++
	}
	return seeded, nil
}
