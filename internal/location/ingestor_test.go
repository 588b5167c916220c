package location

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/5l1v3r1/tellecast-sub000/internal/broker"
	"github.com/5l1v3r1/tellecast-sub000/internal/models"
	"github.com/5l1v3r1/tellecast-sub000/pkg/apperr"
)

type fakeStore struct {
	mu     sync.Mutex
	active map[int64]models.LocationFix
	err    error
}

func (s *fakeStore) UpsertLocation(ctx context.Context, fix *models.LocationFix) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if s.active == nil {
		s.active = make(map[int64]models.LocationFix)
	}
	if cur, ok := s.active[fix.UserID]; ok && cur.Timestamp.After(fix.Timestamp) {
		return false, nil
	}
	s.active[fix.UserID] = *fix
	return true, nil
}

type fakeArchive struct {
	fixes []models.LocationFix
	err   error
}

func (a *fakeArchive) Archive(ctx context.Context, fix *models.LocationFix) error {
	a.fixes = append(a.fixes, *fix)
	return a.err
}

type fakePublisher struct {
	mu     sync.Mutex
	bodies [][]byte
	err    error
}

func (p *fakePublisher) Publish(ctx context.Context, exchange string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if exchange != broker.QueueWS {
		return errors.New("unexpected exchange " + exchange)
	}
	p.bodies = append(p.bodies, body)
	return nil
}

func newTestIngestor(store Store, archive Archive, pub broker.Publisher) *Ingestor {
	i := NewIngestor(store, archive, pub, zap.NewNop())
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	i.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return i
}

func TestIngestStoresAndPublishes(t *testing.T) {
	store := &fakeStore{}
	archive := &fakeArchive{}
	pub := &fakePublisher{}
	i := newTestIngestor(store, archive, pub)

	fix, err := i.Ingest(context.Background(), 42, models.LocationFix{
		Point:     models.Point{Lng: -122.4194, Lat: 37.7749},
		Bearing:   90,
		IsCasting: true,
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if fix.UserID != 42 || fix.Timestamp.IsZero() {
		t.Fatalf("fix = %+v, want user 42 with a timestamp", fix)
	}
	if got := store.active[42]; got.Point != fix.Point {
		t.Fatalf("stored point = %v, want %v", got.Point, fix.Point)
	}
	if len(archive.fixes) != 1 {
		t.Fatalf("archived %d fixes, want 1", len(archive.fixes))
	}
	if len(pub.bodies) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.bodies))
	}

	msg, err := broker.Decode(broker.QueueWS, pub.bodies[0])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	ul, ok := msg.(broker.UsersLocations)
	if !ok {
		t.Fatalf("decoded %T, want UsersLocations", msg)
	}
	if ul.Fix.UserID != 42 || !ul.Fix.IsCasting || ul.Fix.Point != fix.Point {
		t.Fatalf("published fix = %+v", ul.Fix)
	}
}

func TestIngestRejects(t *testing.T) {
	tests := []struct {
		name string
		fix  models.LocationFix
		kind apperr.Kind
	}{
		{"other user", models.LocationFix{UserID: 7, Point: models.Point{Lng: 1, Lat: 1}}, apperr.PermissionDenied},
		{"nan", models.LocationFix{Point: models.Point{Lng: math.NaN(), Lat: 1}}, apperr.InvalidGeometry},
		{"out of range", models.LocationFix{Point: models.Point{Lng: 1, Lat: 91}}, apperr.InvalidGeometry},
		{"bearing", models.LocationFix{Point: models.Point{Lng: 1, Lat: 1}, Bearing: 360}, apperr.Invalid},
		{"accuracy", models.LocationFix{Point: models.Point{Lng: 1, Lat: 1}, AccuraciesHorizontal: -1}, apperr.Invalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			i := newTestIngestor(&fakeStore{}, nil, pub)
			_, err := i.Ingest(context.Background(), 42, tt.fix)
			if !apperr.Is(err, tt.kind) {
				t.Fatalf("error = %v, want %s", err, tt.kind)
			}
			if len(pub.bodies) != 0 {
				t.Fatal("rejected fix was published")
			}
		})
	}
}

func TestIngestStaleFixIsNotPublished(t *testing.T) {
	store := &fakeStore{active: map[int64]models.LocationFix{
		42: {UserID: 42, Timestamp: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)},
	}}
	pub := &fakePublisher{}
	i := newTestIngestor(store, nil, pub)

	if _, err := i.Ingest(context.Background(), 42, models.LocationFix{Point: models.Point{Lng: 1, Lat: 1}}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(pub.bodies) != 0 {
		t.Fatal("stale fix was published")
	}
}

func TestIngestArchiveFailureIsNotFatal(t *testing.T) {
	pub := &fakePublisher{}
	i := newTestIngestor(&fakeStore{}, &fakeArchive{err: errors.New("mongo down")}, pub)
	if _, err := i.Ingest(context.Background(), 1, models.LocationFix{Point: models.Point{Lng: 1, Lat: 1}}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(pub.bodies) != 1 {
		t.Fatal("fix was not published")
	}
}

func TestIngestPublishFailure(t *testing.T) {
	i := newTestIngestor(&fakeStore{}, nil, &fakePublisher{err: errors.New("no broker")})
	_, err := i.Ingest(context.Background(), 1, models.LocationFix{Point: models.Point{Lng: 1, Lat: 1}})
	if !apperr.Is(err, apperr.UpstreamUnavailable) {
		t.Fatalf("error = %v, want UpstreamUnavailable", err)
	}
}

func TestSeedOwners(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	i := newTestIngestor(store, nil, pub)
	owner := int64(5)
	n, err := i.SeedOwners(context.Background(), []models.Tellzone{
		{ID: 1, Point: models.Point{Lng: 10, Lat: 20}, UserID: &owner},
		{ID: 2, Point: models.Point{Lng: 11, Lat: 21}},
	})
	if err != nil {
		t.Fatalf("SeedOwners: %v", err)
	}
	if n != 1 {
		t.Fatalf("seeded %d, want 1", n)
	}
	got := store.active[owner]
	if !got.IsCasting || got.TellzoneID == nil || *got.TellzoneID != 1 || got.Point != (models.Point{Lng: 10, Lat: 20}) {
		t.Fatalf("seeded fix = %+v", got)
	}
}
