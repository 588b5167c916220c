package services

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/5l1v3r1/tellecast-sub000/internal/models"
)

const locationHistoryCollection = "user_locations"

// historyDoc is the archived form of a fix. Point is stored as [lng, lat].
type historyDoc struct {
	ID                   primitive.ObjectID `bson:"_id,omitempty"`
	UserID               int64              `bson:"user_id"`
	NetworkID            *int64             `bson:"network_id,omitempty"`
	TellzoneID           *int64             `bson:"tellzone_id,omitempty"`
	Point                []float64          `bson:"point"`
	AccuraciesHorizontal float64            `bson:"accuracies_horizontal"`
	AccuraciesVertical   float64            `bson:"accuracies_vertical"`
	Bearing              int                `bson:"bearing"`
	IsCasting            bool               `bson:"is_casting"`
	Timestamp            time.Time          `bson:"timestamp"`
}

func toHistoryDoc(fix *models.LocationFix) historyDoc {
	return historyDoc{
		UserID:               fix.UserID,
		NetworkID:            fix.NetworkID,
		TellzoneID:           fix.TellzoneID,
		Point:                []float64{fix.Point.Lng, fix.Point.Lat},
		AccuraciesHorizontal: fix.AccuraciesHorizontal,
		AccuraciesVertical:   fix.AccuraciesVertical,
		Bearing:              fix.Bearing,
		IsCasting:            fix.IsCasting,
		Timestamp:            fix.Timestamp.UTC(),
	}
}

func (d historyDoc) fix() models.LocationFix {
	fix := models.LocationFix{
		UserID:               d.UserID,
		NetworkID:            d.NetworkID,
		TellzoneID:           d.TellzoneID,
		AccuraciesHorizontal: d.AccuraciesHorizontal,
		AccuraciesVertical:   d.AccuraciesVertical,
		Bearing:              d.Bearing,
		IsCasting:            d.IsCasting,
		Timestamp:            d.Timestamp,
	}
	if len(d.Point) == 2 {
		fix.Point = models.Point{Lng: d.Point[0], Lat: d.Point[1]}
	}
	return fix
}

// LocationHistory archives every accepted fix. It is never read by
// proximity queries.
type LocationHistory struct {
	col *mongo.Collection
}

func NewLocationHistory(db *mongo.Database) *LocationHistory {
	return &LocationHistory{col: db.Collection(locationHistoryCollection)}
}

// EnsureIndexes configures the (user_id, timestamp) index. Called on
// startup after Mongo has connected.
func (h *LocationHistory) EnsureIndexes(ctx context.Context) error {
	_, err := h.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "timestamp", Value: -1},
		},
		Options: options.Index().SetName("idx_user_timestamp"),
	})
	if err != nil {
		return fmt.Errorf("location history: ensure indexes: %w", err)
	}
	return nil
}

// Archive stores fix.
func (h *LocationHistory) Archive(ctx context.Context, fix *models.LocationFix) error {
	if _, err := h.col.InsertOne(ctx, toHistoryDoc(fix)); err != nil {
		return fmt.Errorf("location history: insert: %w", err)
	}
	return nil
}

// Recent returns up to limit archived fixes of a principal, newest first.
func (h *LocationHistory) Recent(ctx context.Context, userID int64, limit int64) ([]models.LocationFix, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(limit)
	cur, err := h.col.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("location history: find: %w", err)
	}
	defer cur.Close(ctx)

	var out []models.LocationFix
	for cur.Next(ctx) {
		var d historyDoc
		if err := cur.Decode(&d); err != nil {
			continue
		}
		out = append(out, d.fix())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("location history: cursor: %w", err)
	}
	return out, nil
}
