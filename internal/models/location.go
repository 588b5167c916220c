package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Point is a WGS84 coordinate. On the wire it is [lng, lat].
type Point struct {
	Lng float64
	Lat float64
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.Lng, p.Lat})
}

func (p *Point) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("point: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("point: want [lng, lat], got %d values", len(pair))
	}
	p.Lng, p.Lat = pair[0], pair[1]
	return nil
}

// Finite reports whether both coordinates are real numbers.
func (p Point) Finite() bool {
	return !math.IsNaN(p.Lng) && !math.IsNaN(p.Lat) && !math.IsInf(p.Lng, 0) && !math.IsInf(p.Lat, 0)
}

// LocationFix is a principal's reported position. Only the most recent
// fix per principal is visible to proximity queries.
type LocationFix struct {
	ID                   int64     `json:"id,omitempty" bson:"-"`
	UserID               int64     `json:"user_id" bson:"user_id"`
	NetworkID            *int64    `json:"network_id,omitempty" bson:"network_id,omitempty"`
	TellzoneID           *int64    `json:"tellzone_id,omitempty" bson:"tellzone_id,omitempty"`
	Point                Point     `json:"point" bson:"-"`
	AccuraciesHorizontal float64   `json:"accuracies_horizontal" bson:"accuracies_horizontal"`
	AccuraciesVertical   float64   `json:"accuracies_vertical" bson:"accuracies_vertical"`
	Bearing              int       `json:"bearing" bson:"bearing"`
	IsCasting            bool      `json:"is_casting" bson:"is_casting"`
	Timestamp            time.Time `json:"timestamp" bson:"timestamp"`
}
