package geo

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/5l1v3r1/tellecast-sub000/internal/models"
	"github.com/5l1v3r1/tellecast-sub000/pkg/apperr"
)

// Kind selects which entities a nearby query returns.
type Kind string

const (
	KindUsers     Kind = "users"
	KindTellzones Kind = "tellzones"
)

// Candidate is an entity with its active point.
type Candidate struct {
	ID    int64        `json:"id"`
	Point models.Point `json:"point"`
	Value interface{}  `json:"value,omitempty"`
}

// Neighbor is a Candidate with its distance from the query origin in feet.
type Neighbor struct {
	Candidate
	Distance float64 `json:"distance"`
}

// PointSource lists the active points of a kind inside box. For users
// that is the latest fix of every casting principal.
type PointSource interface {
	Candidates(ctx context.Context, kind Kind, box Box) ([]Candidate, error)
}

// Engine answers nearby queries.
type Engine struct {
	source PointSource
}

func NewEngine(source PointSource) *Engine {
	return &Engine{source: source}
}

// Nearby returns every entity of kind within radius feet of origin,
// nearest first, ties broken by id.
func (e *Engine) Nearby(ctx context.Context, origin models.Point, radius float64, kind Kind) ([]Neighbor, error) {
	if err := CheckPoint(origin); err != nil {
		return nil, err
	}
	if radius < 0 || radius != radius {
		return nil, apperr.E(apperr.InvalidGeometry, "radius must be a non-negative number")
	}
	if kind != KindUsers && kind != KindTellzones {
		return nil, apperr.E(apperr.Invalid, "unknown kind %q", kind)
	}
	defer observeSince("nearby_"+string(kind), time.Now())

	box := BoundingBox(origin, radius)
	candidates, err := e.source.Candidates(ctx, kind, box)
	if err != nil {
		return nil, fmt.Errorf("geo: nearby %s: %w", kind, err)
	}

	out := make([]Neighbor, 0, len(candidates))
	for _, c := range candidates {
		if !c.Point.Finite() {
			continue
		}
		d := Haversine(origin, c.Point)
		if d <= radius {
			out = append(out, Neighbor{Candidate: c, Distance: d})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
