package geo

import (
	"time"

	"github.com/5l1v3r1/tellecast-sub000/internal/models"
	"github.com/5l1v3r1/tellecast-sub000/internal/observability"
	"github.com/5l1v3r1/tellecast-sub000/pkg/apperr"
)

const (
	// ClusterEps is the neighbourhood radius in feet.
	ClusterEps = 10.0
	// ClusterMinSamples of 1 makes every point a core point, so nothing is noise.
	ClusterMinSamples = 1

	// MaxClusterItems bounds one GetClusters call; the distance matrix is n².
	MaxClusterItems = 1000

	// Noise labels points that belong to no cluster.
	Noise = -1
)

// Item pairs an entity with its location.
type Item[T any] struct {
	Entity T
	Point  models.Point
}

// DBSCAN labels each row of a precomputed distance matrix. Two points are
// neighbours when their distance is <= eps; a point is a core point when
// it has at least minSamples neighbours counting itself. Labels start at
// 0 in order of first appearance.
func DBSCAN(dist [][]float64, eps float64, minSamples int) []int {
	labels, _ := dbscan(dist, eps, minSamples)
	return labels
}

// dbscan also reports how many points entered a seed queue. Each point is
// queued at most once per cluster expansion.
func dbscan(dist [][]float64, eps float64, minSamples int) ([]int, int) {
	n := len(dist)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = Noise
	}
	visited := make([]bool, n)
	queued := make([]bool, n)
	total := 0

	neighbours := func(i int) []int {
		var out []int
		for j := 0; j < n; j++ {
			if dist[i][j] <= eps {
				out = append(out, j)
			}
		}
		return out
	}

	cluster := 0
	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true
		candidates := neighbours(i)
		if len(candidates) < minSamples {
			continue
		}

		var seeds []int
		enqueue := func(points []int) {
			for _, j := range points {
				if !queued[j] {
					queued[j] = true
					seeds = append(seeds, j)
				}
			}
		}
		enqueue(candidates)

		labels[i] = cluster
		for k := 0; k < len(seeds); k++ {
			j := seeds[k]
			if labels[j] == Noise {
				labels[j] = cluster
			}
			if visited[j] {
				continue
			}
			visited[j] = true
			if more := neighbours(j); len(more) >= minSamples {
				enqueue(more)
			}
		}
		total += len(seeds)
		cluster++
	}
	return labels, total
}

// GetClusters groups items whose points lie within ClusterEps feet of
// each other (transitively). Clusters are returned in order of their
// first member; members keep input order.
func GetClusters[T any](items []Item[T]) ([][]Item[T], error) {
	if len(items) == 0 {
		return [][]Item[T]{}, nil
	}
	if len(items) > MaxClusterItems {
		return nil, apperr.E(apperr.Invalid, "at most %d points per request", MaxClusterItems)
	}
	defer observeSince("clusters", time.Now())

	points := make([]models.Point, len(items))
	for i, item := range items {
		if err := CheckPoint(item.Point); err != nil {
			return nil, err
		}
		points[i] = item.Point
	}

	labels := DBSCAN(DistanceMatrix(points), ClusterEps, ClusterMinSamples)

	var clusters [][]Item[T]
	index := map[int]int{}
	for i, label := range labels {
		if label == Noise {
			continue
		}
		pos, ok := index[label]
		if !ok {
			pos = len(clusters)
			index[label] = pos
			clusters = append(clusters, nil)
		}
		clusters[pos] = append(clusters[pos], items[i])
	}
	return clusters, nil
}

func observeSince(operation string, start time.Time) {
	observability.ProximityQueries.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
