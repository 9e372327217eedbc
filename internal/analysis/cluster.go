package analysis

import (
	"math"
	"sort"
)

const (
	noise     = -1
	unvisited = -2
)

// dbscan labels each vector with a cluster id, or noise. Distance is
// cosine distance; minSamples counts the point itself.
func dbscan(vecs [][]float32, eps float64, minSamples int) []int {
	labels, _ := dbscanLabels(normalizeAll(vecs), eps, minSamples)
	return labels
}

// dbscanLabels runs DBSCAN over unit vectors. It also returns how many
// region queries ran; each point is queried at most once.
func dbscanLabels(unit [][]float64, eps float64, minSamples int) ([]int, int) {
	n := len(unit)
	queries := 0
	neighbors := func(i int) []int {
		queries++
		var out []int
		for j := 0; j < n; j++ {
			if cosineDistance(unit[i], unit[j]) <= eps {
				out = append(out, j)
			}
		}
		return out
	}

	labels := make([]int, n)
	for i := range labels {
		labels[i] = unvisited
	}
	queued := make([]bool, n)

	next := 0
	for i := 0; i < n; i++ {
		if labels[i] != unvisited {
			continue
		}
		seeds := neighbors(i)
		if len(seeds) < minSamples {
			labels[i] = noise
			continue
		}

		id := next
		next++
		labels[i] = id
		queued[i] = true

		var queue []int
		enqueue := func(js []int) {
			for _, j := range js {
				if queued[j] || (labels[j] != unvisited && labels[j] != noise) {
					continue
				}
				queued[j] = true
				queue = append(queue, j)
			}
		}
		enqueue(seeds)
		for k := 0; k < len(queue); k++ {
			j := queue[k]
			if labels[j] == noise {
				// Border point reached from a core point.
				labels[j] = id
				continue
			}
			labels[j] = id
			if more := neighbors(j); len(more) >= minSamples {
				enqueue(more)
			}
		}
	}
	return labels, queries
}

// cluster is a group of document indexes.
type cluster struct {
	ID       int
	Members  []int
	Cohesion float64
}

// groupClusters collects non-noise labels into clusters sorted by size
// descending, ties by id.
func groupClusters(labels []int, vecs [][]float32) []cluster {
	byID := make(map[int][]int)
	for i, l := range labels {
		if l >= 0 {
			byID[l] = append(byID[l], i)
		}
	}
	unit := normalizeAll(vecs)
	out := make([]cluster, 0, len(byID))
	for id, members := range byID {
		out = append(out, cluster{ID: id, Members: members, Cohesion: cohesion(unit, members)})
	}
	sort.Slice(out, func(a, b int) bool {
		if len(out[a].Members) != len(out[b].Members) {
			return len(out[a].Members) > len(out[b].Members)
		}
		return out[a].ID < out[b].ID
	})
	return out
}

// cohesion is the mean cosine similarity of members to their centroid,
// in [0,1].
func cohesion(unit [][]float64, members []int) float64 {
	if len(members) == 0 {
		return 0
	}
	dim := len(unit[members[0]])
	centroid := make([]float64, dim)
	for _, m := range members {
		for d, v := range unit[m] {
			if d < dim {
				centroid[d] += v
			}
		}
	}
	centroid = normalize(centroid)
	var sum float64
	for _, m := range members {
		sum += dot(unit[m], centroid)
	}
	c := sum / float64(len(members))
	return math.Max(0, math.Min(1, c))
}

func normalizeAll(vecs [][]float32) [][]float64 {
	out := make([][]float64, len(vecs))
	for i, v := range vecs {
		f := make([]float64, len(v))
		for d, x := range v {
			f[d] = float64(x)
		}
		out[i] = normalize(f)
	}
	return out
}

func normalize(v []float64) []float64 {
	var sq float64
	for _, x := range v {
		sq += x * x
	}
	if sq == 0 {
		return v
	}
	n := math.Sqrt(sq)
	for i := range v {
		v[i] /= n
	}
	return v
}

func dot(a, b []float64) float64 {
	var s float64
	for i := 0; i < len(a) && i < len(b); i++ {
		s += a[i] * b[i]
	}
	return s
}

// cosineDistance expects unit vectors. A zero vector is maximally distant
// from everything, itself included.
func cosineDistance(a, b []float64) float64 {
	if isZero(a) || isZero(b) {
		return 2
	}
	return 1 - dot(a, b)
}

func isZero(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
