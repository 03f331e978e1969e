package detection

import (
	"math"
	"sort"
)

const floatEpsilon = 1e-12

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stdDev is the population standard deviation.
func stdDev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var acc float64
	for _, x := range xs {
		d := x - m
		acc += d * d
	}
	return math.Sqrt(acc / float64(len(xs)))
}

// pearson returns the correlation coefficient of two equal-length series.
// Two identical constant series correlate perfectly; a constant series
// against a varying one has no defined correlation and yields zero.
func pearson(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	ma, mb := mean(a), mean(b)
	var cov, va, vb float64
	for i := range a {
		da := a[i] - ma
		db := b[i] - mb
		cov += da * db
		va += da * da
		vb += db * db
	}
	if va < floatEpsilon || vb < floatEpsilon {
		if va < floatEpsilon && vb < floatEpsilon && math.Abs(ma-mb) < floatEpsilon {
			return 1
		}
		return 0
	}
	r := cov / math.Sqrt(va*vb)
	return math.Max(-1, math.Min(1, r))
}

type point struct {
	id   string
	x, y float64
}

func distance(a, b point) float64 {
	return math.Hypot(a.x-b.x, a.y-b.y)
}

// dbscan labels points with a cluster index, or -1 for noise. minPts counts
// the point itself. Points must be supplied in a stable order for the labels
// to be reproducible.
func dbscan(points []point, eps float64, minPts int) []int {
	const (
		unvisited = -2
		noise     = -1
	)
	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = unvisited
	}

	neighbours := func(i int) []int {
		var out []int
		for j := range points {
			if distance(points[i], points[j]) <= eps {
				out = append(out, j)
			}
		}
		return out
	}

	cluster := 0
	for i := range points {
		if labels[i] != unvisited {
			continue
		}
		seeds := neighbours(i)
		if len(seeds) < minPts {
			labels[i] = noise
			continue
		}
		labels[i] = cluster
		queue := append([]int(nil), seeds...)
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]
			if labels[j] == noise {
				labels[j] = cluster
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = cluster
			if next := neighbours(j); len(next) >= minPts {
				queue = append(queue, next...)
			}
		}
		cluster++
	}
	return labels
}

// groupLabels turns dbscan labels into member id lists keyed by cluster.
func groupLabels(points []point, labels []int) [][]string {
	byLabel := make(map[int][]string)
	for i, l := range labels {
		if l < 0 {
			continue
		}
		byLabel[l] = append(byLabel[l], points[i].id)
	}
	keys := make([]int, 0, len(byLabel))
	for l := range byLabel {
		keys = append(keys, l)
	}
	sort.Ints(keys)
	out := make([][]string, 0, len(keys))
	for _, l := range keys {
		out = append(out, byLabel[l])
	}
	return out
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
