package analysis

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Stats describes how delta magnitude is spread over token distance.
type Stats struct {
	TotalMass    float64
	Centrality   float64 // share of mass within the centrality radius
	DecayLength  int     // smallest distance holding half of the mass
	MeanDistance float64 // mass-weighted mean token distance
	DecayCorr    float64 // Spearman correlation of distance and mean magnitude
}

// Profile folds delta magnitude by distance from the variant token. The
// magnitude of a key position is its absolute delta averaged over layers
// and heads. mass[d] sums magnitudes of positions at distance d and mean[d]
// averages them. Special tokens are skipped.
func Profile(deltas []Delta) (mass, mean []float64) {
	type pos struct {
		sum  float64
		n    int
		dist int
	}
	byPos := make(map[int]*pos)
	for _, d := range deltas {
		if d.Distance < 0 {
			continue
		}
		p, ok := byPos[d.Position]
		if !ok {
			p = &pos{dist: d.Distance}
			byPos[d.Position] = p
		}
		p.sum += d.AbsDelta
		p.n++
	}

	maxDist := -1
	for _, p := range byPos {
		if p.dist > maxDist {
			maxDist = p.dist
		}
	}
	mass = make([]float64, maxDist+1)
	count := make([]int, maxDist+1)
	for _, p := range byPos {
		mass[p.dist] += p.sum / float64(p.n)
		count[p.dist]++
	}
	mean = make([]float64, len(mass))
	for d := range mass {
		if count[d] > 0 {
			mean[d] = mass[d] / float64(count[d])
		}
	}
	return mass, mean
}

// Measure computes distance statistics for deltas. ok is false when the
// deltas carry no mass, in which case the statistics are undefined.
func Measure(deltas []Delta, radius int) (s Stats, ok bool) {
	mass, mean := Profile(deltas)
	for _, m := range mass {
		s.TotalMass += m
	}
	if s.TotalMass <= 0 {
		return Stats{}, false
	}

	half := s.TotalMass / 2
	var cum, within, weighted float64
	s.DecayLength = -1
	for d, m := range mass {
		cum += m
		if d <= radius {
			within += m
		}
		weighted += float64(d) * m
		if s.DecayLength < 0 && cum >= half {
			s.DecayLength = d
		}
	}
	if s.DecayLength < 0 {
		s.DecayLength = len(mass) - 1
	}
	s.Centrality = within / s.TotalMass
	s.MeanDistance = weighted / s.TotalMass
	s.DecayCorr = decayCorrelation(mass, mean)
	return s, true
}

// decayCorrelation ranks distances present in the profile against their
// mean magnitude.
func decayCorrelation(mass, mean []float64) float64 {
	var xs, ys []float64
	for d := range mass {
		xs = append(xs, float64(d))
		ys = append(ys, mean[d])
	}
	return Spearman(xs, ys)
}

// Spearman is the rank correlation of x and y with average ranks for ties.
// It is 0 when either side is constant or shorter than two.
func Spearman(x, y []float64) float64 {
	if len(x) < 2 || len(x) != len(y) {
		return 0
	}
	rx, ry := ranks(x), ranks(y)
	if stat.Variance(rx, nil) == 0 || stat.Variance(ry, nil) == 0 {
		return 0
	}
	return stat.Correlation(rx, ry, nil)
}

func ranks(v []float64) []float64 {
	idx := make([]int, len(v))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return v[idx[a]] < v[idx[b]] })

	r := make([]float64, len(v))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && v[idx[j+1]] == v[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			r[idx[k]] = avg
		}
		i = j + 1
	}
	return r
}
