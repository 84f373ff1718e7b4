package classify

import (
	"math"
	"math/rand"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// ErrNotBimodal is returned by TransferCutoff when the reference
// distribution does not show two modes inside the search interval. The
// original workflow assumed bimodality without checking; here a failed
// assumption is an explicit error, since the located "minimum" of a
// unimodal density is meaningless as a threshold.
var ErrNotBimodal = errors.New("reference score distribution is not bimodal inside the search interval")

// kde is a Gaussian kernel density estimate over a fixed sample.
type kde struct {
	xs []float64
	h  float64
}

const invSqrt2Pi = 0.3989422804014327

func newKDE(samples []float64, bandwidth float64) kde {
	if bandwidth <= 0 {
		bandwidth = silverman(samples)
	}
	return kde{xs: samples, h: bandwidth}
}

func (k kde) at(x float64) float64 {
	sum := 0.0
	for _, xi := range k.xs {
		u := (x - xi) / k.h
		sum += math.Exp(-0.5 * u * u)
	}
	return sum * invSqrt2Pi / (float64(len(k.xs)) * k.h)
}

// silverman computes the rule-of-thumb bandwidth
// 0.9 * min(sd, IQR/1.34) * n^(-1/5).
func silverman(samples []float64) float64 {
	n := float64(len(samples))
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	sd := stat.StdDev(sorted, nil)
	iqr := stat.Quantile(0.75, stat.Empirical, sorted, nil) -
		stat.Quantile(0.25, stat.Empirical, sorted, nil)
	spread := sd
	if v := iqr / 1.34; v > 0 && v < spread {
		spread = v
	}
	if spread <= 0 {
		spread = 1
	}
	return 0.9 * spread * math.Pow(n, -0.2)
}

// TransferCutoff derives a scalar classification cutoff from a
// reference sample whose raw marker-expression sums separate into a
// low (normal) and a high (tumor) mode. It estimates the density of
// refSums, locates the two dominant modes inside the
// [SearchLow, SearchHigh] quantile interval, and returns the position
// of the density minimum between them. The cutoff is then applied to a
// query sample's raw sums with ByCutoff.
func TransferCutoff(refSums []float64, opts Opts, stats *Stats) (float64, error) {
	if len(refSums) < 4 {
		return 0, errors.Errorf("reference has %d cells, too few for density estimation", len(refSums))
	}
	samples := refSums
	if opts.MaxCells > 0 && len(samples) > opts.MaxCells {
		samples = subsample(samples, opts.MaxCells, opts.Seed)
		if stats != nil {
			stats.Subsampled += len(refSums) - len(samples)
		}
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	lo := stat.Quantile(clampQ(opts.SearchLow), stat.Empirical, sorted, nil)
	hi := stat.Quantile(clampQ(opts.SearchHigh), stat.Empirical, sorted, nil)
	if !(hi > lo) {
		return 0, ErrNotBimodal
	}

	grid := opts.GridPoints
	if grid < 16 {
		grid = DefaultOpts.GridPoints
	}
	k := newKDE(samples, opts.Bandwidth)
	xs := make([]float64, grid)
	ds := make([]float64, grid)
	step := (hi - lo) / float64(grid-1)
	for i := range xs {
		xs[i] = lo + float64(i)*step
		ds[i] = k.at(xs[i])
	}

	modes := localMaxima(ds)
	// Tiny tail bumps are estimation noise, not modes.
	peak := 0.0
	for _, d := range ds {
		if d > peak {
			peak = d
		}
	}
	filtered := modes[:0]
	for _, i := range modes {
		if ds[i] >= modeFloorFraction*peak {
			filtered = append(filtered, i)
		}
	}
	modes = filtered
	if len(modes) < 2 {
		return 0, ErrNotBimodal
	}
	// Keep the two modes with the highest density, in x order.
	sort.Slice(modes, func(a, b int) bool { return ds[modes[a]] > ds[modes[b]] })
	m1, m2 := modes[0], modes[1]
	if m1 > m2 {
		m1, m2 = m2, m1
	}
	// A shoulder on a single peak is not bimodality: the density must
	// genuinely dip between the two candidate modes.
	valley := ds[m1]
	for i := m1; i <= m2; i++ {
		if ds[i] < valley {
			valley = ds[i]
		}
	}
	smaller := ds[m1]
	if ds[m2] < smaller {
		smaller = ds[m2]
	}
	if valley >= valleyDipFraction*smaller {
		return 0, ErrNotBimodal
	}
	cutoff := goldenMin(k.at, xs[m1], xs[m2])
	return cutoff, nil
}

const (
	// modeFloorFraction is the minimum density of a candidate mode,
	// relative to the global peak.
	modeFloorFraction = 0.05
	// valleyDipFraction is how far the density must drop between two
	// candidate modes, relative to the smaller mode.
	valleyDipFraction = 0.95
)

func clampQ(q float64) float64 {
	if q < 0 {
		return 0
	}
	if q > 1 {
		return 1
	}
	return q
}

// localMaxima returns the indices of strict-left, weak-right local
// maxima of ds, excluding the interval endpoints.
func localMaxima(ds []float64) []int {
	var out []int
	for i := 1; i < len(ds)-1; i++ {
		if ds[i] > ds[i-1] && ds[i] >= ds[i+1] {
			out = append(out, i)
			// Skip the rest of a plateau.
			for i < len(ds)-1 && ds[i] == ds[i+1] {
				i++
			}
		}
	}
	return out
}

const goldenRatio = 0.6180339887498949

// goldenMin minimizes f on [a, b] by golden-section search. The density
// between two modes is close enough to unimodal for this to converge to
// the valley.
func goldenMin(f func(float64) float64, a, b float64) float64 {
	tol := (b - a) * 1e-6
	c := b - goldenRatio*(b-a)
	d := a + goldenRatio*(b-a)
	fc, fd := f(c), f(d)
	for b-a > tol {
		if fc < fd {
			b, d, fd = d, c, fc
			c = b - goldenRatio*(b-a)
			fc = f(c)
		} else {
			a, c, fc = c, d, fd
			d = a + goldenRatio*(b-a)
			fd = f(d)
		}
	}
	return (a + b) / 2
}

// subsample picks n elements of xs without replacement, reproducibly
// for a given seed.
func subsample(xs []float64, n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(len(xs))
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = xs[perm[i]]
	}
	return out
}
