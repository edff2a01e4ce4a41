// Package pixelspread measures how far apart two price series would look when
// drawn on the same fixed-height chart scaled to the z-score range.
package pixelspread

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/sawpanic/pairsrun/internal/marketdata"
)

// ChartHeight is the rendered chart height in pixels
const ChartHeight = 720.0

var (
	ErrNoZRange    = errors.New("z-score history has no usable range")
	ErrEmptySeries = errors.New("price series is empty")
)

// Sample is the pixel distance between the two series at one timestamp
type Sample struct {
	Time   time.Time
	Pixels float64
}

// Stats summarizes a sample history
type Stats struct {
	Average float64 `json:"average"`
	Max     float64 `json:"max"`
	Min     float64 `json:"min"`
	Current float64 `json:"current"`
	StdDev  float64 `json:"std_dev"`
	Count   int     `json:"count"`
}

type point struct {
	t time.Time
	v float64
}

// Compute returns one sample per timestamp in the union of both series.
// zHistory fixes the vertical value range; each series is rescaled into that
// range using its own min and max close.
func Compute(zHistory []float64, long, short []marketdata.Candle) ([]Sample, error) {
	minZ, maxZ, ok := zRange(zHistory)
	if !ok {
		return nil, ErrNoZRange
	}
	if len(long) == 0 || len(short) == 0 {
		return nil, ErrEmptySeries
	}

	a := rescale(long, minZ, maxZ)
	b := rescale(short, minZ, maxZ)

	stamps := unionTimes(a, b)
	out := make([]Sample, 0, len(stamps))
	for _, ts := range stamps {
		ya := toPixel(nearest(a, ts), minZ, maxZ)
		yb := toPixel(nearest(b, ts), minZ, maxZ)
		out = append(out, Sample{Time: ts, Pixels: math.Abs(ya - yb)})
	}
	return out, nil
}

// Summarize computes average, extremes, last value and population standard deviation
func Summarize(samples []Sample) Stats {
	if len(samples) == 0 {
		return Stats{}
	}
	s := Stats{
		Max:     samples[0].Pixels,
		Min:     samples[0].Pixels,
		Current: samples[len(samples)-1].Pixels,
		Count:   len(samples),
	}
	var sum float64
	for _, p := range samples {
		sum += p.Pixels
		if p.Pixels > s.Max {
			s.Max = p.Pixels
		}
		if p.Pixels < s.Min {
			s.Min = p.Pixels
		}
	}
	s.Average = sum / float64(len(samples))

	var sq float64
	for _, p := range samples {
		d := p.Pixels - s.Average
		sq += d * d
	}
	s.StdDev = math.Sqrt(sq / float64(len(samples)))
	return s
}

// Ratio maps an average spread to a quality fraction in [0, 1]. Small spreads
// carry little signal, the middle band is best, and very wide spreads decay
// because they tend to be outliers.
func Ratio(avg float64) float64 {
	third := ChartHeight / 3
	switch {
	case math.IsNaN(avg) || avg < 0 || avg > ChartHeight:
		return 0
	case avg <= third:
		return 0.10 + avg/third*0.50
	case avg <= 2*third:
		return 0.60 + (avg-third)/third*0.40
	default:
		return 1.00 - (avg-2*third)/third*0.70
	}
}

func zRange(z []float64) (float64, float64, bool) {
	minZ, maxZ := math.Inf(1), math.Inf(-1)
	for _, v := range z {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		minZ = math.Min(minZ, v)
		maxZ = math.Max(maxZ, v)
	}
	if math.IsInf(minZ, 0) || maxZ-minZ <= 0 {
		return 0, 0, false
	}
	return minZ, maxZ, true
}

func rescale(c []marketdata.Candle, minZ, maxZ float64) []point {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, k := range c {
		lo = math.Min(lo, k.Close)
		hi = math.Max(hi, k.Close)
	}
	out := make([]point, len(c))
	for i, k := range c {
		v := (minZ + maxZ) / 2
		if hi > lo {
			v = minZ + (k.Close-lo)/(hi-lo)*(maxZ-minZ)
		}
		out[i] = point{t: k.Time, v: v}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].t.Before(out[j].t) })
	return out
}

func unionTimes(a, b []point) []time.Time {
	seen := make(map[int64]struct{}, len(a)+len(b))
	out := make([]time.Time, 0, len(a)+len(b))
	for _, s := range [][]point{a, b} {
		for _, p := range s {
			k := p.t.UnixNano()
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, p.t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// nearest returns the value closest in time to ts; ties go to the earlier point
func nearest(s []point, ts time.Time) float64 {
	i := sort.Search(len(s), func(i int) bool { return !s[i].t.Before(ts) })
	switch {
	case i == 0:
		return s[0].v
	case i == len(s):
		return s[len(s)-1].v
	}
	before, after := s[i-1], s[i]
	if after.t.Sub(ts) < ts.Sub(before.t) {
		return after.v
	}
	return before.v
}

// toPixel maps a value in [minZ, maxZ] to a Y coordinate; larger values sit higher (smaller Y)
func toPixel(v, minZ, maxZ float64) float64 {
	return (maxZ - v) / (maxZ - minZ) * ChartHeight
}
