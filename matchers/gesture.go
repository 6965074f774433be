package matchers

import (
	"context"
	"errors"
	"math"

	goMFA "github.com/MrEthical07/goMFA"
)

// ErrTraceTooShort is returned when a gesture trace has fewer than two points.
var ErrTraceTooShort = errors.New("matchers: gesture trace too short")

// gestureResamplePoints is the fixed trace length templates are normalized
// to. Resampling makes traces comparable regardless of capture rate.
const gestureResamplePoints = 32

// TraceMatcher scores gesture traces by normalized point-wise distance. Each
// trace is translated to its centroid, scaled to unit radius, and resampled
// to a fixed number of points before comparison, so position, size, and
// drawing speed do not affect the score.
//
// TraceMatcher instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TraceMatcher struct{}

// NewTraceMatcher describes the newtracematcher operation and its observable behavior.
//
// NewTraceMatcher may return an error when input validation, dependency calls, or security checks fail.
// NewTraceMatcher does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewTraceMatcher() *TraceMatcher {
	return &TraceMatcher{}
}

type point struct{ x, y float64 }

func normalizeTrace(pts []point) ([]point, error) {
	if len(pts) < 2 {
		return nil, ErrTraceTooShort
	}

	var cx, cy float64
	for _, p := range pts {
		cx += p.x
		cy += p.y
	}
	cx /= float64(len(pts))
	cy /= float64(len(pts))

	var radius float64
	centered := make([]point, len(pts))
	for i, p := range pts {
		centered[i] = point{p.x - cx, p.y - cy}
		if r := math.Hypot(centered[i].x, centered[i].y); r > radius {
			radius = r
		}
	}
	if radius == 0 {
		return nil, ErrTraceTooShort
	}
	for i := range centered {
		centered[i].x /= radius
		centered[i].y /= radius
	}

	return resampleTrace(centered, gestureResamplePoints), nil
}

// resampleTrace redistributes the trace to n points spaced evenly along its
// arc length.
func resampleTrace(pts []point, n int) []point {
	total := 0.0
	for i := 1; i < len(pts); i++ {
		total += math.Hypot(pts[i].x-pts[i-1].x, pts[i].y-pts[i-1].y)
	}
	if total == 0 {
		out := make([]point, n)
		for i := range out {
			out[i] = pts[0]
		}
		return out
	}

	step := total / float64(n-1)
	out := make([]point, 0, n)
	out = append(out, pts[0])

	accumulated := 0.0
	prev := pts[0]
	for i := 1; i < len(pts) && len(out) < n; {
		segment := math.Hypot(pts[i].x-prev.x, pts[i].y-prev.y)
		if accumulated+segment >= step && segment > 0 {
			ratio := (step - accumulated) / segment
			mid := point{
				x: prev.x + ratio*(pts[i].x-prev.x),
				y: prev.y + ratio*(pts[i].y-prev.y),
			}
			out = append(out, mid)
			prev = mid
			accumulated = 0
			continue
		}
		accumulated += segment
		prev = pts[i]
		i++
	}
	for len(out) < n {
		out = append(out, pts[len(pts)-1])
	}
	return out
}

func encodeTrace(pts []point) []byte {
	flat := make([]float64, 0, len(pts)*2)
	for _, p := range pts {
		flat = append(flat, p.x, p.y)
	}
	return encodeVector(flat)
}

func decodeTrace(data []byte) ([]point, error) {
	flat, err := decodeVector(data)
	if err != nil {
		return nil, err
	}
	if len(flat)%2 != 0 {
		return nil, ErrVectorMalformed
	}
	pts := make([]point, len(flat)/2)
	for i := range pts {
		pts[i] = point{flat[i*2], flat[i*2+1]}
	}
	return pts, nil
}

func toPoints(sample []goMFA.GesturePoint) []point {
	pts := make([]point, len(sample))
	for i, gp := range sample {
		pts[i] = point{gp.X, gp.Y}
	}
	return pts
}

// Enroll normalizes every sample trace and averages them point-wise into the
// stored template.
//
// Enroll may return an error when input validation, dependency calls, or security checks fail.
// Enroll does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *TraceMatcher) Enroll(ctx context.Context, samples [][]goMFA.GesturePoint) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}

	mean := make([]point, gestureResamplePoints)
	for _, sample := range samples {
		normalized, err := normalizeTrace(toPoints(sample))
		if err != nil {
			return nil, err
		}
		for i, p := range normalized {
			mean[i].x += p.x
			mean[i].y += p.y
		}
	}
	for i := range mean {
		mean[i].x /= float64(len(samples))
		mean[i].y /= float64(len(samples))
	}

	return encodeTrace(mean), nil
}

// Compare scores a candidate trace against the template. The mean point-wise
// distance in normalized space is folded into [0,1]; identical traces score 1.
//
// Compare may return an error when input validation, dependency calls, or security checks fail.
// Compare does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *TraceMatcher) Compare(ctx context.Context, template []byte, sample []goMFA.GesturePoint) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	templatePts, err := decodeTrace(template)
	if err != nil {
		return 0, err
	}

	normalized, err := normalizeTrace(toPoints(sample))
	if err != nil {
		return 0, err
	}
	if len(normalized) != len(templatePts) {
		return 0, ErrVectorDimension
	}

	var total float64
	for i := range templatePts {
		total += math.Hypot(normalized[i].x-templatePts[i].x, normalized[i].y-templatePts[i].y)
	}
	mean := total / float64(len(templatePts))

	score := 1 - mean
	if score < 0 {
		score = 0
	}
	return score, nil
}
