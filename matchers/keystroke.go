package matchers

import (
	"context"
	"encoding/binary"
	"errors"
	"math"

	goMFA "github.com/MrEthical07/goMFA"
)

// ErrTimingMismatch is returned when a candidate sample has a different
// number of holds or flights than the template.
var ErrTimingMismatch = errors.New("matchers: keystroke timing shape mismatch")

// TimingMatcher scores keystroke dynamics by relative deviation from the mean
// timing profile. The template holds per-key mean hold durations and per-gap
// mean flight times; a candidate scores high when its timings stay close to
// those means in proportion to their magnitude.
//
// TimingMatcher instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TimingMatcher struct{}

// NewTimingMatcher describes the newtimingmatcher operation and its observable behavior.
//
// NewTimingMatcher may return an error when input validation, dependency calls, or security checks fail.
// NewTimingMatcher does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewTimingMatcher() *TimingMatcher {
	return &TimingMatcher{}
}

const timingFormatVersion = 1

func encodeTiming(holds, flights []float64) []byte {
	out := make([]byte, 0, 1+4+4+(len(holds)+len(flights))*8)
	out = append(out, timingFormatVersion)

	var lens [8]byte
	binary.BigEndian.PutUint32(lens[0:], uint32(len(holds)))
	binary.BigEndian.PutUint32(lens[4:], uint32(len(flights)))
	out = append(out, lens[:]...)

	out = append(out, encodeVector(holds)...)
	out = append(out, encodeVector(flights)...)
	return out
}

func decodeTiming(data []byte) (holds, flights []float64, err error) {
	if len(data) < 9 || data[0] != timingFormatVersion {
		return nil, nil, ErrVectorMalformed
	}
	holdCount := binary.BigEndian.Uint32(data[1:5])
	flightCount := binary.BigEndian.Uint32(data[5:9])

	body := data[9:]
	if uint32(len(body)) != (holdCount+flightCount)*8 {
		return nil, nil, ErrVectorMalformed
	}

	holds, err = decodeVector(body[:holdCount*8])
	if err != nil {
		return nil, nil, err
	}
	if flightCount > 0 {
		flights, err = decodeVector(body[holdCount*8:])
		if err != nil {
			return nil, nil, err
		}
	}
	return holds, flights, nil
}

// Enroll averages the timing samples into a mean profile. Every sample must
// have the same shape as the first.
//
// Enroll may return an error when input validation, dependency calls, or security checks fail.
// Enroll does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *TimingMatcher) Enroll(ctx context.Context, samples []goMFA.KeystrokeSample) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}

	holdCount := len(samples[0].Holds)
	flightCount := len(samples[0].Flights)
	if holdCount == 0 {
		return nil, ErrTimingMismatch
	}

	meanHolds := make([]float64, holdCount)
	meanFlights := make([]float64, flightCount)
	for _, sample := range samples {
		if len(sample.Holds) != holdCount || len(sample.Flights) != flightCount {
			return nil, ErrTimingMismatch
		}
		for i, v := range sample.Holds {
			meanHolds[i] += v
		}
		for i, v := range sample.Flights {
			meanFlights[i] += v
		}
	}
	for i := range meanHolds {
		meanHolds[i] /= float64(len(samples))
	}
	for i := range meanFlights {
		meanFlights[i] /= float64(len(samples))
	}

	return encodeTiming(meanHolds, meanFlights), nil
}

// Compare scores a candidate against the mean profile. The mean relative
// deviation across all timings is folded into [0,1]; a perfectly matching
// rhythm scores 1, deviations at or beyond the timing magnitude score 0.
//
// Compare may return an error when input validation, dependency calls, or security checks fail.
// Compare does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *TimingMatcher) Compare(ctx context.Context, template []byte, sample goMFA.KeystrokeSample) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	meanHolds, meanFlights, err := decodeTiming(template)
	if err != nil {
		return 0, err
	}
	if len(sample.Holds) != len(meanHolds) || len(sample.Flights) != len(meanFlights) {
		return 0, ErrTimingMismatch
	}

	var deviation float64
	var count int
	for i, mean := range meanHolds {
		deviation += relativeDeviation(sample.Holds[i], mean)
		count++
	}
	for i, mean := range meanFlights {
		deviation += relativeDeviation(sample.Flights[i], mean)
		count++
	}
	if count == 0 {
		return 0, ErrTimingMismatch
	}

	score := 1 - deviation/float64(count)
	if score < 0 {
		score = 0
	}
	return score, nil
}

func relativeDeviation(value, mean float64) float64 {
	if mean <= 0 {
		if value <= 0 {
			return 0
		}
		return 1
	}
	dev := math.Abs(value-mean) / mean
	if dev > 1 {
		dev = 1
	}
	return dev
}
