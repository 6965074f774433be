package matchers

import (
	"encoding/binary"
	"errors"
	"math"
)

var (
	// ErrVectorMalformed is returned when an embedding blob is not a whole
	// number of float64 values.
	ErrVectorMalformed = errors.New("matchers: malformed embedding vector")
	// ErrVectorDimension is returned when two vectors disagree on length.
	ErrVectorDimension = errors.New("matchers: embedding dimension mismatch")
	// ErrNoSamples is returned when enrollment receives no usable samples.
	ErrNoSamples = errors.New("matchers: no samples provided")
)

// Embeddings travel as big-endian float64 sequences. No header: the length
// must be a multiple of 8.
func decodeVector(data []byte) ([]float64, error) {
	if len(data) == 0 || len(data)%8 != 0 {
		return nil, ErrVectorMalformed
	}

	vec := make([]float64, len(data)/8)
	for i := range vec {
		bits := binary.BigEndian.Uint64(data[i*8:])
		vec[i] = math.Float64frombits(bits)
		if math.IsNaN(vec[i]) || math.IsInf(vec[i], 0) {
			return nil, ErrVectorMalformed
		}
	}
	return vec, nil
}

func encodeVector(vec []float64) []byte {
	out := make([]byte, len(vec)*8)
	for i, v := range vec {
		binary.BigEndian.PutUint64(out[i*8:], math.Float64bits(v))
	}
	return out
}

// meanVector averages same-dimension vectors element-wise.
func meanVector(vectors [][]float64) ([]float64, error) {
	if len(vectors) == 0 {
		return nil, ErrNoSamples
	}
	dim := len(vectors[0])
	mean := make([]float64, dim)
	for _, vec := range vectors {
		if len(vec) != dim {
			return nil, ErrVectorDimension
		}
		for i, v := range vec {
			mean[i] += v
		}
	}
	for i := range mean {
		mean[i] /= float64(len(vectors))
	}
	return mean, nil
}

// cosine returns the cosine of the angle between a and b, or 0 when either
// vector has zero magnitude.
func cosine(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrVectorDimension
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
