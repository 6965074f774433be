package matchers

import "context"

// CosineMatcher scores embedding vectors by cosine similarity. The raw cosine
// in [-1,1] is mapped linearly onto [0,1] so thresholds stay in score space.
//
// CosineMatcher instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CosineMatcher struct{}

// NewCosineMatcher describes the newcosinematcher operation and its observable behavior.
//
// NewCosineMatcher may return an error when input validation, dependency calls, or security checks fail.
// NewCosineMatcher does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewCosineMatcher() *CosineMatcher {
	return &CosineMatcher{}
}

// Enroll averages the sample embeddings into a single centroid template.
//
// Enroll may return an error when input validation, dependency calls, or security checks fail.
// Enroll does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *CosineMatcher) Enroll(ctx context.Context, samples [][]byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}

	vectors := make([][]float64, 0, len(samples))
	for _, sample := range samples {
		vec, err := decodeVector(sample)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vec)
	}

	centroid, err := meanVector(vectors)
	if err != nil {
		return nil, err
	}
	return encodeVector(centroid), nil
}

// Compare scores the candidate embedding against the stored centroid.
//
// Compare may return an error when input validation, dependency calls, or security checks fail.
// Compare does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *CosineMatcher) Compare(ctx context.Context, template []byte, sample []byte) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	templateVec, err := decodeVector(template)
	if err != nil {
		return 0, err
	}
	sampleVec, err := decodeVector(sample)
	if err != nil {
		return 0, err
	}

	cos, err := cosine(templateVec, sampleVec)
	if err != nil {
		return 0, err
	}
	return (cos + 1) / 2, nil
}
