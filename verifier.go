package goMFA

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
)

// verifier dispatches biometric proofs to the registered matchers and applies
// the per-method confidence thresholds. TOTP and backup codes never pass
// through here; the engine verifies those itself.
type verifier struct {
	matchers Matchers
	config   VerifyConfig
}

func newVerifier(matchers Matchers, cfg VerifyConfig) *verifier {
	return &verifier{matchers: matchers, config: cfg}
}

// Verify scores the proof against the stored enrollment and returns the
// matcher confidence. A confidence below the configured threshold yields
// ErrVerificationFailed together with the score, so callers can still audit
// how close the attempt came.
func (v *verifier) Verify(ctx context.Context, enrollment *EnrollmentRecord, proof *MFAProof) (float64, error) {
	switch proof.Method {
	case MethodFace:
		return v.compareSimilarity(ctx, v.matchers.Face, v.config.FaceThreshold, enrollment.Template, proof.Sample)
	case MethodVoice:
		return v.compareSimilarity(ctx, v.matchers.Voice, v.config.VoiceThreshold, enrollment.Template, proof.Sample)
	case MethodGesture:
		return v.compareGesture(ctx, enrollment.Template, proof.Points)
	case MethodKeystroke:
		return v.compareKeystroke(ctx, enrollment, proof.Keystroke)
	default:
		return 0, ErrMethodNotAllowed
	}
}

func (v *verifier) compareSimilarity(ctx context.Context, matcher SimilarityMatcher, threshold float64, template, sample []byte) (float64, error) {
	if matcher == nil {
		return 0, ErrMatcherMissing
	}
	if len(sample) == 0 {
		return 0, ErrSampleInvalid
	}

	ctx, cancel := context.WithTimeout(ctx, v.config.MatcherTimeout)
	defer cancel()

	score, err := matcher.Compare(ctx, template, sample)
	if err != nil {
		return 0, v.mapMatcherError(err)
	}
	if score < threshold {
		return score, ErrVerificationFailed
	}
	return score, nil
}

func (v *verifier) compareGesture(ctx context.Context, template []byte, points []GesturePoint) (float64, error) {
	if v.matchers.Gesture == nil {
		return 0, ErrMatcherMissing
	}
	if len(points) < v.config.GestureMinPoints {
		return 0, fmt.Errorf("%w: need at least %d gesture points", ErrSampleInvalid, v.config.GestureMinPoints)
	}

	ctx, cancel := context.WithTimeout(ctx, v.config.MatcherTimeout)
	defer cancel()

	score, err := v.matchers.Gesture.Compare(ctx, template, points)
	if err != nil {
		return 0, v.mapMatcherError(err)
	}
	if score < v.config.GestureThreshold {
		return score, ErrVerificationFailed
	}
	return score, nil
}

func (v *verifier) compareKeystroke(ctx context.Context, enrollment *EnrollmentRecord, proof *KeystrokeProof) (float64, error) {
	if v.matchers.Keystroke == nil {
		return 0, ErrMatcherMissing
	}
	if proof == nil || len(proof.Sample.Holds) == 0 {
		return 0, ErrSampleInvalid
	}

	// The typed text must match the enrolled passphrase exactly before the
	// timing profile is even considered.
	if subtle.ConstantTimeCompare([]byte(enrollment.Passphrase), []byte(proof.Text)) != 1 {
		return 0, ErrVerificationFailed
	}

	ctx, cancel := context.WithTimeout(ctx, v.config.MatcherTimeout)
	defer cancel()

	score, err := v.matchers.Keystroke.Compare(ctx, enrollment.Template, proof.Sample)
	if err != nil {
		return 0, v.mapMatcherError(err)
	}
	if score < v.config.KeystrokeThreshold {
		return score, ErrVerificationFailed
	}
	return score, nil
}

// EnrollSimilarity derives a face or voice template from the given raw samples.
func (v *verifier) EnrollSimilarity(ctx context.Context, method Method, samples [][]byte) ([]byte, error) {
	var matcher SimilarityMatcher
	switch method {
	case MethodFace:
		matcher = v.matchers.Face
	case MethodVoice:
		matcher = v.matchers.Voice
	default:
		return nil, ErrMethodNotAllowed
	}
	if matcher == nil {
		return nil, ErrMatcherMissing
	}
	if len(samples) == 0 {
		return nil, ErrSampleInvalid
	}
	for _, s := range samples {
		if len(s) == 0 {
			return nil, ErrSampleInvalid
		}
	}

	ctx, cancel := context.WithTimeout(ctx, v.config.MatcherTimeout)
	defer cancel()

	template, err := matcher.Enroll(ctx, samples)
	if err != nil {
		return nil, v.mapMatcherError(err)
	}
	return template, nil
}

// EnrollGesture derives a gesture template. Every sample must carry at least
// the configured minimum number of points.
func (v *verifier) EnrollGesture(ctx context.Context, samples [][]GesturePoint) ([]byte, error) {
	if v.matchers.Gesture == nil {
		return nil, ErrMatcherMissing
	}
	if len(samples) < v.config.GestureSampleCount {
		return nil, fmt.Errorf("%w: need %d gesture samples", ErrSampleInvalid, v.config.GestureSampleCount)
	}
	for _, s := range samples {
		if len(s) < v.config.GestureMinPoints {
			return nil, fmt.Errorf("%w: need at least %d gesture points", ErrSampleInvalid, v.config.GestureMinPoints)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, v.config.MatcherTimeout)
	defer cancel()

	template, err := v.matchers.Gesture.Enroll(ctx, samples)
	if err != nil {
		return nil, v.mapMatcherError(err)
	}
	return template, nil
}

// EnrollKeystroke derives a keystroke timing template from repeated typings of
// the same passphrase.
func (v *verifier) EnrollKeystroke(ctx context.Context, samples []KeystrokeSample) ([]byte, error) {
	if v.matchers.Keystroke == nil {
		return nil, ErrMatcherMissing
	}
	if len(samples) < v.config.KeystrokeSampleCount {
		return nil, fmt.Errorf("%w: need %d keystroke samples", ErrSampleInvalid, v.config.KeystrokeSampleCount)
	}
	for _, s := range samples {
		if len(s.Holds) == 0 {
			return nil, ErrSampleInvalid
		}
	}

	ctx, cancel := context.WithTimeout(ctx, v.config.MatcherTimeout)
	defer cancel()

	template, err := v.matchers.Keystroke.Enroll(ctx, samples)
	if err != nil {
		return nil, v.mapMatcherError(err)
	}
	return template, nil
}

func (v *verifier) mapMatcherError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		if v.config.FailClosedOnTimeout {
			return ErrMatcherTimeout
		}
		return ErrVerificationFailed
	}
	return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
}
