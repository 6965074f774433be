// Package matchers provides reference scoring implementations for the
// biometric factors: cosine similarity over embedding vectors for face and
// voice, trace alignment for gestures, and timing-profile deviation for
// keystroke dynamics.
//
// # What these matchers are
//
// Deterministic, dependency-free baselines. They operate on pre-extracted
// feature data (embedding vectors, point traces, hold/flight timings), not on
// raw media. Production deployments are expected to swap in model-backed
// implementations behind the same interfaces; the engine only sees scores.
//
// # Architecture boundaries
//
// This package imports the engine root only for the shared sample types. It
// must not touch store packages or transport code. Matchers receive samples
// and return scores in [0,1]; thresholds, attempt budgets, and audit live in
// the engine.
package matchers
