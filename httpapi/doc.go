// Package httpapi exposes the engine over a JSON/HTTP surface built on chi.
//
// # Surface
//
// Public routes: register, login, challenge confirmation, refresh, health,
// and the Prometheus metrics endpoint. Everything under /auth, /enroll,
// /backup-codes, and /devices that manages an authenticated user's factors
// sits behind the [middleware.Guard].
//
// # Architecture boundaries
//
// Handlers translate HTTP to engine calls and engine errors to status codes.
// They hold no authentication state and make no Redis or provider calls of
// their own.
package httpapi
