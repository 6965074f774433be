package middleware

import (
	"net/http"

	goMFA "github.com/MrEthical07/goMFA"
)

// RequireJWTOnly returns middleware that overrides the validation mode to
// [goMFA.ModeJWTOnly] for the wrapped handler, skipping Redis entirely.
func RequireJWTOnly(engine *goMFA.Engine) func(http.Handler) http.Handler {
	return Guard(engine, goMFA.ModeJWTOnly)
}
