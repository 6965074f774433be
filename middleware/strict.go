package middleware

import (
	"net/http"

	goMFA "github.com/MrEthical07/goMFA"
)

// RequireStrict returns middleware that forces [goMFA.ModeStrict] for the
// wrapped handler: every request round-trips to the session store.
func RequireStrict(engine *goMFA.Engine) func(http.Handler) http.Handler {
	return Guard(engine, goMFA.ModeStrict)
}
