package tradeguard

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Middleware returns an http.Handler that counts each request as one trade
// action before passing it to next. Blocked requests receive a 403 and
// store failures a 503, both with a JSON body.
func (c *Client) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, err := c.Attempt(r.Context())
		if err == nil {
			next.ServeHTTP(w, r)
			return
		}

		status := http.StatusServiceUnavailable
		body := map[string]any{"blocked": true, "error": err.Error()}
		var be *BlockedError
		if errors.As(err, &be) {
			status = http.StatusForbidden
			body["reason"] = string(be.Reason)
			body["count"] = res.Count
			body["max"] = res.Max
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	})
}
