// Package httpx provides small HTTP request/response utilities.
package httpx

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
)

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// ClientIP extracts the caller address for audit records. With the RealIP
// middleware installed RemoteAddr is already the client address; otherwise
// it still carries a port to strip.
func ClientIP(r *http.Request) string {
	addr := r.RemoteAddr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return strings.TrimSpace(addr)
}
