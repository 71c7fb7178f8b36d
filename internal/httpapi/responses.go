package httpapi

import (
	"encoding/json"
	"net/http"
	"time"
)

// writeJSON encodes data as status's body. A failed encode can no longer
// change the status line, since it's already written.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes the common error body.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeErrorWithExtras(w, r, status, code, message, nil, nil)
}

// writeErrorWithExtras writes the common error body, optionally
// decorated with the 429-only rateLimitInfo/clientInfo fields.
func writeErrorWithExtras(w http.ResponseWriter, r *http.Request, status int, code, message string, rl *RateLimitInfo, client *ClientInfo) {
	resp := ErrorResponse{
		Error:         code,
		Message:       message,
		Timestamp:     time.Now().UTC(),
		RequestId:     requestIDFrom(r.Context()),
		RateLimitInfo: rl,
		ClientInfo:    client,
	}
	writeJSON(w, status, resp)
}
