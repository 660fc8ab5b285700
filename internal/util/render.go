package util

import (
	"encoding/json"
	"net/http"
)

// Render writes data as a JSON response with the given status.
func Render(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Error renders {"error": msg}.
func Error(w http.ResponseWriter, status int, msg string) {
	Render(w, status, map[string]string{"error": msg})
}

// Decode reads a JSON request body into dst, rejecting unknown fields.
func Decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
