// Package handlers implements the epgview HTTP API: playlist channel
// listing, assembled schedules, raw XMLTV exports, prewarm control, and
// CRUD for settings, sources, and mappings.
package handlers

import (
	"encoding/json"
	"net/http"
)

// EmptyInput is the input type for parameterless operations.
type EmptyInput struct{}

// writeJSONError writes the {"error": message} body used by the raw chi
// routes, outside the Huma error model.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
