package api

import (
	"encoding/json"
	"log"
	"net/http"

	apperrors "github.com/DropTracker-io/droptracker-core/internal/platform/errors"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

// writeError maps a pipeline error onto the transport. Soft-failure codes
// intentionally answer 200 so rejected submissions cannot probe for names.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	status := code.HTTPStatus()
	body := map[string]any{"error": err.Error(), "code": string(code)}
	if code.Retriable() {
		body["retriable"] = true
	}
	writeJSON(w, status, body)
}

func writeMessage(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, map[string]string{"message": message})
}
