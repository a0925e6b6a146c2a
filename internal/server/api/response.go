// Package api implements the handlers of the ops HTTP server.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/hlog"
)

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	log := hlog.FromRequest(r)

	jsonBytes, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("Error marshaling JSON response")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	writeBody(w, r, status, "application/json", jsonBytes)
}

func writeBody(w http.ResponseWriter, r *http.Request, status int, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		// Cannot reliably send a different status code here.
		hlog.FromRequest(r).Error().Err(err).Msg("Error writing response body to client")
		return
	}
	hlog.FromRequest(r).Debug().Int("bytes_written", len(body)).Msg("Response completed")
}
