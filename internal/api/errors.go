// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fitcore/fitcore/internal/fcerr"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody JSON-decodes r.Body into dst, writing a 400 {"error": ...} body and
// returning false on any parse failure so handlers can bail out in one line.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// writeEnvelope writes the {ok, code, message, data} envelope spec.md §7
// defines for every external entry point: 200 for a success envelope,
// otherwise the status statusForCode gives env.Code.
func writeEnvelope(w http.ResponseWriter, env fcerr.Envelope) {
	if env.OK {
		writeJSON(w, http.StatusOK, env)
		return
	}
	writeJSON(w, statusForCode(env.Code), env)
}

// writeErr maps err's fcerr.Kind to its HTTP status and writes the failure
// envelope; an error that is not a DomainError is a 500.
func writeErr(w http.ResponseWriter, err error) {
	env := fcerr.FromError(err)
	var de *fcerr.DomainError
	if errors.As(err, &de) {
		writeJSON(w, statusForCode(string(de.Kind)), env)
		return
	}
	writeJSON(w, http.StatusInternalServerError, env)
}

func statusForCode(code string) int {
	switch code {
	case "invalid_id", "invalid_payload", "id_mismatch":
		return http.StatusBadRequest
	case "session_missing":
		return http.StatusNotFound
	case "user_already_assigned":
		return http.StatusConflict
	case "persist_validation_fail", "timeline_tick_invalid_key":
		return http.StatusUnprocessableEntity
	case "ledger_reconcile_warn":
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}
