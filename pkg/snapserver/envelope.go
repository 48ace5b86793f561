package snapserver

import (
	"encoding/json"
	"net/http"

	"github.com/function61/snapshotd/pkg/blorm"
)

// apiVersion is carried in every response's "_api" field, matching
// original_source/api/snapshot_api.py's API_VERSION.
const apiVersion = "0.3"

// envelope wraps every response payload per spec §4.7: "{"_api": version,
// "_comment": string, ...payload...}". comment mirrors the Python
// implementation's habitually-unused "notset" placeholder field.
func envelope(payload any) map[string]any {
	out := map[string]any{
		"_api":     apiVersion,
		"_comment": "notset",
	}

	if m, ok := payload.(map[string]any); ok {
		for k, v := range m {
			out[k] = v
		}
		return out
	}

	out["result"] = payload
	return out
}

// outJson writes payload wrapped in envelope() as indented JSON, mirroring
// the teacher's own outJson helper in stoserver/utils.go.
func outJson(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(envelope(payload))
}

// writeError maps a query-layer error to a status code the way
// snapshot_api.py's try/except SnapshotEmptyQueryException -> 404, except
// Exception -> 500 does, and writes it as a plain text body (the teacher's
// http.Error convention, not the JSON envelope, since error bodies are for
// operators/logs rather than API consumers chaining on the payload shape).
func writeError(w http.ResponseWriter, err error) {
	if err == blorm.ErrNotFound {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
