package gwapi

import (
	"encoding/json"
	"net/http"

	"github.com/fluidmcp/gateway/internal/errs"
)

// errorEnvelope is the wire shape for gateway-level HTTP errors, per
// spec.md §6: {error: {kind, message, details?}}.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps any error onto the kind->status table from internal/errs
// and writes the standard envelope. Non-GatewayError values are treated as
// kind=internal with the cause kept out of the response body, per
// spec.md §7: "unexpected exceptions map to 500/internal ... never the
// response."
func writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	status := kind.HTTPStatus()
	msg := err.Error()
	if kind == errs.Internal {
		msg = "internal error"
	}
	writeJSON(w, status, errorEnvelope{Error: errorBody{Kind: string(kind), Message: msg}})
}

func readJSONBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errs.Wrap(errs.BadInput, err, "invalid request body")
	}
	return nil
}
