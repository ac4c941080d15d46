package httpkit

import (
	"encoding/json"
	"net/http"

	"vidrender/internal/pkg/errors"
)

type ErrorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details,omitempty"`
	} `json:"error"`
}

// DecodeJSON decodes a single JSON object from the request body. Unknown
// fields are rejected so typos in field names surface as 400s.
func DecodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.WrapWithCode(err, errors.CodeValidation, "httpkit.decode", "request body is not valid JSON")
	}
	if dec.More() {
		return errors.Validation("request body must contain a single JSON object")
	}
	return nil
}

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func WriteErr(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	var env ErrorEnvelope
	env.Error.Code = code
	env.Error.Message = msg
	env.Error.Details = details

	WriteJSON(w, status, env)
}

// WriteError writes err as the JSON error envelope, using its code for the
// status.
func WriteError(w http.ResponseWriter, err error) {
	WriteErr(w, errors.GetHTTPStatus(err), string(errors.GetCode(err)), errors.Message(err), errors.GetFields(err))
}
