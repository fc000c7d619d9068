package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"atms/identity/internal/apperr"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorBody{Error: code})
}

// writeAppError writes the error's code and summary. Causes are logged and
// never reach the client.
func writeAppError(w http.ResponseWriter, log *zap.Logger, err error) {
	appErr := apperr.From(err)
	status := appErr.Code.HTTPStatus()
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.String("error", appErr.Reason), zap.Error(appErr.Cause))
	}
	writeJSON(w, status, errorBody{Error: appErr.Reason, Message: appErr.Message})
}

func isUnauthenticated(err error) bool {
	var appErr *apperr.AppError
	return errors.As(err, &appErr) && appErr.Code == apperr.CodeUnauthenticated
}
