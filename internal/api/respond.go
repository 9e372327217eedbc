package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/scraper-orchestrator/internal/model"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var (
		ve *model.ValidationError
		nf *model.NotFoundError
		de *model.DisabledError
		ar *model.AlreadyRunningError
		mu *model.ModelUnavailableError
		te *model.TimeoutError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.As(err, &de), errors.As(err, &ar):
		return http.StatusConflict
	case errors.As(err, &mu):
		return http.StatusServiceUnavailable
	case errors.As(err, &te):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// errorBody renders err as {error, field?}. Validation errors report
// their message without the field prefix.
func errorBody(err error) map[string]any {
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		body := map[string]any{"error": ve.Message}
		if ve.Field != "" {
			body["field"] = ve.Field
		}
		return body
	}
	return map[string]any{"error": err.Error()}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logFailure(r, status, err)
	}
	writeJSON(w, status, errorBody(err))
}

func logFailure(r *http.Request, status int, err error) {
	zap.L().Error("api: request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	)
}

// decodeOptional decodes a JSON body into v. An empty body leaves v
// unchanged.
func decodeOptional(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return model.NewValidationError("body", "unreadable request body")
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return model.NewValidationError("body", "invalid JSON body")
	}
	return nil
}
