package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"brokerage/internal/contract"
	"brokerage/internal/errors"
)

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := contract.Response{Data: data}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Debug("Failed to encode response", "status", statusCode, "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	appErr := errors.From(err)
	w.Header().Set("Content-Type", "application/json")

	statusCode := appErr.HTTPStatus()
	errResponse := contract.Error{
		Code:    string(appErr.Code),
		Message: appErr.Message,
		Details: appErr.Details,
	}
	if appErr.Kind() == errors.KindTransient {
		// Store and driver messages stay in the logs.
		errResponse.Details = ""
	}

	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(contract.Response{Error: &errResponse}); err != nil {
		slog.Debug("Failed to encode error response", "status", statusCode, "code", errResponse.Code, "error", err)
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := contract.Decode(r.Body, v); err != nil {
		return errors.NewAppError(errors.InvalidInput, "invalid request body").WithDetails(err.Error())
	}
	return nil
}

func clientIDVar(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["client_id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.ErrInvalidClientID
	}
	return id, nil
}

// RequireContractVersion rejects requests that name a contract version other
// than the current one. Requests without the header are treated as current.
func RequireContractVersion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v := r.Header.Get(contract.VersionHeader); v != "" && v != contract.Version {
			writeError(w, errors.ErrUnsupportedVersion.WithDetails("expected "+contract.Version+", got "+v))
			return
		}
		w.Header().Set(contract.VersionHeader, contract.Version)
		next.ServeHTTP(w, r)
	})
}
