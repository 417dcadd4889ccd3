package transport

import (
	"encoding/json"
	"net/http"

	"github.com/rhuss/colloquy/pkg/api"
)

// WriteErrorResponse writes {"error": {...}} with the given status.
func WriteErrorResponse(w http.ResponseWriter, apiErr *api.APIError, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: apiErr})
}

// WriteAPIError writes apiErr with the status derived from its code.
func WriteAPIError(w http.ResponseWriter, apiErr *api.APIError) {
	WriteErrorResponse(w, apiErr, apiErr.HTTPStatus())
}
