package auth

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the JSON body written for rejected requests.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewErrorResponse describes err as a 401 response body.
func NewErrorResponse(err error) ErrorResponse {
	kind := KindOf(err)
	if kind == "" {
		kind = KindTokenDecode
	}
	return ErrorResponse{
		Code:    http.StatusUnauthorized,
		Error:   string(kind),
		Message: err.Error(),
	}
}

// WriteError writes err as a 401 JSON response.
func WriteError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(NewErrorResponse(err))
}
