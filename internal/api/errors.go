package api

import (
	"github.com/danielgtaylor/huma/v2"

	"github.com/hatemosphere/inventory-backend/internal/auth"
)

// APIError is the JSON error body for every failed request:
// {"code": int, "error": kind, "message": string}. Kind is set for
// authentication failures and omitted otherwise.
type APIError struct {
	status  int
	Code    int    `json:"code"`
	Kind    string `json:"error,omitempty"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) GetStatus() int {
	return e.status
}

func init() {
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		if len(errs) > 0 && msg == "" {
			msg = errs[0].Error()
		}
		e := &APIError{
			status:  status,
			Code:    status,
			Message: msg,
		}
		for _, err := range errs {
			if kind := auth.KindOf(err); kind != "" {
				e.Kind = string(kind)
				break
			}
		}
		return e
	}
}
