package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/hatemosphere/inventory-backend/internal/auth"
)

func (s *Server) registerUser(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getUser",
		Method:      http.MethodGet,
		Path:        "/api/user",
		Tags:        []string{"User"},
	}, func(ctx context.Context, input *struct{}) (*GetUserOutput, error) {
		out := &GetUserOutput{}
		out.Body.Authorities = []string{}
		if identity := auth.IdentityFromContext(ctx); identity != nil {
			out.Body.Authenticated = true
			out.Body.Subject = identity.SubjectID
			out.Body.Authorities = append(out.Body.Authorities, identity.Authorities...)
		}
		return out, nil
	})
}
