package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/camwatch/internal/api/models"
	"github.com/smazurov/camwatch/internal/ffmpeg"
)

// registerOptionsRoutes lists the decoder input options accepted in a
// camera's ffmpeg_options.
func (s *Server) registerOptionsRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-decoder-options",
		Method:      http.MethodGet,
		Path:        "/api/options",
		Summary:     "Get Decoder Options",
		Description: "Available ffmpeg input options with descriptions, categories and conflicts",
		Tags:        []string{"configuration"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.OptionsResponse, error) {
		return &models.OptionsResponse{
			Body: models.OptionsData{
				Options: ffmpeg.AllOptions,
			},
		}, nil
	})
}
