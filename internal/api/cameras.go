package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/camwatch/internal/api/models"
	"github.com/smazurov/camwatch/internal/frames"
	"github.com/smazurov/camwatch/internal/monitor"
)

// registerCameraRoutes registers camera status, frame and control endpoints.
func (s *Server) registerCameraRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-cameras",
		Method:      http.MethodGet,
		Path:        "/api/cameras",
		Summary:     "List Cameras",
		Description: "Status of every registered camera, sorted by id",
		Tags:        []string{"cameras"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.CameraListResponse, error) {
		statuses := s.cameras.Statuses()
		return &models.CameraListResponse{
			Body: models.CameraListData{
				Cameras: statuses,
				Count:   len(statuses),
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-camera",
		Method:      http.MethodGet,
		Path:        "/api/cameras/{camera_id}",
		Summary:     "Get Camera Status",
		Description: "Connection state, stream statistics and the latest diagnostics of one camera",
		Tags:        []string{"cameras"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.CameraIDInput) (*models.CameraResponse, error) {
		st, err := s.cameras.Status(input.CameraID)
		if err != nil {
			return nil, mapCameraError(err)
		}
		return &models.CameraResponse{Body: st}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-camera-frame",
		Method:      http.MethodGet,
		Path:        "/api/cameras/{camera_id}/frame",
		Summary:     "Get Current Frame",
		Description: "The most recent decoded frame as a JPEG still",
		Tags:        []string{"cameras"},
		Errors:      []int{401, 404, 500},
		Security:    withAuth(),
		Responses: map[string]*huma.Response{
			"200": {
				Description: "JPEG image",
				Content:     map[string]*huma.MediaType{"image/jpeg": {}},
			},
		},
	}, func(_ context.Context, input *models.FrameInput) (*models.FrameResponse, error) {
		f, err := s.cameras.CurrentFrame(input.CameraID)
		if err != nil {
			return nil, mapCameraError(err)
		}
		body, err := encodeJPEG(f, input.Quality)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to encode frame", err)
		}
		return &models.FrameResponse{
			ContentType:  "image/jpeg",
			CacheControl: "no-store",
			FrameSeq:     strconv.FormatUint(f.Seq, 10),
			FrameTime:    f.Timestamp.UTC().Format(time.RFC3339Nano),
			Body:         body,
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "restart-camera",
		Method:      http.MethodPost,
		Path:        "/api/cameras/{camera_id}/restart",
		Summary:     "Restart Camera",
		Description: "Stop the camera, reset its diagnostics and connect again. Clears the failed state.",
		Tags:        []string{"cameras"},
		Errors:      []int{401, 404, 500},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.CameraIDInput) (*models.ActionResponse, error) {
		if err := s.cameras.Restart(input.CameraID); err != nil {
			return nil, mapCameraError(err)
		}
		return s.actionResponse(input.CameraID, "restart")
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "stop-camera",
		Method:      http.MethodPost,
		Path:        "/api/cameras/{camera_id}/stop",
		Summary:     "Stop Camera",
		Description: "Disconnect the camera. It stays stopped until restarted.",
		Tags:        []string{"cameras"},
		Errors:      []int{401, 404, 500},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.CameraIDInput) (*models.ActionResponse, error) {
		if err := s.cameras.Stop(input.CameraID); err != nil {
			return nil, mapCameraError(err)
		}
		return s.actionResponse(input.CameraID, "stop")
	})
}

func (s *Server) actionResponse(id, action string) (*models.ActionResponse, error) {
	st, err := s.cameras.Status(id)
	if err != nil {
		return nil, mapCameraError(err)
	}
	return &models.ActionResponse{
		Body: models.ActionData{
			CameraID:  id,
			Action:    action,
			Lifecycle: st.Lifecycle,
		},
	}, nil
}

func encodeJPEG(f *frames.Frame, quality int) ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("frame %d has invalid dimensions %dx%d", f.Seq, f.Width, f.Height)
	}
	if quality < 1 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f.Image(), &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// mapCameraError maps monitor errors to HTTP errors.
func mapCameraError(err error) error {
	switch {
	case errors.Is(err, monitor.ErrCameraNotFound):
		return huma.Error404NotFound("camera not found", err)
	case errors.Is(err, monitor.ErrNoFrame):
		return huma.Error404NotFound("no current frame", err)
	case errors.Is(err, monitor.ErrCameraExists):
		return huma.Error409Conflict("camera already exists", err)
	default:
		return huma.Error500InternalServerError("internal server error", err)
	}
}
