package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/camwatch/internal/api/models"
	"github.com/smazurov/camwatch/internal/monitor"
)

func (s *Server) registerNotificationRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/api/notifications",
		Summary:     "List Notifications",
		Description: "Recent camera notifications, most recent first",
		Tags:        []string{"notifications"},
		Errors:      []int{401, 422},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.NotificationListInput) (*models.NotificationListResponse, error) {
		all := s.cameras.Notifications()
		out := make([]monitor.Notification, 0, len(all))
		for _, n := range all {
			if input.CameraID != "" && n.CameraID != input.CameraID {
				continue
			}
			out = append(out, n)
			if input.Limit > 0 && len(out) == input.Limit {
				break
			}
		}
		return &models.NotificationListResponse{
			Body: models.NotificationListData{
				Notifications: out,
				Count:         len(out),
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "clear-notifications",
		Method:      http.MethodDelete,
		Path:        "/api/notifications",
		Summary:     "Clear Notifications",
		Description: "Remove every notification from the log",
		Tags:        []string{"notifications"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.ClearResponse, error) {
		n := s.cameras.ClearNotifications()
		s.logger.Info("Notifications cleared", "count", n)
		return &models.ClearResponse{Body: models.ClearData{Cleared: n}}, nil
	})
}
