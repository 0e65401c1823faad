// Package models holds the request and response bodies of the HTTP API.
package models

import (
	"github.com/smazurov/camwatch/internal/ffmpeg"
	"github.com/smazurov/camwatch/internal/monitor"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
	Cameras int    `json:"cameras" example:"4" doc:"Number of registered cameras"`
	Running int    `json:"running" example:"3" doc:"Cameras currently receiving frames"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"1.2.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"a1b2c3d" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2026-01-27T10:30:00Z" doc:"Build timestamp"`
	BuildID   string `json:"build_id" example:"42" doc:"Build identifier"`
	GoVersion string `json:"go_version" example:"go1.24.1" doc:"Go toolchain version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Go compiler"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"OS and architecture"`
}

type VersionResponse struct {
	Body VersionData
}

// Camera models
type CameraIDInput struct {
	CameraID string `path:"camera_id" example:"front-door" doc:"Camera identifier"`
}

type CameraListData struct {
	Cameras []monitor.Status `json:"cameras" doc:"Status of every registered camera"`
	Count   int              `json:"count" example:"2" doc:"Number of cameras"`
}

type CameraListResponse struct {
	Body CameraListData
}

type CameraResponse struct {
	Body monitor.Status
}

type FrameInput struct {
	CameraID string `path:"camera_id" example:"front-door" doc:"Camera identifier"`
	Quality  int    `query:"quality" minimum:"1" maximum:"100" default:"80" doc:"JPEG quality"`
}

type FrameResponse struct {
	ContentType  string `header:"Content-Type"`
	CacheControl string `header:"Cache-Control"`
	FrameSeq     string `header:"X-Frame-Seq"`
	FrameTime    string `header:"X-Frame-Timestamp"`
	Body         []byte
}

type ActionData struct {
	CameraID  string            `json:"camera_id" example:"front-door" doc:"Camera identifier"`
	Action    string            `json:"action" example:"restart" doc:"Action performed"`
	Lifecycle monitor.Lifecycle `json:"lifecycle" example:"connecting" doc:"Lifecycle state after the action"`
}

type ActionResponse struct {
	Body ActionData
}

// Notification models
type NotificationListInput struct {
	CameraID string `query:"camera_id" doc:"Only notifications of this camera"`
	Limit    int    `query:"limit" minimum:"0" doc:"Maximum number of notifications, 0 for all"`
}

type NotificationListData struct {
	Notifications []monitor.Notification `json:"notifications" doc:"Most recent first"`
	Count         int                    `json:"count" example:"3" doc:"Number of notifications returned"`
}

type NotificationListResponse struct {
	Body NotificationListData
}

type ClearData struct {
	Cleared int `json:"cleared" example:"12" doc:"Number of notifications removed"`
}

type ClearResponse struct {
	Body ClearData
}

// Options models for decoder configuration
type OptionsData struct {
	Options []ffmpeg.Option `json:"options" doc:"Decoder input options usable in ffmpeg_options"`
}

type OptionsResponse struct {
	Body OptionsData
}
