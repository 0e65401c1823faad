// Package logging hands out per-module slog loggers whose levels can be
// tuned at runtime.
//
// Records go to stdout (text or JSON) when stdout is usable and to the
// systemd journal when journald is running, or to both through a
// MultiHandler. Call Initialize once from main:
//
//	logging.Initialize(logging.Config{
//		Level:   "info",
//		Format:  "text",
//		Modules: map[string]string{"stream": "debug", "api": "warn"},
//	})
//
// and fetch loggers per package. Every logger carries a module attribute;
// per-camera loggers add camera_id:
//
//	log := logging.GetLogger("monitor").With("camera_id", id)
//
// A module level overrides the global one for that module only. Loggers
// obtained before Initialize pick up the configured level without being
// fetched again.
//
// Journal entries use the identifier camwatch and upper-case fields:
//
//	journalctl -t camwatch MODULE=stream CAMERA_ID=front -p warning
//
// The same settings live in the [logging] table of the service config:
//
//	[logging]
//	level = "info"
//	format = "json"
//
//	[logging.modules]
//	diagnostics = "debug"
package logging
