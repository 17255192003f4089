package logger

import "log/slog"

// Component names used to scope per-component log levels and to tag
// loggers handed to components at construction.
const (
	Main       = "main"
	Dataplane  = "dataplane"
	Pool       = "pool"
	Table      = "table"
	Port       = "port"
	App        = "app"
	Config     = "confmgr"
	Metrics    = "metrics"
	ControlAPI = "controlapi"
	Events     = "events"
)

// Component returns a logger scoped to name, equivalent to Get(name) but
// named to match how loaded components request their own logger.
func Component(name string) *slog.Logger {
	return Get(name)
}
