package logger

// Process-name aliases for the same components named in names.go, used
// where a daemon/process identity string is wanted rather than a log
// scope key.
const (
	ComponentMain       = "flowpathd"
	ComponentDataplane  = "dataplane"
	ComponentPool       = "pool"
	ComponentApp        = "app"
	ComponentConfig     = "confd"
	ComponentMetrics    = "metrics"
	ComponentControlAPI = "controlapi"
	ComponentEvents     = "events"
)
