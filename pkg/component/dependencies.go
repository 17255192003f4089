package component

import (
	"github.com/flowpathio/flowpath/pkg/app"
	"github.com/flowpathio/flowpath/pkg/config"
	"github.com/flowpathio/flowpath/pkg/events"
	"github.com/flowpathio/flowpath/pkg/system"
)

// Dependencies is the fixed set of shared services every registered
// component's factory may draw on. Components that don't need a given
// dependency simply ignore it.
type Dependencies struct {
	EventBus events.Bus
	Config   *config.Config
	System   *system.System
	Apps     *app.Registry
}
