// Package flowpathd is the daemon component: it builds every configured
// Dataplane, attaches its application and ports, and runs one ingress
// worker per UDP port for the process's lifetime. Host ports are
// registered for egress only.
package flowpathd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flowpathio/flowpath/pkg/app"
	"github.com/flowpathio/flowpath/pkg/buffer"
	"github.com/flowpathio/flowpath/pkg/component"
	"github.com/flowpathio/flowpath/pkg/config"
	"github.com/flowpathio/flowpath/pkg/dataplane"
	"github.com/flowpathio/flowpath/pkg/events"
	"github.com/flowpathio/flowpath/pkg/logger"
	"github.com/flowpathio/flowpath/pkg/port/hostport"
	"github.com/flowpathio/flowpath/pkg/port/udpport"
	"github.com/flowpathio/flowpath/pkg/system"
	"github.com/flowpathio/flowpath/pkg/table"
)

func init() {
	component.Register("flowpathd", New)
}

// Component owns the running set of dataplanes for the process.
type Component struct {
	*component.Base
	logger *slog.Logger
	cfg    *config.Config
	sys    *system.System
	apps   *app.Registry
	bus    events.Bus

	closers []func() error
}

func New(deps component.Dependencies) (component.Component, error) {
	return &Component{
		Base:   component.NewBase("flowpathd"),
		logger: logger.Component(logger.Dataplane),
		cfg:    deps.Config,
		sys:    deps.System,
		apps:   deps.Apps,
		bus:    deps.EventBus,
	}, nil
}

func (c *Component) Start(ctx context.Context) error {
	c.StartContext(ctx)

	for _, dpCfg := range c.cfg.Dataplanes {
		if err := c.startDataplane(dpCfg); err != nil {
			return fmt.Errorf("dataplane %s: %w", dpCfg.Name, err)
		}
	}
	return nil
}

func (c *Component) startDataplane(dpCfg config.DataplaneConfig) error {
	pool := buffer.New(dpCfg.PoolCapacity)
	dp := dataplane.New(dpCfg.Name, pool, c.bus)
	if err := c.sys.Register(dp); err != nil {
		return err
	}

	for _, tCfg := range dpCfg.Tables {
		kind, err := tableKind(tCfg.Kind)
		if err != nil {
			return err
		}
		if _, err := dp.CreateTable(tCfg.ID, tCfg.Name, kind, tCfg.KeySize); err != nil {
			return err
		}
	}

	application, err := c.apps.Get(dpCfg.Application)
	if err != nil {
		return err
	}

	if status := application.Load(dp); status != app.OK {
		return fmt.Errorf("application %s: load returned status %d", dpCfg.Application, status)
	}
	if c.bus != nil {
		c.bus.Publish(events.TopicApplicationLoaded, events.Event{
			Source: dpCfg.Name,
			Data:   events.ApplicationLoadedEvent{Dataplane: dpCfg.Name, Application: dpCfg.Application},
		})
	}
	if status := application.Start(dp); status != app.OK {
		return fmt.Errorf("application %s: start returned status %d", dpCfg.Application, status)
	}

	for _, pCfg := range dpCfg.Ports {
		if err := c.startPort(dp, pCfg, application); err != nil {
			return fmt.Errorf("port %s: %w", pCfg.Name, err)
		}
	}

	c.logger.Info("dataplane started", "name", dpCfg.Name, "ports", len(dpCfg.Ports), "pool_capacity", dpCfg.PoolCapacity)
	return nil
}

func (c *Component) startPort(dp *dataplane.Dataplane, pCfg config.PortConfig, application app.Application) error {
	switch pCfg.Kind {
	case "udp":
		p, err := udpport.New(pCfg.ID, pCfg.Name, pCfg.PeerAddress, dp.Name(), logger.Component(logger.Port))
		if err != nil {
			return err
		}
		if err := dp.RegisterPort(p); err != nil {
			return err
		}
		c.closers = append(c.closers, p.Close)
		c.Go(func() {
			_ = udpport.RunIngress(c.Ctx, dp, pCfg.ID, pCfg.ListenAddress, application)
		})
		return nil
	case "host":
		p, err := hostport.New(pCfg.ID, pCfg.Name, pCfg.Interface, logger.Component(logger.Port), c.bus, dp.Name())
		if err != nil {
			return err
		}
		if err := dp.RegisterPort(p); err != nil {
			return err
		}
		c.closers = append(c.closers, p.Close)
		return nil
	default:
		return fmt.Errorf("unknown port kind %q", pCfg.Kind)
	}
}

// tableKind maps a config-file table kind name to its table.Type.
func tableKind(kind string) (table.Type, error) {
	switch kind {
	case "exact":
		return table.Exact, nil
	case "prefix":
		return table.Prefix, nil
	case "wildcard":
		return table.Wildcard, nil
	default:
		return 0, fmt.Errorf("unknown table kind %q", kind)
	}
}

func (c *Component) Stop(ctx context.Context) error {
	c.logger.Info("stopping flowpathd")
	c.StopContext()
	for _, closeFn := range c.closers {
		_ = closeFn()
	}
	return nil
}
