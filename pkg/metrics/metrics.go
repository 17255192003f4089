// Package metrics exposes Prometheus counters and gauges for the buffer
// pool, tables and ports, and the component that serves them over HTTP.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowpathio/flowpath/pkg/component"
	"github.com/flowpathio/flowpath/pkg/logger"
	"github.com/flowpathio/flowpath/pkg/system"
)

func init() {
	component.Register("metrics", New)
}

// Registry is the process-wide set of collectors this package registers.
// Handlers register against it instead of prometheus.DefaultRegisterer so
// tests can construct an isolated instance.
var Registry = prometheus.NewRegistry()

var (
	PoolAvailable = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "flowpath",
		Subsystem: "pool",
		Name:      "available_buffers",
		Help:      "Number of free buffers in a dataplane's pool.",
	}, []string{"dataplane"})

	PoolCapacity = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "flowpath",
		Subsystem: "pool",
		Name:      "capacity_buffers",
		Help:      "Total buffer capacity of a dataplane's pool.",
	}, []string{"dataplane"})

	TableFlowCount = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "flowpath",
		Subsystem: "table",
		Name:      "flow_count",
		Help:      "Number of installed flows in a table, excluding the miss flow.",
	}, []string{"dataplane", "table"})

	TableLookups = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "flowpath",
		Subsystem: "table",
		Name:      "lookups_total",
		Help:      "Number of Find calls served by a table.",
	}, []string{"dataplane", "table"})

	TableMisses = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "flowpath",
		Subsystem: "table",
		Name:      "misses_total",
		Help:      "Number of Find calls that ran a table's miss flow.",
	}, []string{"dataplane", "table"})

	FlowPackets = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "flowpath",
		Subsystem: "flow",
		Name:      "packets_total",
		Help:      "Packets matched against an installed flow (§4.4 Counters).",
	}, []string{"dataplane", "table", "cookie"})

	FlowBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "flowpath",
		Subsystem: "flow",
		Name:      "bytes_total",
		Help:      "Cumulative packet bytes matched against an installed flow (§4.4 Counters).",
	}, []string{"dataplane", "table", "cookie"})

	PortSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowpath",
		Subsystem: "port",
		Name:      "sent_total",
		Help:      "Packets successfully sent on a port.",
	}, []string{"dataplane", "port"})

	PortSendErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowpath",
		Subsystem: "port",
		Name:      "send_errors_total",
		Help:      "Send calls that returned an error on a port.",
	}, []string{"dataplane", "port"})

	PortLinkDown = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "flowpath",
		Subsystem: "port",
		Name:      "link_down",
		Help:      "1 if the port currently reports link down, else 0.",
	}, []string{"dataplane", "port"})
)

func init() {
	Registry.MustRegister(
		PoolAvailable, PoolCapacity,
		TableFlowCount, TableLookups, TableMisses,
		FlowPackets, FlowBytes,
		PortSent, PortSendErrors, PortLinkDown,
	)
}

// Component periodically samples the System's dataplanes into the gauges
// above and serves them via promhttp.
type Component struct {
	*component.Base
	logger *slog.Logger
	sys    *system.System
	addr   string
	server *http.Server
}

// New constructs the metrics component if enabled in cfg. Returning a nil
// Component with a nil error, matching the plugin-registry convention,
// skips loading it when the operator has not enabled it.
func New(deps component.Dependencies) (component.Component, error) {
	if deps.Config == nil || !deps.Config.Metrics.Enabled {
		return nil, nil
	}
	return &Component{
		Base:   component.NewBase("metrics"),
		logger: logger.Component(logger.Metrics),
		sys:    deps.System,
		addr:   deps.Config.Metrics.Address,
	}, nil
}

func (c *Component) Start(ctx context.Context) error {
	c.StartContext(ctx)
	c.logger.Info("starting metrics exporter", "addr", c.addr)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))
	c.server = &http.Server{Addr: c.addr, Handler: mux}

	c.Go(func() {
		c.sampleLoop()
	})
	c.Go(func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("metrics server failed", "error", err)
		}
	})
	return nil
}

func (c *Component) Stop(ctx context.Context) error {
	c.logger.Info("stopping metrics exporter")
	if c.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.server.Shutdown(shutdownCtx)
	}
	c.StopContext()
	return nil
}

func (c *Component) sampleLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.Ctx.Done():
			return
		case <-ticker.C:
			c.sample()
		}
	}
}

func (c *Component) sample() {
	if c.sys == nil {
		return
	}
	for _, name := range c.sys.List() {
		dp, err := c.sys.Get(name)
		if err != nil {
			continue
		}
		PoolAvailable.WithLabelValues(name).Set(float64(dp.Pool().Available()))
		PoolCapacity.WithLabelValues(name).Set(float64(dp.Pool().Capacity()))

		for _, t := range dp.Tables() {
			TableFlowCount.WithLabelValues(name, t.Name()).Set(float64(t.Count()))
			TableLookups.WithLabelValues(name, t.Name()).Set(float64(t.Lookups()))
			TableMisses.WithLabelValues(name, t.Name()).Set(float64(t.Misses()))
			for _, entry := range t.Flows() {
				cookie := fmt.Sprintf("%x", entry.Flow.Cookie())
				FlowPackets.WithLabelValues(name, t.Name(), cookie).Set(float64(entry.Flow.Packets()))
				FlowBytes.WithLabelValues(name, t.Name(), cookie).Set(float64(entry.Flow.Bytes()))
			}
		}
		for _, p := range dp.Ports() {
			down := 0.0
			if p.State().LinkDown {
				down = 1.0
			}
			PortLinkDown.WithLabelValues(name, p.Name()).Set(down)
		}
	}
}
