// Package reference is a minimal two-table application demonstrating the
// pipeline dispatch surface: a classifier table that binds an Ethernet
// destination and hops to a forwarding table keyed on that address.
package reference

import (
	"log/slog"

	"github.com/flowpathio/flowpath/pkg/dataplane"
	"github.com/flowpathio/flowpath/pkg/packet"
	"github.com/flowpathio/flowpath/pkg/table"
)

const (
	headerEthernet = 0
	fieldEthDst    = 10

	classifyTableID   = 0
	forwardingTableID = 1
)

// Application is a reference implementation of app.Application: it
// installs a classifier and a forwarding table on Load, and its Process
// hook binds the destination MAC and hops through them.
type Application struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Application {
	return &Application{logger: logger}
}

func (a *Application) Load(dp *dataplane.Dataplane) int {
	classify, err := dp.CreateTable(classifyTableID, "classify", table.Exact, 6)
	if err != nil {
		a.logger.Error("create classify table failed", "error", err)
		return 1
	}
	forwarding, err := dp.CreateTable(forwardingTableID, "forwarding", table.Exact, 6)
	if err != nil {
		a.logger.Error("create forwarding table failed", "error", err)
		return 1
	}

	classify.InsertMiss(func(t *table.Table, ctx *packet.Context) error {
		return ctx.Pipeline().Flood(ctx)
	})
	forwarding.InsertMiss(func(t *table.Table, ctx *packet.Context) error {
		return ctx.Pipeline().Drop(ctx)
	})

	a.logger.Info("reference application loaded", "dataplane", dp.Name())
	return 0
}

func (a *Application) Unload(dp *dataplane.Dataplane) int {
	a.logger.Info("reference application unloaded", "dataplane", dp.Name())
	return 0
}

func (a *Application) Start(dp *dataplane.Dataplane) int {
	return 0
}

func (a *Application) Stop(dp *dataplane.Dataplane) int {
	return 0
}

// Process binds the current header and destination MAC field, then hops
// into the classifier table. AddForward installs the forwarding entries
// this reference application's tables act on.
func (a *Application) Process(ctx *packet.Context) int {
	ctx.BindHeader(headerEthernet)
	if _, err := ctx.BindField(fieldEthDst, 0, 6); err != nil {
		_ = ctx.Pipeline().Drop(ctx)
		return 1
	}
	pipeline := ctx.Pipeline()
	if err := pipeline.Goto(ctx, classifyTableID, fieldEthDst); err != nil {
		return 1
	}
	return 0
}

// AddForward installs a forwarding entry on dp: packets whose destination
// MAC equals dstMAC are transmitted on portID via the forwarding table.
// It also installs a classifier entry for dstMAC that hops to the
// forwarding table; any other address misses the classifier and is
// flooded.
func AddForward(dp *dataplane.Dataplane, dstMAC [6]byte, portID uint32) error {
	_, err := dp.InstallFlow(forwardingTableID, dstMAC[:], func(t *table.Table, ctx *packet.Context) error {
		return ctx.Pipeline().OutputPort(ctx, portID)
	}, table.FlowAttrs{})
	if err != nil {
		return err
	}

	_, err = dp.InstallFlow(classifyTableID, dstMAC[:], func(t *table.Table, ctx *packet.Context) error {
		return ctx.Pipeline().Goto(ctx, forwardingTableID, fieldEthDst)
	}, table.FlowAttrs{})
	return err
}
