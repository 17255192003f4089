// Command flowpathd is the dataplane daemon: it loads configuration,
// wires the shared dependencies every component draws on, and runs the
// component set until it receives a shutdown signal.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/flowpathio/flowpath/pkg/app"
	"github.com/flowpathio/flowpath/pkg/app/reference"
	"github.com/flowpathio/flowpath/pkg/component"
	"github.com/flowpathio/flowpath/pkg/config"
	"github.com/flowpathio/flowpath/pkg/events"
	"github.com/flowpathio/flowpath/pkg/events/local"
	"github.com/flowpathio/flowpath/pkg/logger"
	"github.com/flowpathio/flowpath/pkg/system"
	"github.com/flowpathio/flowpath/pkg/version"

	_ "github.com/flowpathio/flowpath/internal/flowpathd"
	_ "github.com/flowpathio/flowpath/pkg/controlapi"
	_ "github.com/flowpathio/flowpath/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	printVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *printVersion {
		fmt.Println("flowpathd", version.Full())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger.Configure(cfg.LogFormat, logger.LogLevel(cfg.LogLevel), nil)
	mainLog := logger.Component(logger.Main)

	apps := app.NewRegistry()
	if err := apps.Register("reference", reference.New(logger.Component(logger.App))); err != nil {
		log.Fatalf("failed to register reference application: %v", err)
	}

	bus := local.NewBus()
	bus.SubscribeAll(func(e events.Event) {
		mainLog.Debug("event", "topic", e.Type, "source", e.Source, "data", e.Data)
	})

	deps := component.Dependencies{
		EventBus: bus,
		Config:   cfg,
		System:   system.New(),
		Apps:     apps,
	}

	components, err := component.LoadAll(deps)
	if err != nil {
		log.Fatalf("failed to load components: %v", err)
	}

	orch := component.NewOrchestrator()
	for _, comp := range components {
		if comp != nil {
			orch.Register(comp)
		}
	}

	ctx := context.Background()
	if err := orch.Start(ctx); err != nil {
		log.Fatalf("failed to start components: %v", err)
	}

	mainLog.Info("flowpathd started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	mainLog.Info("shutting down flowpathd")

	if err := orch.Stop(ctx); err != nil {
		mainLog.Error("error stopping components", "error", err)
	}

	mainLog.Info("flowpathd stopped")
}
