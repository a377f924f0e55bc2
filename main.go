/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spaghettifunk/anima-render/engine"
	"github.com/spaghettifunk/anima-render/engine/config"
	"github.com/spaghettifunk/anima-render/engine/core"
	"github.com/spaghettifunk/anima-render/testbed"
)

func main() {
	configPath := flag.String("config", "anima.toml", "path to the engine configuration")
	headless := flag.Bool("headless", false, "render without a window or GPU")
	frames := flag.Uint64("frames", 0, "stop after this many frames, 0 runs until closed")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		core.LogFatal("failed to load config: %s", err)
	}
	if *headless {
		cfg.Renderer.Backend = config.BackendHeadless
	}

	tb := testbed.NewTestGame(&engine.ApplicationConfig{
		Config:    cfg,
		MaxFrames: *frames,
	})

	e, err := engine.New(tb.Game)
	if err != nil {
		core.LogFatal("failed to boot the engine: %s", err)
	}

	if err := e.Initialize(); err != nil {
		core.LogFatal("failed to initialize the engine: %s", err)
	}

	// capture sigterm and other system calls
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	runErr := e.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		core.LogError("shutdown: %s", err)
	}
	if runErr != nil {
		core.LogError("%s", runErr)
		os.Exit(1)
	}
}
