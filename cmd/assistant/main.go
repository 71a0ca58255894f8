package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/you-humble/linkassist/internal/app"
)

func main() {
	defaultCfg := os.Getenv("CONFIG_PATH")
	if defaultCfg == "" {
		defaultCfg = "./configs/local.yaml"
	}
	cfgPath := flag.String("config", defaultCfg, "path to the yaml config")
	flag.Parse()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	a := app.New(ctx, *cfgPath)
	if err := a.Run(ctx); err != nil {
		panic(err)
	}
}
