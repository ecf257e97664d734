package main

import (
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/exp/slog"

	"github.com/alovak/p24flow/merchant"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout))

	config, err := merchant.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Error("loading config", "err", err)
		os.Exit(1)
	}

	app := merchant.NewApp(logger, config)
	if err := app.Start(); err != nil {
		logger.Error("starting app", "err", err)
		os.Exit(1)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	app.Shutdown()
}
