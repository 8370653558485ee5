package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/iwtcode/rigAdapter/internal/app"
	"github.com/iwtcode/rigAdapter/internal/config"
)

func main() {
	fs := pflag.NewFlagSet("rigpanel", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	// Флаги после имени команды принадлежат самой команде
	fs.SetInterspersed(false)
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	cfg, err := config.LoadConfiguration(fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	panel, err := app.New(cfg, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	runErr := panel.Run(ctx, fs.Args())
	if err := panel.Close(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	if runErr != nil {
		fmt.Fprintln(os.Stderr, "Error:", runErr)
		os.Exit(1)
	}
}
