package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/dhkim312/unichat/internal/config"
	"github.com/dhkim312/unichat/internal/daemon"
	"github.com/dhkim312/unichat/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot load %s: %v\n", session.ConfigPath(), err)
		os.Exit(1)
	}
	if cfg.API.BaseURL == "" {
		fmt.Fprintf(os.Stderr, "error: api.base_url is not configured in %s\n", session.ConfigPath())
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{SessionName: sessionName, Config: cfg}),
	)

	app.Run()
}
