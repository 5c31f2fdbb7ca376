package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/Jovells/dchain/pkg/identity"
	"github.com/Jovells/dchain/pkg/shipment"
)

func runTokenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("token", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		configPath string
		caller     string
		label      string
		ttl        time.Duration
	)
	cmd.StringVar(&configPath, "config", "", "YAML config file")
	cmd.StringVar(&caller, "caller", "", "Caller address the token authenticates (REQUIRED)")
	cmd.StringVar(&label, "label", "", "Optional human-readable label")
	cmd.DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if caller == "" {
		fmt.Fprintln(stderr, "Error: --caller is required")
		cmd.Usage()
		return 2
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	ks, err := newKeySet(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	tok, err := identity.NewTokenManager(ks, cfg.JWTIssuer).Issue(context.Background(), shipment.NewAddress(caller), label, ttl)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, tok)
	return 0
}
