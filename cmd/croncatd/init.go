package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"croncat/internal/infra/logger"
)

func runInit() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Store.Driver == "memory" {
		return fmt.Errorf("store.driver is memory; genesis would not persist")
	}

	log, logCloser, err := logger.New(cfg.Logger, serviceName)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	a, err := buildApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	return instantiate(context.Background(), a, os.Stdout)
}

func instantiate(ctx context.Context, a *app, out io.Writer) error {
	resp, err := a.instantiate(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "registry %s instantiated\n", a.cfg.Host.ContractAddress)
	for _, attr := range resp.Attributes {
		fmt.Fprintf(out, "  %s = %s\n", attr.Key, attr.Value)
	}
	return nil
}
