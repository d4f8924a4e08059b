package main

import (
	"context"
	"log"

	"github.com/m3rciful/onboardbot/core/app"
	"github.com/m3rciful/onboardbot/core/bootstrap"
	corecmd "github.com/m3rciful/onboardbot/core/cmd"
	coreconfig "github.com/m3rciful/onboardbot/core/config"
)

func main() {
	err := corecmd.Run(corecmd.Options{
		DefaultConfigPath: "config.yaml",
		Run:               run,
	})
	if err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg *coreconfig.Config) error {
	infra, err := bootstrap.Run(ctx, bootstrap.Options{Config: cfg})
	if err != nil {
		return err
	}
	a, err := app.New(cfg, infra)
	if err != nil {
		_ = infra.Close()
		return err
	}
	return a.Run(ctx)
}
