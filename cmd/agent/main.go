package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/tee-attestation-agent/agent"
	"github.com/ruteri/tee-attestation-agent/cmd/flags"
	"github.com/ruteri/tee-attestation-agent/tpm"
	"github.com/urfave/cli/v2"
)

var agentFlags []cli.Flag = []cli.Flag{
	flags.ListenAddrFlag,
	flags.RegistrarURLFlag,
	flags.AgentUUIDFlag,
	flags.EKAlgorithmFlag,
	flags.PayloadDirFlag,
	flags.RevocationURLFlag,
	flags.RevocationPubkeyFlag,
	flags.RevocationScriptFlag,
	flags.LogServiceFlagFn("attestation-agent"),
}

func main() {
	app := &cli.App{
		Name:  "attestation-agent",
		Usage: "Register with the registrar and serve attestation evidence",
		Flags: append(agentFlags, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := &agent.Config{
				Server:           flags.ConfigureServer(cCtx, logger, cCtx.String(flags.ListenAddrFlag.Name)),
				RegistrarURL:     cCtx.String(flags.RegistrarURLFlag.Name),
				RevocationURL:    cCtx.String(flags.RevocationURLFlag.Name),
				RevocationPubkey: cCtx.String(flags.RevocationPubkeyFlag.Name),
				RevocationScript: cCtx.String(flags.RevocationScriptFlag.Name),
				AgentUUID:        cCtx.String(flags.AgentUUIDFlag.Name),
				EKAlgorithm:      cCtx.String(flags.EKAlgorithmFlag.Name),
				PayloadDir:       cCtx.String(flags.PayloadDirFlag.Name),
				Log:              logger,
			}

			device, err := tpm.Open(logger)
			if err != nil {
				logger.Error("Could not open attestation device", "err", err)
				return err
			}
			defer func() {
				if err := device.Close(); err != nil {
					logger.Error("Could not close attestation device", "err", err)
				}
			}()

			instance, err := agent.Bootstrap(ctx, cfg, device)
			if err != nil {
				logger.Error("Bootstrap failed", "err", err)
				return err
			}

			logger.Info("Agent is running, press Ctrl+C to stop")
			if err := instance.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Agent terminated", "err", err)
				return err
			}

			logger.Info("Agent shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
