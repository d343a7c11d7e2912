package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/inboxpilot/provisioner/internal/server"
	"github.com/inboxpilot/provisioner/internal/version"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func NewServeCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the provisioning HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	return cmd
}

func runServe(opts *rootOptions) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	container, err := opts.container(false)
	if err != nil {
		return err
	}

	cfg := container.Config()

	log.Info().
		Str("version", version.GetVersion()).
		Str("http_address", cfg.HTTPAddress).
		Msg("Starting provisioner service")

	deps, err := container.BuildDependencies(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build provisioner dependencies")
	}
	defer deps.Close(context.Background())

	app := server.NewHTTPServer(ctx, server.HTTPServerDependencies{
		FrontendOrigin:         cfg.FrontendOrigin,
		ProvisioningController: deps.ProvisioningController,
		IdentityVerifier:       deps.IdentityVerifier,
		HealthChecks:           deps.HealthChecks,
	})

	if err := app.Listen(cfg.HTTPAddress, fiber.ListenConfig{
		GracefulContext:       ctx,
		DisableStartupMessage: true,
	}); err != nil {
		log.Error().Err(err).Msg("HTTP server failed")
		return err
	}

	log.Info().Msg("Provisioner service stopped")
	return nil
}
