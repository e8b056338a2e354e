package app

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sentinelr/devicesync/internal/backend"
	"github.com/sentinelr/devicesync/internal/config"
)

const (
	commandName = "sentinelr-dashboard"
	commandDesc = `The dashboard tool is the operator side of device sync. It issues pairing
codes, waits for a device to redeem them and keeps a live view of the
family's devices.`
)

type openFunc func() (*config.DashboardConfig, *backend.Client, error)

func NewDashboardCommand(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:           commandName,
		Short:         "Operate sentinelr device pairing and tracking",
		Long:          commandDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		newPairCommand(ctx, openClient),
		newWatchCommand(ctx, openClient),
		newDevicesCommand(ctx, openClient),
	)

	cmd.SetContext(ctx)
	return cmd
}

func openClient() (*config.DashboardConfig, *backend.Client, error) {
	cfg, err := config.LoadDashboard()
	if err != nil {
		return nil, nil, err
	}
	setupLogging(cfg.LogLevel)

	client, err := backend.NewClient(cfg.APIURL, backend.WithOperatorToken(cfg.OperatorToken))
	if err != nil {
		return nil, nil, err
	}
	return cfg, client, nil
}

func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
