package app

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sentinelr/devicesync/internal/backend"
	"github.com/sentinelr/devicesync/internal/config"
	"github.com/sentinelr/devicesync/internal/credstore"
	"github.com/sentinelr/devicesync/internal/platform"
	"github.com/sentinelr/devicesync/internal/redis"
	"github.com/sentinelr/devicesync/internal/tracking"
)

const (
	commandName = "sentinelr-companion"
	commandDesc = `The companion agent runs on a tracked device. It redeems a pairing code
shown on the dashboard and then reports location and heartbeats in the
background until the device is unpaired.`
)

type simOptions struct {
	latitude  float64
	longitude float64
	step      float64
}

// agent is the wiring shared by every subcommand.
type agent struct {
	cfg    *config.CompanionConfig
	store  credstore.Store
	state  *tracking.State
	host   *platform.Simulated
	client *backend.Client
	// last tracking flag seen by run; only the run loop touches it
	trackingSeen bool
}

func (a *agent) Close() error {
	return a.store.Close()
}

func NewCompanionCommand(ctx context.Context) *cobra.Command {
	sim := &simOptions{}

	cmd := &cobra.Command{
		Use:           commandName,
		Short:         "Run the sentinelr companion agent",
		Long:          commandDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().Float64Var(&sim.latitude, "lat", 0, "starting latitude of the simulated device")
	cmd.PersistentFlags().Float64Var(&sim.longitude, "lon", 0, "starting longitude of the simulated device")
	cmd.PersistentFlags().Float64Var(&sim.step, "step", 25, "meters the simulated device moves between fixes")

	open := func() (*agent, error) {
		return newAgent(ctx, sim)
	}

	cmd.AddCommand(
		newActivateCommand(ctx, open),
		newScanCommand(ctx, open),
		newStatusCommand(open),
		newTrackingCommand(ctx, open),
		newUnpairCommand(ctx, open),
		newRunCommand(ctx, open),
	)

	cmd.SetContext(ctx)
	return cmd
}

func newAgent(ctx context.Context, sim *simOptions) (*agent, error) {
	cfg, err := config.LoadCompanion()
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.LogLevel)

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	state, err := tracking.Open(ctx, store)
	if err != nil {
		store.Close()
		return nil, err
	}

	client, err := backend.NewClient(cfg.APIURL)
	if err != nil {
		store.Close()
		return nil, err
	}

	host := platform.NewSimulated(platform.SimulatedOptions{
		Name:       cfg.DeviceName,
		AppVersion: cfg.AppVersion,
		Latitude:   sim.latitude,
		Longitude:  sim.longitude,
		StepMeters: sim.step,
	})

	return &agent{cfg: cfg, store: store, state: state, host: host, client: client}, nil
}

// openStore prefers Redis when configured so several agents on one host can
// share a state server; otherwise a local SQLite file is used.
func openStore(cfg *config.CompanionConfig) (credstore.Store, error) {
	if cfg.StateRedisURL != "" {
		rc, err := redis.NewClient(cfg.StateRedisURL)
		if err != nil {
			return nil, fmt.Errorf("connect state redis: %w", err)
		}
		return credstore.NewRedisStore(rc.Client, cfg.DeviceName), nil
	}
	return credstore.OpenSQLite(cfg.StatePath)
}

func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
