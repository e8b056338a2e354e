package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sentinelr/devicesync/internal/activation"
	"github.com/sentinelr/devicesync/internal/config"
	apperrors "github.com/sentinelr/devicesync/internal/errors"
	"github.com/sentinelr/devicesync/internal/model"
	"github.com/sentinelr/devicesync/internal/reporter"
	"github.com/sentinelr/devicesync/internal/scheduler"
)

// pairedCheckInterval is how often run notices a server-side unpair.
const pairedCheckInterval = 2 * time.Second

type openFunc func() (*agent, error)

func (a *agent) activationClient() *activation.Client {
	return activation.New(a.client, a.state, activation.Options{
		DeviceName: a.host.Info().Name,
		Platform:   a.host.Info().OSVersion,
	})
}

func newActivateCommand(ctx context.Context, open openFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "activate [CODE]",
		Short: "Pair this device with the code shown on the dashboard",
		Long:  "Pair this device with the code shown on the dashboard. Without CODE the code is read from stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.Close()

			client := a.activationClient()
			var creds model.DeviceCredentials
			if len(args) == 1 {
				creds, err = client.Activate(ctx, args[0])
			} else {
				readCode(cmd.InOrStdin(), client)
				creds, err = client.Submit(ctx)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "paired as device %s\n", creds.DeviceID)
			return nil
		},
	}
}

// readCode types each stdin line into the client. Submit flushes the last
// pending value.
func readCode(in io.Reader, client *activation.Client) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		client.Type(scanner.Text())
	}
}

func newScanCommand(ctx context.Context, open openFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "scan PAYLOAD",
		Short: "Pair this device from a scanned QR payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.Close()

			client := a.activationClient()
			payload, err := client.Scan(args[0])
			if err != nil {
				return err
			}
			if payload.Name != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "pairing as %q\n", payload.Name)
			}

			creds, err := client.Submit(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "paired as device %s\n", creds.DeviceID)
			return nil
		},
	}
}

func newStatusCommand(open openFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the persisted pairing and tracking state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.Close()

			snap := a.state.Snapshot()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "paired:   %t\n", snap.Paired)
			fmt.Fprintf(out, "tracking: %t\n", snap.TrackingEnabled)
			if snap.Paired {
				fmt.Fprintf(out, "device:   %s\n", snap.Credentials.DeviceID)
				fmt.Fprintf(out, "token:    %s\n", maskToken(snap.Credentials.UploadToken))
			}
			return nil
		},
	}
}

func newTrackingCommand(ctx context.Context, open openFunc) *cobra.Command {
	return &cobra.Command{
		Use:       "tracking on|off",
		Short:     "Enable or disable background location reporting",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.Close()

			want := args[0] == "on"
			enabled, err := a.state.ToggleTracking(ctx, &want)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tracking: %t\n", enabled)
			return nil
		},
	}
}

func newUnpairCommand(ctx context.Context, open openFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "unpair",
		Short: "Forget this device's credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.state.UnpairDevice(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "unpaired")
			return nil
		},
	}
}

func newRunCommand(ctx context.Context, open openFunc) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Report heartbeats and, when tracking is on, location until stopped",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open()
			if err != nil {
				return err
			}
			defer a.Close()

			if !a.state.Paired() {
				return apperrors.NotPaired()
			}
			return a.run(ctx, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

// run blocks until ctx is done or the device is unpaired by the server.
func (a *agent) run(ctx context.Context, metricsAddr string) error {
	sched := scheduler.New()
	defer sched.Shutdown()

	runner := reporter.NewGoroutineRunner(a.host)
	locations, err := reporter.NewLocationReporter(a.state, runner, a.host, a.client, reporter.LocationOptions{
		Updates: reporter.UpdateOptions{
			MinDistance:      a.cfg.MinDistanceMeters,
			MinInterval:      a.cfg.MinInterval(),
			DeferredDistance: a.cfg.BatchMaxDistanceMeters,
			DeferredInterval: a.cfg.BatchMaxAge(),
			SampleEvery:      config.LocationSampleWindow,
		},
		QueueSize: a.cfg.PingRetryQueueSize,
	})
	if err != nil {
		return err
	}
	heartbeat := reporter.NewHeartbeatReporter(sched, a.state, a.host, a.client, a.cfg.HeartbeatInterval())

	if a.state.TrackingEnabled() {
		if err := locations.Start(ctx); err != nil {
			return err
		}
		if err := locations.ReportCurrent(ctx); err != nil {
			log.Warn().Err(err).Msg("initial location report failed")
		}
	}
	heartbeat.Start()
	a.trackingSeen = a.state.TrackingEnabled()

	// Shutdown keeps the tracking flag so the next run resumes reporting.
	defer runner.Stop(context.Background(), reporter.LocationJobName)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(pairedCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := a.syncState(gctx, locations); err != nil {
					return err
				}
			}
		}
	})

	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler()}
		g.Go(func() error {
			log.Info().Str("addr", metricsAddr).Msg("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	log.Info().
		Bool("tracking", a.state.TrackingEnabled()).
		Dur("heartbeatInterval", a.cfg.HeartbeatInterval()).
		Msg("companion running")

	err = g.Wait()
	if apperrors.GetCode(err) == apperrors.ErrCodeNotPaired {
		log.Warn().Msg("device was unpaired, stopping")
		return nil
	}
	return err
}

// syncState applies flags written by other companion invocations, such as
// `tracking off` or `unpair`, to the running reporters.
func (a *agent) syncState(ctx context.Context, locations *reporter.LocationReporter) error {
	if _, err := a.state.Reload(ctx); err != nil {
		log.Warn().Err(err).Msg("device state reload failed")
		return nil
	}

	if !a.state.Paired() {
		// runs the registered stoppers even if an upload saw the unpair first
		if err := a.state.UnpairDevice(ctx); err != nil {
			log.Error().Err(err).Msg("failed to stop reporters after unpair")
		}
		return apperrors.NotPaired()
	}

	enabled := a.state.TrackingEnabled()
	turnedOn := enabled && !a.trackingSeen
	a.trackingSeen = enabled

	switch {
	case !enabled && locations.IsRunning():
		log.Info().Msg("tracking disabled, stopping location reporting")
		if err := locations.Stop(ctx); err != nil {
			log.Error().Err(err).Msg("failed to stop location reporting")
		}
	case turnedOn && !locations.IsRunning():
		log.Info().Msg("tracking enabled, starting location reporting")
		if err := locations.Start(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to start location reporting")
		}
	}
	return nil
}

func maskToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", 8) + token[len(token)-4:]
}
