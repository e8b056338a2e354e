package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	apperrors "github.com/sentinelr/devicesync/internal/errors"
	"github.com/sentinelr/devicesync/internal/pairing"
)

type pairOptions struct {
	deviceName string
	qrOut      string
	qrSize     int
	retries    int
}

func newPairCommand(ctx context.Context, open openFunc) *cobra.Command {
	opts := &pairOptions{}

	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Issue a pairing code and wait for a device to redeem it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, client, err := open()
			if err != nil {
				return err
			}

			// coalesced: the loop reads the current snapshot on every nudge
			changed := make(chan struct{}, 1)
			session := pairing.NewSession(client, pairing.SessionOptions{
				DeviceName:     opts.deviceName,
				Window:         cfg.PairingWindow(),
				ConnectTimeout: cfg.PairingConnectTimeout(),
				OnChange: func(pairing.Snapshot) {
					select {
					case changed <- struct{}{}:
					default:
					}
				},
			})
			defer session.Close()

			return runPairing(ctx, session, changed, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.deviceName, "name", "", "name suggested to the device")
	cmd.Flags().StringVar(&opts.qrOut, "qr-out", "", "write the QR code PNG to this file")
	cmd.Flags().IntVar(&opts.qrSize, "qr-size", pairing.DefaultQRSize, "QR code size in pixels")
	cmd.Flags().IntVar(&opts.retries, "retries", 0, "issue a new code this many times after a timeout or expiry")
	return cmd
}

// runPairing drives session from the first code to success. Countdown ticks
// also nudge changed; only state changes are acted on.
func runPairing(ctx context.Context, session *pairing.Session, changed <-chan struct{}, opts *pairOptions, out io.Writer) error {
	if err := session.Start(ctx); err != nil {
		return err
	}
	if err := showCode(session.Snapshot(), opts, out); err != nil {
		return err
	}
	// An interrupt cancels the session; it must not surface as a connect timeout.
	connectCtx := context.WithoutCancel(ctx)
	if err := session.Connect(connectCtx); err != nil {
		return err
	}

	retries := opts.retries
	last := pairing.StateConnecting
	for {
		select {
		case <-ctx.Done():
			if err := session.Cancel(); err != nil {
				return err
			}
			fmt.Fprintln(out, "pairing cancelled")
			return ctx.Err()
		case <-changed:
		}

		snap := session.Snapshot()
		if snap.State == last {
			continue
		}
		last = snap.State

		switch snap.State {
		case pairing.StateSuccess:
			if snap.Device != nil {
				fmt.Fprintf(out, "paired %q (%s)\n", snap.Device.Name, snap.Device.ID)
			} else {
				fmt.Fprintln(out, "paired")
			}
			return nil

		case pairing.StateTimeout, pairing.StateExpired:
			fmt.Fprintln(out, snap.Err.Message)
			if retries == 0 {
				return snap.Err
			}
			retries--

			next := session.Retry
			if snap.State == pairing.StateExpired {
				next = session.Regenerate
			}
			if err := next(ctx); err != nil {
				return err
			}
			if err := showCode(session.Snapshot(), opts, out); err != nil {
				return err
			}
			if err := session.Connect(connectCtx); err != nil {
				return err
			}
			last = pairing.StateConnecting
		}
	}
}

func showCode(snap pairing.Snapshot, opts *pairOptions, out io.Writer) error {
	fmt.Fprintf(out, "pairing code: %s (expires %s)\n", snap.Code, snap.ExpiresAt.Format(time.Kitchen))

	if opts.qrOut == "" {
		return nil
	}
	png, err := pairing.RenderQR(snap.QRPayload, opts.qrSize)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInternal, "render QR code", err)
	}
	if err := os.WriteFile(opts.qrOut, png, 0o644); err != nil {
		return fmt.Errorf("write QR code: %w", err)
	}
	fmt.Fprintf(out, "QR code written to %s\n", opts.qrOut)
	return nil
}
