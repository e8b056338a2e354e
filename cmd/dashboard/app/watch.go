package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sentinelr/devicesync/internal/backend"
	"github.com/sentinelr/devicesync/internal/dashboard"
	"github.com/sentinelr/devicesync/internal/model"
)

type filterOptions struct {
	status string
	userID string
}

func (o *filterOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.status, "status", "", "only devices with this pair status")
	cmd.Flags().StringVar(&o.userID, "user", "", "only devices assigned to this user")
}

func (o *filterOptions) filters() (model.DeviceFilters, error) {
	f := model.DeviceFilters{UserID: o.userID}
	if o.status != "" {
		status := model.PairStatus(o.status)
		if !status.Valid() {
			return f, fmt.Errorf("unknown status %q", o.status)
		}
		f.Status = &status
	}
	return f, nil
}

func newWatchCommand(ctx context.Context, open openFunc) *cobra.Command {
	filters := &filterOptions{}

	cmd := &cobra.Command{
		Use:   "watch [DEVICE_ID]",
		Short: "Print the device list on every change and follow one device's location",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := filters.filters()
			if err != nil {
				return err
			}
			cfg, client, err := open()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			p := &printer{out: cmd.OutOrStdout()}
			var rejected error
			feed := client.Feed(backend.FeedOptions{
				Tables: []model.ChangeTable{model.ChangeTableDevices, model.ChangeTableMemberships},
			})
			view := dashboard.NewDeviceSync(client, dashboard.FromFeed(feed), dashboard.Options{
				Filters:          f,
				LivePollInterval: cfg.LivePollInterval(),
				OnList:           p.devices,
				Viewport:         p.location,
				OnUnauthorized: func(err error) {
					p.mu.Lock()
					rejected = err
					p.mu.Unlock()
					cancel()
				},
			})
			defer view.Close()

			if err := view.Open(ctx); err != nil {
				return err
			}
			if len(args) == 1 {
				view.Select(args[0])
			}

			<-ctx.Done()

			p.mu.Lock()
			defer p.mu.Unlock()
			if rejected != nil {
				return rejected
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		},
	}
	filters.addFlags(cmd)
	return cmd
}

// printer serializes output from the list sync and the live poller.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) devices(devices []model.Device) {
	p.mu.Lock()
	defer p.mu.Unlock()
	writeDeviceTable(p.out, devices)
}

func (p *printer) location(e model.LocationEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "%s  %s  %.6f,%.6f  ±%.0fm\n",
		e.RecordedAt.Local().Format(time.TimeOnly), e.DeviceName, e.Latitude, e.Longitude, e.Accuracy)
}

func writeDeviceTable(out io.Writer, devices []model.Device) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tONLINE\tBATTERY\tLAST SEEN")
	for _, d := range devices {
		battery := "-"
		if d.BatteryLevel != nil {
			battery = fmt.Sprintf("%d%%", *d.BatteryLevel)
		}
		lastSeen := "never"
		if d.LastSeenAt != nil {
			lastSeen = d.LastSeenAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n", d.ID, d.Name, d.PairStatus, d.Online, battery, lastSeen)
	}
	tw.Flush()
}
