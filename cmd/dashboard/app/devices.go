package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sentinelr/devicesync/internal/model"
)

func newDevicesCommand(ctx context.Context, open openFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List and manage the family's devices",
	}

	filters := &filterOptions{}
	list := &cobra.Command{
		Use:   "list",
		Short: "List devices once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := filters.filters()
			if err != nil {
				return err
			}
			_, client, err := open()
			if err != nil {
				return err
			}
			res, err := client.GetFamilyDevices(ctx, f)
			if err != nil {
				return err
			}
			writeDeviceTable(cmd.OutOrStdout(), res.Devices)
			return nil
		},
	}
	filters.addFlags(list)

	unpair := &cobra.Command{
		Use:   "unpair DEVICE_ID",
		Short: "Revoke a device's credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := open()
			if err != nil {
				return err
			}
			if err := client.UnpairDevice(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unpaired %s\n", args[0])
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove DEVICE_ID",
		Short: "Remove a device from every listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := open()
			if err != nil {
				return err
			}
			if err := client.RemoveDevice(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}

	rename := &cobra.Command{
		Use:   "rename DEVICE_ID NAME",
		Short: "Change a device's display name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return updateDevice(ctx, cmd, open, args[0], model.UpdateDeviceParams{Name: &args[1]})
		},
	}

	assign := &cobra.Command{
		Use:   "assign DEVICE_ID [USER_ID]",
		Short: "Assign a device to a family member; omit the user to clear it",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := ""
			if len(args) == 2 {
				userID = args[1]
			}
			return updateDevice(ctx, cmd, open, args[0], model.UpdateDeviceParams{AssignedUserID: &userID})
		},
	}

	cmd.AddCommand(list, unpair, remove, rename, assign)
	return cmd
}

func updateDevice(ctx context.Context, cmd *cobra.Command, open openFunc, id string, params model.UpdateDeviceParams) error {
	_, client, err := open()
	if err != nil {
		return err
	}
	device, err := client.UpdateDevice(ctx, id, params)
	if err != nil {
		return err
	}
	writeDeviceTable(cmd.OutOrStdout(), []model.Device{*device})
	return nil
}
