package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "start [device-id] [name]",
		Short:   "Start a brew on a device",
		GroupID: gBrews,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			deviceID, err := parseID(args[0], "device id")
			if err != nil {
				return err
			}

			reg, err := openRegistry(nil)
			if err != nil {
				return err
			}
			defer reg.Close()

			brewID, err := reg.StartBrew(cmd.Context(), deviceID, args[1])
			if err != nil {
				return err
			}
			d, err := reg.Device(cmd.Context(), deviceID)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Started brew %d (%s) on %s\n", brewID, args[1], deviceLabel(d))
			return nil
		},
	}
}

func NewStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "stop [device-id]",
		Short:   "Stop the active brew of a device",
		GroupID: gBrews,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deviceID, err := parseID(args[0], "device id")
			if err != nil {
				return err
			}

			reg, err := openRegistry(nil)
			if err != nil {
				return err
			}
			defer reg.Close()

			d, err := reg.Device(cmd.Context(), deviceID)
			if err != nil {
				return err
			}
			if err := reg.StopBrew(cmd.Context(), deviceID); err != nil {
				return err
			}

			if !d.IsBrewing() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s was idle\n", deviceLabel(d))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stopped brew %d on %s\n", d.BrewID, deviceLabel(d))
			return nil
		},
	}
}

func NewBrewsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "brews",
		Short:   "List all brews",
		GroupID: gBrews,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := openRegistry(nil)
			if err != nil {
				return err
			}
			defer reg.Close()

			brews, err := reg.Brews(cmd.Context())
			if err != nil {
				return err
			}

			if len(brews) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No brews")
			}
			for _, b := range brews {
				printBrew(cmd.OutOrStdout(), b)
			}
			return nil
		},
	}
}

func NewMeasurementsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "measurements [brew-id]",
		Short:   "List all measurements recorded for a brew",
		GroupID: gBrews,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			brewID, err := parseID(args[0], "brew id")
			if err != nil {
				return err
			}

			reg, err := openRegistry(nil)
			if err != nil {
				return err
			}
			defer reg.Close()

			b, err := reg.Brew(cmd.Context(), brewID)
			if err != nil {
				return err
			}
			records, err := reg.Measurements(cmd.Context(), brewID)
			if err != nil {
				return err
			}

			printBrew(cmd.OutOrStdout(), b)
			for _, rec := range records {
				printRecord(cmd.OutOrStdout(), rec)
			}
			return nil
		},
	}
}
