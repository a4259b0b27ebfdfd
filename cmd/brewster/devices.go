package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fako1024/brewster/pkg/brewometer"
	"github.com/fako1024/brewster/pkg/registry"
)

func NewScanCommand() *cobra.Command {
	var (
		register bool
		window   time.Duration
	)

	cmd := &cobra.Command{
		Use:     "scan",
		Short:   "Discover brewometers in range",
		GroupID: gDevices,
		Long: `Discover all brewometers in range.

With --register, every discovered device that is not known yet is added to the
registry. When attached to a terminal, name and color are prompted for.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if window <= 0 {
				window = cfg.ScanWindow()
			}

			var reg *registry.Registry
			if register {
				var err error
				if reg, err = openRegistry(registrationNamer(os.Stdin, cmd.OutOrStdout())); err != nil {
					return err
				}
				defer reg.Close()
			}

			a, err := openAdapter()
			if err != nil {
				return err
			}
			defer a.Close()

			return scan(cmd.Context(), cmd, a, reg, window)
		},
	}

	cmd.Flags().BoolVarP(&register, "register", "r", false, "register discovered devices")
	cmd.Flags().DurationVarP(&window, "window", "w", 0, "scan duration (default from config)")

	return cmd
}

func scan(ctx context.Context, cmd *cobra.Command, s brewometer.Scanner, reg *registry.Registry, window time.Duration) error {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, red("Scanning for devices..."))
	adverts, err := s.Scan(ctx, window)
	if err != nil {
		return fmt.Errorf("could not scan: %w", err)
	}
	if len(adverts) == 0 {
		fmt.Fprintln(out, "No brewometers found")
		return nil
	}

	for _, adv := range adverts {
		connectable := ""
		if !adv.Connectable {
			connectable = " (not connectable)"
		}
		fmt.Fprintf(out, "    Brew Device : %s, %d dBm%s\n", cyan(adv.Address), adv.RSSI, connectable)

		if reg == nil {
			continue
		}
		id, err := reg.RegisterDevice(ctx, adv.Address)
		if err != nil {
			return err
		}
		d, err := reg.Device(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "        registered as %d (%s)\n", d.ID, deviceLabel(d))
	}

	return nil
}

func NewRegisterCommand() *cobra.Command {
	var namer registry.StaticNamer

	cmd := &cobra.Command{
		Use:     "register [address]",
		Short:   "Register a device by address",
		GroupID: gDevices,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openRegistry(namer)
			if err != nil {
				return err
			}
			defer reg.Close()

			id, err := reg.RegisterDevice(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			d, err := reg.Device(cmd.Context(), id)
			if err != nil {
				return err
			}
			printDevice(cmd.OutOrStdout(), d)

			return nil
		},
	}

	cmd.Flags().StringVar(&namer.DeviceName, "name", "", "display name (default: Brewometer <id>)")
	cmd.Flags().StringVar(&namer.DeviceColor, "color", "", "display color")

	return cmd
}

func NewDevicesCommand() *cobra.Command {
	var active bool

	cmd := &cobra.Command{
		Use:     "devices",
		Short:   "List registered devices",
		GroupID: gDevices,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := openRegistry(nil)
			if err != nil {
				return err
			}
			defer reg.Close()

			var devices []brewometer.Device
			if active {
				devices, err = reg.ActiveDevices(cmd.Context())
			} else {
				devices, err = reg.Devices(cmd.Context())
			}
			if err != nil {
				return err
			}

			if len(devices) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No devices")
			}
			for _, d := range devices {
				printDevice(cmd.OutOrStdout(), d)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&active, "active", "a", false, "only list devices with an active brew")

	return cmd
}
