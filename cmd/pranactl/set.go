package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/pranactl/internal/protocol"
	"github.com/srg/pranactl/pkg/prana"
)

// setCmd groups all state-changing commands.
var setCmd = &cobra.Command{
	Use:   "set",
	Short: "Change a device setting",
	Long: `Change one device setting and wait until the unit confirms it.

A setting counts as applied only when it shows up in the unit's own
state report; radio-level write acknowledgment is not enough.`,
}

var (
	setAddress string
	setTimeout time.Duration
	setBlower  string
)

func init() {
	setCmd.PersistentFlags().StringVarP(&setAddress, "address", "a", "", "Device address (required)")
	setCmd.PersistentFlags().DurationVarP(&setTimeout, "timeout", "t", 90*time.Second, "Overall operation timeout")
	_ = setCmd.MarkPersistentFlagRequired("address")

	speedCmd.Flags().StringVar(&setBlower, "blower", "main", "Blower to drive (main, intake, exhaust)")

	setCmd.AddCommand(speedCmd)
	setCmd.AddCommand(brightnessCmd)
	setCmd.AddCommand(displayCmd)
	setCmd.AddCommand(presetCmd)
	setCmd.AddCommand(optionCommand("winter", "Winter mode (anti-icing)", protocol.OptionWinterMode))
	setCmd.AddCommand(optionCommand("heating", "Mini heating", protocol.OptionMiniHeating))
	setCmd.AddCommand(optionCommand("flows-lock", "Lock intake and exhaust to one speed", protocol.OptionFlowsLock))
}

// withSession runs fn against a connected, synced session.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, sess *prana.Session) error) error {
	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	baseCtx, cancelTimeout := context.WithTimeout(context.Background(), setTimeout)
	defer cancelTimeout()
	ctx, cancel := signalContext(baseCtx)
	defer cancel()

	sess, err := openSession(ctx, cmd, setAddress, logger)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	if err := fn(ctx, sess); err != nil {
		return err
	}
	fmt.Println(color.New(color.FgGreen).Sprint("OK") + " - confirmed by the device")
	return nil
}

var speedCmd = &cobra.Command{
	Use:   "speed <level>",
	Short: "Set fan speed (0 turns the blower off)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid speed %q: %w", args[0], err)
		}
		blower := protocol.Blower(setBlower)
		return withSession(cmd, func(ctx context.Context, sess *prana.Session) error {
			return sess.SetSpeed(ctx, blower, level)
		})
	},
}

var brightnessCmd = &cobra.Command{
	Use:   "brightness <0-6>",
	Short: "Set front panel brightness",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid brightness %q: %w", args[0], err)
		}
		return withSession(cmd, func(ctx context.Context, sess *prana.Session) error {
			return sess.SetBrightness(ctx, level)
		})
	},
}

var displayCmd = &cobra.Command{
	Use:       "display <mode>",
	Short:     "Select what the front panel shows",
	Args:      cobra.ExactArgs(1),
	ValidArgs: displayModeNames(),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := protocol.DisplayMode(args[0])
		return withSession(cmd, func(ctx context.Context, sess *prana.Session) error {
			return sess.SetDisplay(ctx, mode)
		})
	},
}

var presetCmd = &cobra.Command{
	Use:       "preset <name>",
	Short:     "Engage a preset (auto, auto_plus, night, boost)",
	Args:      cobra.ExactArgs(1),
	ValidArgs: presetNames(),
	RunE: func(cmd *cobra.Command, args []string) error {
		preset := protocol.Preset(args[0])
		return withSession(cmd, func(ctx context.Context, sess *prana.Session) error {
			return sess.SetPreset(ctx, preset)
		})
	},
}

// optionCommand builds an on/off subcommand for a toggleable option.
func optionCommand(use, short string, option protocol.Option) *cobra.Command {
	return &cobra.Command{
		Use:       use + " <on|off>",
		Short:     short,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := parseOnOff(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, sess *prana.Session) error {
				return sess.SetOption(ctx, option, on)
			})
		},
	}
}

func parseOnOff(arg string) (bool, error) {
	switch arg {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid value %q: must be on or off", arg)
	}
}

func displayModeNames() []string {
	modes := protocol.DisplayModes()
	names := make([]string, len(modes))
	for i, m := range modes {
		names[i] = string(m)
	}
	return names
}

func presetNames() []string {
	presets := protocol.Presets()
	names := make([]string, len(presets))
	for i, p := range presets {
		names[i] = string(p)
	}
	return names
}
