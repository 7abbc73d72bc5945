package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/pranactl/pkg/prana"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow live state changes",
	Long: `Connect to a Prana unit and print a line for every state change
until interrupted. The session reconnects on its own when the link
drops; reconnection progress shows up in the stream.`,
	RunE: runWatch,
}

var (
	watchAddress  string
	watchInterval time.Duration
	watchJSON     bool
)

func init() {
	watchCmd.Flags().StringVarP(&watchAddress, "address", "a", "", "Device address (required)")
	watchCmd.Flags().DurationVarP(&watchInterval, "interval", "i", 0, "Poll interval override (default from config)")
	watchCmd.Flags().BoolVar(&watchJSON, "json", false, "Emit one JSON object per update")
	_ = watchCmd.MarkFlagRequired("address")
}

func runWatch(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	cfg, err := loadSessionConfig(cmd)
	if err != nil {
		return err
	}
	if watchInterval > 0 {
		cfg.UpdateInterval = watchInterval
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	sess, err := prana.Open(ctx, watchAddress, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to %q: %w", watchAddress, err)
	}
	defer func() { _ = sess.Close() }()

	fmt.Printf("Watching %s (poll every %s), Ctrl+C to stop\n", watchAddress, cfg.UpdateInterval)

	var last string
	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-sess.Updates():
			if !ok {
				return nil
			}
			line := renderWatchLine(st)
			// State publishes on every event; only changes are worth a line.
			if line == last {
				continue
			}
			last = line
			if watchJSON {
				if err := printState(st, "json"); err != nil {
					return err
				}
				continue
			}
			fmt.Printf("%s  %s\n", time.Now().Format("15:04:05"), line)
		}
	}
}

func renderWatchLine(st prana.DeviceState) string {
	link := string(st.Link)
	switch st.Link {
	case prana.StatusConnected:
		link = color.New(color.FgGreen).Sprint(link)
	case prana.StatusReconnecting, prana.StatusUnavailable:
		link = color.New(color.FgRed).Sprint(link)
	}
	if st.Stale {
		link += " " + staleTag()
	}

	tel := st.Telemetry
	mode := "manual"
	if tel.Mode != nil {
		mode = string(*tel.Mode)
	}
	return fmt.Sprintf("%s  power=%s speed=%s mode=%s temp_in=%s co2=%s hum=%s",
		link, onOff(tel.Power), optInt(tel.Speed, ""), mode,
		optTemp(tel.TempIn), co2Colored(tel.CO2), optInt(tel.Humidity, "%"))
}
