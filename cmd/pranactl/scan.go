package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/pranactl/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for Prana units",
	Long: `Scan for Prana units in the vicinity and display their addresses,
signal strength and model. Use --all to include every BLE device seen,
not just the ones that look like Prana units.`,
	RunE: runScanCmd,
}

var (
	scanDuration  time.Duration
	scanFormat    string
	scanAll       bool
	scanAllowList []string
	scanBlockList []string
	scanWatch     bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 for indefinite)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "Include devices that do not look like Prana units")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
	scanCmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Continuously scan and update results")
}

func runScanCmd(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format %q: must be table or json", scanFormat)
	}

	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	s, err := scanner.NewScanner(logger)
	if err != nil {
		return fmt.Errorf("failed to create BLE scanner: %w", err)
	}

	opts := &scanner.ScanOptions{
		Duration:        scanDuration,
		DuplicateFilter: !scanWatch,
		IncludeUnknown:  scanAll,
		AllowList:       scanAllowList,
		BlockList:       scanBlockList,
	}
	if scanWatch && !cmd.Flags().Changed("duration") {
		opts.Duration = 0 // watch until interrupted
	}

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	if scanWatch {
		return runScanWatch(ctx, s, opts, logger)
	}
	return runScanOnce(ctx, s, opts)
}

func runScanOnce(ctx context.Context, s *scanner.Scanner, opts *scanner.ScanOptions) error {
	progress := newProgressPrinter("Scanning for Prana units", opts.Duration)
	progress.start()
	defer progress.stop()

	units, err := s.Scan(ctx, opts, progress.callback())
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	progress.stop()

	return displayUnits(unitList(units), scanFormat)
}

func runScanWatch(ctx context.Context, s *scanner.Scanner, opts *scanner.ScanOptions, logger *logrus.Logger) error {
	units := make(map[string]scanner.Unit)

	scanErrCh := make(chan error, 1)
	go func() {
		_, err := s.Scan(ctx, opts, nil)
		scanErrCh <- err
	}()

	redraw := time.NewTicker(time.Second)
	defer redraw.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-scanErrCh:
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			// Scan window elapsed; keep showing what we have.
			logger.Debug("Scan completed, still watching events")

		case ev := <-s.Events():
			units[ev.Unit.Address] = ev.Unit

		case <-redraw.C:
			fmt.Print("\033[2J\033[H")
			if err := displayUnits(unitList(units), scanFormat); err != nil {
				return err
			}
		}
	}
}

func unitList(units map[string]scanner.Unit) []scanner.Unit {
	list := make([]scanner.Unit, 0, len(units))
	for _, u := range units {
		list = append(list, u)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Prana != list[j].Prana {
			return list[i].Prana // Prana units first
		}
		return list[i].Address < list[j].Address
	})
	return list
}

func displayUnits(units []scanner.Unit, format string) error {
	if format == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(units)
	}

	if len(units) == 0 {
		fmt.Println("No devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tMODEL\tADDRESS\tRSSI\tLAST SEEN")
	fmt.Fprintln(w, strings.Repeat("-", 72))

	for _, u := range units {
		name := u.Name
		if name == "" {
			name = "(unnamed)"
		}
		if len(name) > 24 {
			name = name[:21] + "..."
		}
		if u.Prana {
			name = color.New(color.FgGreen).Sprint(name)
		}

		model := u.Model
		if model == "" {
			model = "-"
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%d dBm\t%s ago\n",
			name, model, u.Address, u.RSSI,
			time.Since(u.LastSeen).Truncate(time.Second))
	}
	return w.Flush()
}
