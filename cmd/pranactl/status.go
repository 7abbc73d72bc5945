package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/pranactl/pkg/prana"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the unit's current state",
	Long: `Connect to a Prana unit, poll its state once and print it.

Shows power, fan speeds, the active preset, option toggles and the
sensor block (temperatures, humidity, CO2, TVOC, pressure).`,
	RunE: runStatus,
}

var (
	statusAddress string
	statusFormat  string
	statusTimeout time.Duration
)

func init() {
	statusCmd.Flags().StringVarP(&statusAddress, "address", "a", "", "Device address (required)")
	statusCmd.Flags().StringVarP(&statusFormat, "format", "f", "table", "Output format (table, json)")
	statusCmd.Flags().DurationVarP(&statusTimeout, "timeout", "t", 30*time.Second, "Overall operation timeout")
	_ = statusCmd.MarkFlagRequired("address")
}

func runStatus(cmd *cobra.Command, args []string) error {
	if statusFormat != "table" && statusFormat != "json" {
		return fmt.Errorf("invalid format %q: must be table or json", statusFormat)
	}

	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	baseCtx, cancelTimeout := context.WithTimeout(context.Background(), statusTimeout)
	defer cancelTimeout()
	ctx, cancel := signalContext(baseCtx)
	defer cancel()

	sess, err := openSession(ctx, cmd, statusAddress, logger)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	return printState(sess.State(), statusFormat)
}

// statusView is the flattened, json-friendly projection of a snapshot.
type statusView struct {
	Address     string   `json:"address"`
	Link        string   `json:"link"`
	Stale       bool     `json:"stale"`
	LastSync    string   `json:"lastSync,omitempty"`
	Power       *bool    `json:"power,omitempty"`
	Speed       *int     `json:"speed,omitempty"`
	IntakeSpeed *int     `json:"intakeSpeed,omitempty"`
	ExhaustSpd  *int     `json:"exhaustSpeed,omitempty"`
	Mode        string   `json:"mode,omitempty"`
	FlowsLocked *bool    `json:"flowsLocked,omitempty"`
	WinterMode  *bool    `json:"winterMode,omitempty"`
	MiniHeating *bool    `json:"miniHeating,omitempty"`
	Brightness  *int     `json:"brightness,omitempty"`
	Display     string   `json:"display,omitempty"`
	TempIn      *float64 `json:"tempIn,omitempty"`
	TempOut     *float64 `json:"tempOut,omitempty"`
	TempOutside *float64 `json:"tempOutside,omitempty"`
	Humidity    *int     `json:"humidity,omitempty"`
	CO2         *int     `json:"co2,omitempty"`
	TVOC        *int     `json:"tvoc,omitempty"`
	Pressure    *int     `json:"pressure,omitempty"`
}

func newStatusView(st prana.DeviceState) statusView {
	v := statusView{
		Address:     st.Address,
		Link:        string(st.Link),
		Stale:       st.Stale,
		Power:       st.Telemetry.Power,
		Speed:       st.Telemetry.Speed,
		IntakeSpeed: st.Telemetry.IntakeSpeed,
		ExhaustSpd:  st.Telemetry.ExhaustSpeed,
		FlowsLocked: st.Telemetry.FlowsLocked,
		WinterMode:  st.Telemetry.WinterMode,
		MiniHeating: st.Telemetry.MiniHeating,
		Brightness:  st.Telemetry.Brightness,
		TempIn:      st.Telemetry.TempIn,
		TempOut:     st.Telemetry.TempOut,
		TempOutside: st.Telemetry.TempOutside,
		Humidity:    st.Telemetry.Humidity,
		CO2:         st.Telemetry.CO2,
		TVOC:        st.Telemetry.TVOC,
		Pressure:    st.Telemetry.Pressure,
	}
	if !st.LastSync.IsZero() {
		v.LastSync = st.LastSync.Format(time.RFC3339)
	}
	if st.Telemetry.Mode != nil {
		v.Mode = string(*st.Telemetry.Mode)
	}
	if st.Telemetry.Display != nil {
		v.Display = string(*st.Telemetry.Display)
	}
	return v
}

func printState(st prana.DeviceState, format string) error {
	if format == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(newStatusView(st))
	}
	return printStateTable(os.Stdout, st)
}

func onOff(v *bool) string {
	switch {
	case v == nil:
		return "-"
	case *v:
		return color.New(color.FgGreen).Sprint("on")
	default:
		return color.New(color.FgRed).Sprint("off")
	}
}

func staleTag() string {
	return color.New(color.FgYellow).Sprint("stale")
}

func optInt(v *int, unit string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d%s", *v, unit)
}

func optTemp(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f C", *v)
}

func printStateTable(out io.Writer, st prana.DeviceState) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	tel := st.Telemetry

	freshness := ""
	if st.Stale {
		freshness = " (" + staleTag() + ")"
	}
	fmt.Fprintf(w, "Device\t%s\n", st.Address)
	fmt.Fprintf(w, "Link\t%s%s\n", st.Link, freshness)
	if !st.LastSync.IsZero() {
		fmt.Fprintf(w, "Last sync\t%s ago\n", time.Since(st.LastSync).Truncate(time.Second))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Power\t%s\n", onOff(tel.Power))
	fmt.Fprintf(w, "Speed\t%s\n", optInt(tel.Speed, ""))
	if tel.FlowsLocked != nil && !*tel.FlowsLocked {
		fmt.Fprintf(w, "  intake\t%s\n", optInt(tel.IntakeSpeed, ""))
		fmt.Fprintf(w, "  exhaust\t%s\n", optInt(tel.ExhaustSpeed, ""))
	}
	mode := "manual"
	if tel.Mode != nil {
		mode = string(*tel.Mode)
	}
	fmt.Fprintf(w, "Mode\t%s\n", mode)
	fmt.Fprintf(w, "Flows locked\t%s\n", onOff(tel.FlowsLocked))
	fmt.Fprintf(w, "Winter mode\t%s\n", onOff(tel.WinterMode))
	fmt.Fprintf(w, "Mini heating\t%s\n", onOff(tel.MiniHeating))
	fmt.Fprintf(w, "Brightness\t%s\n", optInt(tel.Brightness, ""))
	display := "-"
	if tel.Display != nil {
		display = string(*tel.Display)
	}
	fmt.Fprintf(w, "Display\t%s\n", display)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Temp in\t%s\n", optTemp(tel.TempIn))
	fmt.Fprintf(w, "Temp out\t%s\n", optTemp(tel.TempOut))
	fmt.Fprintf(w, "Temp outside\t%s\n", optTemp(tel.TempOutside))
	fmt.Fprintf(w, "Humidity\t%s\n", optInt(tel.Humidity, " %"))
	fmt.Fprintf(w, "CO2\t%s\n", co2Colored(tel.CO2))
	fmt.Fprintf(w, "TVOC\t%s\n", optInt(tel.TVOC, " ppb"))
	fmt.Fprintf(w, "Pressure\t%s\n", optInt(tel.Pressure, " mmHg"))

	return w.Flush()
}

// co2Colored renders the CO2 reading with the usual air quality bands.
func co2Colored(v *int) string {
	if v == nil {
		return "-"
	}
	text := fmt.Sprintf("%d ppm", *v)
	switch {
	case *v >= 1400:
		return color.New(color.FgRed).Sprint(text)
	case *v >= 1000:
		return color.New(color.FgYellow).Sprint(text)
	default:
		return color.New(color.FgGreen).Sprint(text)
	}
}
