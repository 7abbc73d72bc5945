// Package protocol implements the proprietary Prana BLE frame protocol:
// command encoding, state-frame decoding and the versioned field table
// that maps raw payload bytes to physical readings.
//
// The package is pure transform code - it performs no I/O and holds no
// connection state. Byte layouts are firmware-specific and captured in
// versioned tables (see table.go) rather than spread across the codebase.
package protocol

// GATT endpoints advertised by Prana units.
const (
	// ServiceUUID is the primary service advertised by Prana units.
	ServiceUUID = "000000ee-0000-1000-8000-00805f9b34fb"
	// ControlCharacteristicUUID is the single read/write/notify
	// characteristic carrying all command and state traffic.
	ControlCharacteristicUUID = "0000cccc-0000-1000-8000-00805f9b34fb"
)

// AdvertisedNamePrefixes lists local-name prefixes used by known Prana
// firmware revisions. Used by the scanner to pick Prana units out of a
// crowded advertisement stream.
var AdvertisedNamePrefixes = []string{"PRNAQaq", "PRANA", "PRNBYav"}

// Every frame on the wire starts with this two-byte prefix, followed by
// a one-byte opcode.
var framePrefix = []byte{0xBE, 0xEF}

// Opcodes understood by the v1 firmware.
const (
	// OpSet writes a single configuration code byte.
	OpSet byte = 0x04
	// OpStateRequest asks the unit to notify its full state payload.
	// State responses echo the same opcode.
	OpStateRequest byte = 0x05
)

// Set-command code bytes (the single byte following OpSet).
const (
	codePowerToggle        byte = 0x0A
	codeIntakePowerToggle  byte = 0x0D
	codeExhaustPowerToggle byte = 0x10

	codeSpeedBase        byte = 0x32 // main fan, level 1..10 -> 0x33..0x3C
	codeIntakeSpeedBase  byte = 0x1E
	codeExhaustSpeedBase byte = 0x28

	codeBrightnessBase byte = 0x6E // level 0..6 -> 0x6E..0x74

	codeMiniHeatingToggle byte = 0x05
	codeFlowsLockToggle   byte = 0x09
	codeWinterModeToggle  byte = 0x16
)

// Preset selection codes.
const (
	codePresetNight    byte = 0x06
	codePresetBoost    byte = 0x07
	codePresetAuto     byte = 0x43
	codePresetAutoPlus byte = 0x44
)

// Display mode selection codes, indexed by DisplayMode.
var displayCodes = map[DisplayMode]byte{
	DisplayFan:        0x62,
	DisplayTempIn:     0x5B,
	DisplayTempOut:    0x5C,
	DisplayCO2:        0x5D,
	DisplayTVOC:       0x5E,
	DisplayHumidity:   0x5F,
	DisplayEfficiency: 0x60,
	DisplayPressure:   0x61,
	DisplayDate:       0x63,
	DisplayTime:       0x64,
}

// Raw display byte in the state payload, indexed by wire value.
var displayByValue = map[byte]DisplayMode{
	0x0: DisplayFan,
	0x1: DisplayTempIn,
	0x2: DisplayTempOut,
	0x3: DisplayCO2,
	0x4: DisplayTVOC,
	0x5: DisplayHumidity,
	0x6: DisplayEfficiency,
	0x7: DisplayPressure,
	0x9: DisplayDate,
	0xA: DisplayTime,
}

// requestStateBody is the fixed body of the state request frame. The
// trailing 0x5A is part of the firmware's fixed request payload, not a
// computed checksum.
var requestStateBody = []byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x5A}

// DisplayMode identifies what the front panel shows.
type DisplayMode string

// Known front panel display modes.
const (
	DisplayFan        DisplayMode = "fan"
	DisplayTempIn     DisplayMode = "temp_in"
	DisplayTempOut    DisplayMode = "temp_out"
	DisplayCO2        DisplayMode = "co2"
	DisplayTVOC       DisplayMode = "tvoc"
	DisplayHumidity   DisplayMode = "humidity"
	DisplayEfficiency DisplayMode = "efficiency"
	DisplayPressure   DisplayMode = "pressure"
	DisplayDate       DisplayMode = "date"
	DisplayTime       DisplayMode = "time"
)

// DisplayModes returns all selectable display modes in panel order.
func DisplayModes() []DisplayMode {
	return []DisplayMode{
		DisplayFan, DisplayTempIn, DisplayTempOut, DisplayCO2,
		DisplayTVOC, DisplayHumidity, DisplayEfficiency,
		DisplayPressure, DisplayDate, DisplayTime,
	}
}

// Preset identifies a named bundle of fan and option settings the
// firmware applies atomically.
type Preset string

// Presets supported by the v1 firmware.
const (
	PresetAuto     Preset = "auto"
	PresetAutoPlus Preset = "auto_plus"
	PresetNight    Preset = "night"
	PresetBoost    Preset = "boost"
)

// Presets returns all selectable presets.
func Presets() []Preset {
	return []Preset{PresetAuto, PresetAutoPlus, PresetNight, PresetBoost}
}

// Blower identifies one of the unit's fans.
type Blower string

// The unit has a pair of counter-running fans plus a combined "main"
// control used when flows are locked together.
const (
	BlowerMain    Blower = "main"
	BlowerIntake  Blower = "intake"
	BlowerExhaust Blower = "exhaust"
)

// Option identifies a toggleable device setting.
type Option string

// Toggleable options.
const (
	OptionMiniHeating Option = "mini_heating"
	OptionWinterMode  Option = "winter_mode"
	OptionFlowsLock   Option = "flows_lock"
)

// Device-wide limits for the v1 firmware.
const (
	// DeviceMaxSpeed is the highest fan level the firmware accepts,
	// regardless of the configured session limit.
	DeviceMaxSpeed = 10
	// MaxBrightness is the highest front panel brightness level.
	MaxBrightness = 6
)
