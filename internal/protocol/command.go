package protocol

import (
	"fmt"
)

// IntentFault is the specific kind of command-building failure.
type IntentFault string

// Intent fault kinds.
const (
	// OutOfRange means a requested value violates the field's valid
	// domain or the configured session limit.
	OutOfRange IntentFault = "out_of_range"
	// InvalidIntent means the intent cannot be expressed as a device
	// command at all (unknown preset, toggle with unknown state, ...).
	InvalidIntent IntentFault = "invalid_intent"
)

// IntentError reports an intent rejected before any radio write.
type IntentError struct {
	Fault IntentFault
	Msg   string
}

// Error implements the error interface.
func (e *IntentError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Fault)
	}
	return fmt.Sprintf("%s: %s", e.Fault, e.Msg)
}

// Is allows errors.Is to compare IntentError values by fault kind.
func (e *IntentError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*IntentError)
	if !ok {
		return false
	}
	return e.Fault == t.Fault
}

// Predefined sentinel errors for intent faults.
var (
	ErrOutOfRange    = &IntentError{Fault: OutOfRange}
	ErrInvalidIntent = &IntentError{Fault: InvalidIntent}
)

func outOfRange(format string, args ...interface{}) error {
	return &IntentError{Fault: OutOfRange, Msg: fmt.Sprintf(format, args...)}
}

func invalidIntent(format string, args ...interface{}) error {
	return &IntentError{Fault: InvalidIntent, Msg: fmt.Sprintf(format, args...)}
}

// Command is a validated intent to change one device setting, ready to
// encode. Commands carry the field they target so a newer command for
// the same field supersedes an older unconfirmed one, and a predicate
// that decides confirmation from subsequent telemetry.
type Command struct {
	// Name is a human-readable description used in logs.
	Name string
	// Field is the supersession key: the state field this command
	// drives.
	Field FieldID
	// NoOp marks an intent already satisfied by current state. The
	// firmware only exposes toggles for option settings, so "set to
	// the value it already has" must not be written - it would flip
	// the setting.
	NoOp bool

	frame   Frame
	confirm func(*Telemetry) bool
}

// Frame returns the codec-ready frame for this command.
func (c Command) Frame() Frame {
	return c.frame
}

// ConfirmedBy reports whether the snapshot reflects the commanded
// value. Commands with no confirmation predicate (plain state requests)
// are never confirmed this way.
func (c Command) ConfirmedBy(t *Telemetry) bool {
	if t == nil || c.confirm == nil {
		return false
	}
	return c.confirm(t)
}

func setCommand(name string, field FieldID, code byte, confirm func(*Telemetry) bool) Command {
	return Command{
		Name:    name,
		Field:   field,
		frame:   Frame{Opcode: OpSet, Body: []byte{code}},
		confirm: confirm,
	}
}

// RequestState builds the poll command that makes the unit notify its
// full state payload.
func RequestState() Command {
	body := make([]byte, len(requestStateBody))
	copy(body, requestStateBody)
	return Command{
		Name:  "request_state",
		frame: Frame{Opcode: OpStateRequest, Body: body},
	}
}

// blowerCodec groups the per-blower wire constants and state accessors.
type blowerCodec struct {
	speedField  FieldID
	powerField  FieldID
	speedBase   byte
	powerToggle byte
	speed       func(*Telemetry) *int
	power       func(*Telemetry) *bool
}

var blowers = map[Blower]blowerCodec{
	BlowerMain: {
		speedField: FieldSpeed, powerField: FieldPower,
		speedBase: codeSpeedBase, powerToggle: codePowerToggle,
		speed: func(t *Telemetry) *int { return t.Speed },
		power: func(t *Telemetry) *bool { return t.Power },
	},
	BlowerIntake: {
		speedField: FieldIntakeSpeed, powerField: FieldIntakePower,
		speedBase: codeIntakeSpeedBase, powerToggle: codeIntakePowerToggle,
		speed: func(t *Telemetry) *int { return t.IntakeSpeed },
		power: func(t *Telemetry) *bool { return t.IntakePower },
	},
	BlowerExhaust: {
		speedField: FieldExhaustSpeed, powerField: FieldExhaustPower,
		speedBase: codeExhaustSpeedBase, powerToggle: codeExhaustPowerToggle,
		speed: func(t *Telemetry) *int { return t.ExhaustSpeed },
		power: func(t *Telemetry) *bool { return t.ExhaustPower },
	},
}

// SetSpeed builds a command driving one blower to the given level.
// Level 0 turns the blower off; maxSpeed is the session-configured
// limit, itself capped by the device maximum. Validation happens here,
// before the intent ever reaches the radio.
func SetSpeed(blower Blower, level, maxSpeed int) (Command, error) {
	codec, ok := blowers[blower]
	if !ok {
		return Command{}, invalidIntent("unknown blower %q", blower)
	}
	if maxSpeed < 1 || maxSpeed > DeviceMaxSpeed {
		return Command{}, outOfRange("max speed %d outside 1..%d", maxSpeed, DeviceMaxSpeed)
	}
	if level < 0 || level > maxSpeed {
		return Command{}, outOfRange("speed %d outside 0..%d", level, maxSpeed)
	}

	name := fmt.Sprintf("set_speed(%s=%d)", blower, level)
	if level == 0 {
		// Speed 0 is a soft power-off; the firmware only has a toggle,
		// so the caller resolves "already off" via SetSpeed with the
		// current state (see SetSpeedWithState).
		return setCommand(name, codec.speedField, codec.powerToggle, func(t *Telemetry) bool {
			p := codec.power(t)
			return p != nil && !*p
		}), nil
	}
	return setCommand(name, codec.speedField, codec.speedBase+byte(level), func(t *Telemetry) bool {
		s := codec.speed(t)
		return s != nil && *s == level
	}), nil
}

// SetSpeedWithState is SetSpeed with toggle resolution against current
// state: a speed-0 intent on an already-off blower becomes a no-op
// instead of a power toggle that would switch it back on.
func SetSpeedWithState(blower Blower, level, maxSpeed int, current *Telemetry) (Command, error) {
	cmd, err := SetSpeed(blower, level, maxSpeed)
	if err != nil {
		return Command{}, err
	}
	if level == 0 && current != nil {
		if p := blowers[blower].power(current); p != nil && !*p {
			cmd.NoOp = true
		}
	}
	return cmd, nil
}

// SetBrightness builds a command setting the front panel brightness.
func SetBrightness(level int) (Command, error) {
	if level < 0 || level > MaxBrightness {
		return Command{}, outOfRange("brightness %d outside 0..%d", level, MaxBrightness)
	}
	return setCommand(fmt.Sprintf("set_brightness(%d)", level), FieldBrightness,
		codeBrightnessBase+byte(level), func(t *Telemetry) bool {
			return t.Brightness != nil && *t.Brightness == level
		}), nil
}

// SetDisplay builds a command selecting the front panel display mode.
func SetDisplay(mode DisplayMode) (Command, error) {
	code, ok := displayCodes[mode]
	if !ok {
		return Command{}, invalidIntent("unknown display mode %q", mode)
	}
	return setCommand(fmt.Sprintf("set_display(%s)", mode), FieldDisplay, code,
		func(t *Telemetry) bool {
			return t.Display != nil && *t.Display == mode
		}), nil
}

// presetExpansion is one row of the fixed preset table: the selection
// code plus the settings the firmware drives when the preset engages.
// The expansion is declared, not computed, so a firmware revision that
// redefines a preset only needs a table change.
type presetExpansion struct {
	code byte
	// minSpeed/maxSpeed bound the main fan level the preset settles
	// at; confirmation only requires the mode flag, the bounds are
	// informational for consumers rendering the preset.
	minSpeed, maxSpeed int
}

var presetTable = map[Preset]presetExpansion{
	PresetAuto:     {code: codePresetAuto, minSpeed: 1, maxSpeed: DeviceMaxSpeed},
	PresetAutoPlus: {code: codePresetAutoPlus, minSpeed: 1, maxSpeed: DeviceMaxSpeed},
	PresetNight:    {code: codePresetNight, minSpeed: 1, maxSpeed: 1},
	PresetBoost:    {code: codePresetBoost, minSpeed: DeviceMaxSpeed, maxSpeed: DeviceMaxSpeed},
}

// SetPreset builds a command engaging a named preset.
func SetPreset(preset Preset) (Command, error) {
	exp, ok := presetTable[preset]
	if !ok {
		return Command{}, invalidIntent("unknown preset %q", preset)
	}
	return setCommand(fmt.Sprintf("set_preset(%s)", preset), FieldAutoMode, exp.code,
		func(t *Telemetry) bool {
			return t.Mode != nil && *t.Mode == preset
		}), nil
}

// optionCodec groups a toggleable option's wire code and state accessor.
type optionCodec struct {
	field  FieldID
	toggle byte
	value  func(*Telemetry) *bool
}

var options = map[Option]optionCodec{
	OptionMiniHeating: {
		field: FieldMiniHeating, toggle: codeMiniHeatingToggle,
		value: func(t *Telemetry) *bool { return t.MiniHeating },
	},
	OptionWinterMode: {
		field: FieldWinterMode, toggle: codeWinterModeToggle,
		value: func(t *Telemetry) *bool { return t.WinterMode },
	},
	OptionFlowsLock: {
		field: FieldFlowsLocked, toggle: codeFlowsLockToggle,
		value: func(t *Telemetry) *bool { return t.FlowsLocked },
	},
}

// SetOption builds a command driving a toggleable option to the given
// value. The firmware only exposes toggle commands, so the current
// state must be known: intents against an unknown state are rejected
// rather than blindly flipping the setting, and intents already
// satisfied come back as no-ops.
func SetOption(option Option, on bool, current *Telemetry) (Command, error) {
	codec, ok := options[option]
	if !ok {
		return Command{}, invalidIntent("unknown option %q", option)
	}

	var state *bool
	if current != nil {
		state = codec.value(current)
	}
	if state == nil {
		return Command{}, invalidIntent("current %s state unknown; poll before toggling", option)
	}

	cmd := setCommand(fmt.Sprintf("set_option(%s=%t)", option, on), codec.field,
		codec.toggle, func(t *Telemetry) bool {
			v := codec.value(t)
			return v != nil && *v == on
		})
	cmd.NoOp = *state == on
	return cmd, nil
}
