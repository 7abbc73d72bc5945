package protocol

import (
	"fmt"
	"math"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// FieldID names a single field of the state payload.
type FieldID string

// State payload fields.
const (
	FieldPower        FieldID = "power"
	FieldBrightness   FieldID = "brightness"
	FieldMiniHeating  FieldID = "mini_heating"
	FieldNightMode    FieldID = "night_mode"
	FieldBoostMode    FieldID = "boost_mode"
	FieldAutoMode     FieldID = "auto_mode"
	FieldFlowsLocked  FieldID = "flows_locked"
	FieldSpeed        FieldID = "speed"
	FieldIntakePower  FieldID = "power_in"
	FieldIntakeSpeed  FieldID = "speed_in"
	FieldExhaustPower FieldID = "power_out"
	FieldExhaustSpeed FieldID = "speed_out"
	FieldWinterMode   FieldID = "winter_mode"
	FieldTempIn       FieldID = "temp_in"
	FieldTempOutside  FieldID = "temp_outside"
	FieldTempOut      FieldID = "temp_out"
	FieldHumidity     FieldID = "humidity"
	FieldCO2          FieldID = "co2"
	FieldTVOC         FieldID = "tvoc"
	FieldPressure     FieldID = "pressure"
	FieldDisplay      FieldID = "display"
)

// Encoding describes how a field's raw bytes map to its value.
type Encoding int

// Wire encodings used by Prana firmware.
const (
	// EncBool is a single byte, nonzero meaning true.
	EncBool Encoding = iota
	// EncByte is a single raw byte.
	EncByte
	// EncTenths is a single byte storing the value multiplied by ten.
	EncTenths
	// EncPow2 is a single byte storing 2^(level-1), zero for level 0.
	EncPow2
	// EncInt16 is a big-endian int16 masked to its low 14 bits, then
	// scaled by FieldSpec.Scale.
	EncInt16
)

// FieldSpec declares where a field lives in the state payload and how
// to interpret it. Scale and Bias convert the raw reading into physical
// units; Min and Max bound the converted value. Readings outside the
// declared range are rejected rather than merged.
type FieldSpec struct {
	ID     FieldID
	Offset int
	Enc    Encoding
	Scale  float64 // applied after decode; 0 means 1
	Bias   float64 // added after scaling
	Min    float64
	Max    float64
}

// Width returns the number of payload bytes the field occupies.
func (f FieldSpec) Width() int {
	if f.Enc == EncInt16 {
		return 2
	}
	return 1
}

// FrameKind classifies an opcode.
type FrameKind int

// Frame kinds.
const (
	// KindSet is a controller-to-device configuration write.
	KindSet FrameKind = iota
	// KindState covers both state requests and the state payloads the
	// device notifies back; v1 firmware echoes the request opcode.
	KindState
	// KindAck is an explicit command acknowledgment. No known firmware
	// revision emits one, but the table format reserves the kind so a
	// future revision can be described without codec changes.
	KindAck
)

// Table is a versioned description of one firmware revision's wire
// format: known opcodes, field layout, frame sizing and checksum rules.
// Tables are immutable once registered.
type Table struct {
	Version string

	// StateFrameLen is the reassembled state payload length. Shorter
	// prefix-valid frames still decode; only the fields that fit are
	// interpreted.
	StateFrameLen int

	// Opcodes maps each known opcode to its kind.
	Opcodes map[byte]FrameKind

	// Checksummed marks opcodes whose frames carry a trailing XOR
	// checksum over prefix, opcode and body. Empty for v1 firmware.
	Checksummed map[byte]bool

	// AckOpcode is set when the firmware emits explicit command acks.
	// When zero, command confirmation is inferred from the next state
	// payload reflecting the requested value.
	AckOpcode byte

	fields *orderedmap.OrderedMap[FieldID, FieldSpec]
}

// HasExplicitAck reports whether the firmware emits ack frames.
func (t *Table) HasExplicitAck() bool {
	return t.AckOpcode != 0
}

// Field returns the spec for the given field.
func (t *Table) Field(id FieldID) (FieldSpec, bool) {
	return t.fields.Get(id)
}

// Fields returns all field specs in declaration order.
func (t *Table) Fields() []FieldSpec {
	specs := make([]FieldSpec, 0, t.fields.Len())
	for pair := t.fields.Oldest(); pair != nil; pair = pair.Next() {
		specs = append(specs, pair.Value)
	}
	return specs
}

// validate checks the table for overlapping or out-of-bounds fields.
// Called at registration so a bad table fails at load time, not when a
// frame happens to exercise the broken field.
func (t *Table) validate() error {
	if t.StateFrameLen <= len(framePrefix) {
		return fmt.Errorf("table %s: state frame length %d too short", t.Version, t.StateFrameLen)
	}
	for pair := t.fields.Oldest(); pair != nil; pair = pair.Next() {
		spec := pair.Value
		if spec.ID != pair.Key {
			return fmt.Errorf("table %s: field %q registered under key %q", t.Version, spec.ID, pair.Key)
		}
		if spec.Offset < len(framePrefix) || spec.Offset+spec.Width() > t.StateFrameLen {
			return fmt.Errorf("table %s: field %q out of bounds [%d, %d)", t.Version, spec.ID, spec.Offset, spec.Offset+spec.Width())
		}
		if spec.Min > spec.Max {
			return fmt.Errorf("table %s: field %q has inverted range [%v, %v]", t.Version, spec.ID, spec.Min, spec.Max)
		}
	}
	return nil
}

func newTable(version string, stateLen int, specs []FieldSpec) *Table {
	fields := orderedmap.New[FieldID, FieldSpec]()
	for _, spec := range specs {
		fields.Set(spec.ID, spec)
	}
	return &Table{
		Version:       version,
		StateFrameLen: stateLen,
		Opcodes: map[byte]FrameKind{
			OpSet:          KindSet,
			OpStateRequest: KindState,
		},
		fields: fields,
	}
}

// decodeField extracts and converts one field from a raw frame. The
// second return is false when the field does not fit in the frame or
// the converted value violates the declared range.
func decodeField(raw []byte, spec FieldSpec) (float64, bool) {
	if spec.Offset+spec.Width() > len(raw) {
		return 0, false
	}

	var value float64
	switch spec.Enc {
	case EncBool:
		if raw[spec.Offset] != 0 {
			value = 1
		}
	case EncByte:
		value = float64(raw[spec.Offset])
	case EncTenths:
		value = float64(raw[spec.Offset]) / 10
	case EncPow2:
		b := raw[spec.Offset]
		if b == 0 {
			value = 0
		} else {
			value = math.Log2(float64(b)) + 1
		}
	case EncInt16:
		v := int16(raw[spec.Offset])<<8 | int16(raw[spec.Offset+1])
		value = float64(v & 0x3FFF)
	default:
		return 0, false
	}

	if spec.Scale != 0 {
		value *= spec.Scale
	}
	value += spec.Bias

	if value < spec.Min || value > spec.Max {
		return 0, false
	}
	return value, true
}

// TableV1 describes the wire format observed on current Prana firmware:
// a 100-byte state payload notified in chunks, no checksums and no
// explicit ack frames.
var TableV1 = newTable("v1", 100, []FieldSpec{
	{ID: FieldPower, Offset: 10, Enc: EncBool, Max: 1},
	{ID: FieldBrightness, Offset: 12, Enc: EncPow2, Max: MaxBrightness},
	{ID: FieldMiniHeating, Offset: 14, Enc: EncBool, Max: 1},
	{ID: FieldNightMode, Offset: 16, Enc: EncBool, Max: 1},
	{ID: FieldBoostMode, Offset: 18, Enc: EncBool, Max: 1},
	{ID: FieldAutoMode, Offset: 20, Enc: EncByte, Max: 2},
	{ID: FieldFlowsLocked, Offset: 22, Enc: EncBool, Max: 1},
	{ID: FieldSpeed, Offset: 26, Enc: EncTenths, Max: DeviceMaxSpeed},
	{ID: FieldIntakePower, Offset: 28, Enc: EncBool, Max: 1},
	{ID: FieldIntakeSpeed, Offset: 30, Enc: EncTenths, Max: DeviceMaxSpeed},
	{ID: FieldExhaustPower, Offset: 32, Enc: EncBool, Max: 1},
	{ID: FieldExhaustSpeed, Offset: 34, Enc: EncTenths, Max: DeviceMaxSpeed},
	{ID: FieldWinterMode, Offset: 42, Enc: EncBool, Max: 1},
	{ID: FieldTempIn, Offset: 48, Enc: EncInt16, Scale: 0.1, Min: -50, Max: 100},
	{ID: FieldTempOutside, Offset: 51, Enc: EncInt16, Scale: 0.1, Min: -50, Max: 100},
	{ID: FieldTempOut, Offset: 54, Enc: EncInt16, Scale: 0.1, Min: -50, Max: 100},
	{ID: FieldHumidity, Offset: 60, Enc: EncByte, Bias: -128, Min: 0, Max: 100},
	{ID: FieldCO2, Offset: 61, Enc: EncInt16, Min: 0, Max: 10000},
	{ID: FieldTVOC, Offset: 63, Enc: EncInt16, Min: 0, Max: 16000},
	{ID: FieldPressure, Offset: 77, Enc: EncInt16, Min: 0, Max: 1200},
	{ID: FieldDisplay, Offset: 99, Enc: EncByte, Max: 0x0A},
})

// tables holds every registered firmware table by version.
var tables = map[string]*Table{
	TableV1.Version: TableV1,
}

// LookupTable returns the field table for a firmware table version.
func LookupTable(version string) (*Table, error) {
	t, ok := tables[version]
	if !ok {
		return nil, fmt.Errorf("unknown protocol table version %q", version)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}
