package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stateValues describes the device settings a synthetic payload should
// carry. Zero values produce a powered-on unit with locked flows at
// speed 3 and typical sensor readings.
type stateValues struct {
	powerOff       bool
	brightness     int // level 0..6, encoded power-of-two
	miniHeating    bool
	nightMode      bool
	boostMode      bool
	autoMode       byte // 0 none, 1 auto, 2 auto_plus
	flowsUnlocked  bool
	speed          int
	intakeSpeed    int
	exhaustSpeed   int
	winterMode     bool
	tempInTenths   int
	tempOutTenths  int
	humidity       int
	co2            int
	tvoc           int
	pressure       int
	display        byte
}

// statePayload builds a full 100-byte state payload. mut, when not
// nil, adjusts the field values before encoding.
func statePayload(t *testing.T, mut func(*stateValues)) []byte {
	t.Helper()

	v := stateValues{
		brightness:    3,
		speed:         3,
		intakeSpeed:   3,
		exhaustSpeed:  3,
		tempInTenths:  215, // 21.5 C
		tempOutTenths: 183, // 18.3 C
		humidity:      55,
		co2:           800,
		tvoc:          120,
		pressure:      1012,
		display:       0x3, // co2
	}
	if mut != nil {
		mut(&v)
	}

	raw := make([]byte, TableV1.StateFrameLen)
	raw[0], raw[1], raw[2] = 0xBE, 0xEF, OpStateRequest

	setBool := func(offset int, on bool) {
		if on {
			raw[offset] = 1
		}
	}
	setU16 := func(offset, value int) {
		raw[offset] = byte(value >> 8)
		raw[offset+1] = byte(value)
	}

	setBool(10, !v.powerOff)
	if v.brightness > 0 {
		raw[12] = 1 << (v.brightness - 1)
	}
	setBool(14, v.miniHeating)
	setBool(16, v.nightMode)
	setBool(18, v.boostMode)
	raw[20] = v.autoMode
	setBool(22, !v.flowsUnlocked)
	raw[26] = byte(v.speed * 10)
	setBool(28, !v.powerOff)
	raw[30] = byte(v.intakeSpeed * 10)
	setBool(32, !v.powerOff)
	raw[34] = byte(v.exhaustSpeed * 10)
	setBool(42, v.winterMode)
	setU16(48, v.tempInTenths)
	setU16(51, v.tempOutTenths)
	setU16(54, v.tempOutTenths)
	raw[60] = byte(v.humidity + 128)
	setU16(61, v.co2)
	setU16(63, v.tvoc)
	setU16(77, v.pressure)
	raw[99] = v.display

	return raw
}

func decodeState(t *testing.T, raw []byte) Reading {
	t.Helper()
	frame, err := TableV1.Decode(raw)
	require.NoError(t, err)
	reading, rejected := TableV1.Interpret(frame)
	assert.Empty(t, rejected, "well-formed payload must not reject fields")
	return reading
}

func TestInterpretFullState(t *testing.T) {
	reading := decodeState(t, statePayload(t, nil))

	var snap Telemetry
	snap.Merge(reading, time.Now())

	require.NotNil(t, snap.Power)
	assert.True(t, *snap.Power)
	require.NotNil(t, snap.Speed)
	assert.Equal(t, 3, *snap.Speed)
	require.NotNil(t, snap.Brightness)
	assert.Equal(t, 3, *snap.Brightness)
	require.NotNil(t, snap.FlowsLocked)
	assert.True(t, *snap.FlowsLocked)
	require.NotNil(t, snap.TempIn)
	assert.InDelta(t, 21.5, *snap.TempIn, 0.001)
	require.NotNil(t, snap.TempOut)
	assert.InDelta(t, 18.3, *snap.TempOut, 0.001)
	require.NotNil(t, snap.Humidity)
	assert.Equal(t, 55, *snap.Humidity)
	require.NotNil(t, snap.CO2)
	assert.Equal(t, 800, *snap.CO2)
	require.NotNil(t, snap.TVOC)
	assert.Equal(t, 120, *snap.TVOC)
	require.NotNil(t, snap.Pressure)
	assert.Equal(t, 1012, *snap.Pressure)
	require.NotNil(t, snap.Display)
	assert.Equal(t, DisplayCO2, *snap.Display)
	assert.Nil(t, snap.Mode, "no preset flags set")
}

func TestInterpretPresetFlags(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*stateValues)
		want Preset
	}{
		{"auto", func(v *stateValues) { v.autoMode = 1 }, PresetAuto},
		{"auto_plus", func(v *stateValues) { v.autoMode = 2 }, PresetAutoPlus},
		{"boost", func(v *stateValues) { v.boostMode = true }, PresetBoost},
		{"night", func(v *stateValues) { v.nightMode = true }, PresetNight},
		{"auto wins over night", func(v *stateValues) {
			v.autoMode = 1
			v.nightMode = true
		}, PresetAuto},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var snap Telemetry
			snap.Merge(decodeState(t, statePayload(t, tt.mut)), time.Now())
			require.NotNil(t, snap.Mode)
			assert.Equal(t, tt.want, *snap.Mode)
		})
	}
}

func TestInterpretVirtualSpeed(t *testing.T) {
	// With flows unlocked the main speed byte is ignored; the
	// effective speed is the faster of the two fans.
	reading := decodeState(t, statePayload(t, func(v *stateValues) {
		v.flowsUnlocked = true
		v.speed = 1
		v.intakeSpeed = 2
		v.exhaustSpeed = 5
	}))

	var snap Telemetry
	snap.Merge(reading, time.Now())
	require.NotNil(t, snap.Speed)
	assert.Equal(t, 5, *snap.Speed)
}

func TestInterpretRejectsGarbledFields(t *testing.T) {
	// A field whose converted value violates its declared range must
	// be rejected without poisoning the rest of the reading.
	raw := statePayload(t, nil)
	raw[60] = 10 // humidity 10-128 = -118, below range

	frame, err := TableV1.Decode(raw)
	require.NoError(t, err)
	reading, rejected := TableV1.Interpret(frame)

	assert.Contains(t, rejected, FieldHumidity)
	assert.NotContains(t, reading, FieldHumidity)
	assert.Contains(t, reading, FieldCO2, "neighbouring fields must survive")
}

func TestInterpretShortFrameYieldsPartialReading(t *testing.T) {
	// A frame carrying only the leading option bytes decodes the
	// fields that fit and nothing else.
	raw := statePayload(t, nil)[:36]
	frame, err := TableV1.Decode(raw)
	require.NoError(t, err)

	reading, _ := TableV1.Interpret(frame)
	assert.Contains(t, reading, FieldPower)
	assert.Contains(t, reading, FieldSpeed)
	assert.NotContains(t, reading, FieldTempIn)
	assert.NotContains(t, reading, FieldCO2)
	assert.NotContains(t, reading, FieldDisplay)
}

func TestMergeLastValueWinsPerField(t *testing.T) {
	var snap Telemetry

	t0 := time.Now()
	snap.Merge(decodeState(t, statePayload(t, func(v *stateValues) { v.speed = 2; v.co2 = 700 })), t0)
	t1 := t0.Add(time.Second)
	snap.Merge(Reading{FieldCO2: 950}, t1)

	require.NotNil(t, snap.Speed)
	assert.Equal(t, 2, *snap.Speed, "field absent from second reading keeps its value")
	require.NotNil(t, snap.CO2)
	assert.Equal(t, 950, *snap.CO2, "last value wins")
	assert.Equal(t, t1, snap.UpdatedAt, "snapshot timestamp follows the final frame")
}

func TestTelemetryClone(t *testing.T) {
	var snap Telemetry
	snap.Merge(decodeState(t, statePayload(t, nil)), time.Now())

	clone := snap.Clone()
	*clone.Speed = 9
	*clone.Power = false

	assert.Equal(t, 3, *snap.Speed, "mutating the clone must not touch the original")
	assert.True(t, *snap.Power)
}

func TestTableV1Validates(t *testing.T) {
	assert.NoError(t, TableV1.validate())
}
