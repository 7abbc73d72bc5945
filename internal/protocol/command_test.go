package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotWith(t *testing.T, mut func(*stateValues)) *Telemetry {
	t.Helper()
	var snap Telemetry
	snap.Merge(decodeState(t, statePayload(t, mut)), time.Now())
	return &snap
}

func TestSetSpeedValidation(t *testing.T) {
	t.Run("above configured max rejected before any radio write", func(t *testing.T) {
		_, err := SetSpeed(BlowerMain, 7, 5)
		assert.ErrorIs(t, err, ErrOutOfRange)
	})

	t.Run("negative rejected", func(t *testing.T) {
		_, err := SetSpeed(BlowerMain, -1, 5)
		assert.ErrorIs(t, err, ErrOutOfRange)
	})

	t.Run("bad max rejected", func(t *testing.T) {
		_, err := SetSpeed(BlowerMain, 1, 0)
		assert.ErrorIs(t, err, ErrOutOfRange)
		_, err = SetSpeed(BlowerMain, 1, DeviceMaxSpeed+1)
		assert.ErrorIs(t, err, ErrOutOfRange)
	})

	t.Run("configured max below device max is honoured", func(t *testing.T) {
		cmd, err := SetSpeed(BlowerMain, 5, 5)
		require.NoError(t, err)
		assert.Equal(t, FieldSpeed, cmd.Field)
	})
}

func TestSetSpeedWireCodes(t *testing.T) {
	tests := []struct {
		blower Blower
		level  int
		code   byte
	}{
		{BlowerMain, 3, 0x35},
		{BlowerMain, 0, 0x0A},
		{BlowerIntake, 4, 0x22},
		{BlowerIntake, 0, 0x0D},
		{BlowerExhaust, 2, 0x2A},
		{BlowerExhaust, 0, 0x10},
	}

	for _, tt := range tests {
		cmd, err := SetSpeed(tt.blower, tt.level, DeviceMaxSpeed)
		require.NoError(t, err)
		assert.Equal(t, []byte{tt.code}, cmd.Frame().Body, "%s level %d", tt.blower, tt.level)
		assert.Equal(t, OpSet, cmd.Frame().Opcode)
	}
}

func TestSetSpeedConfirmation(t *testing.T) {
	cmd, err := SetSpeed(BlowerIntake, 4, 5)
	require.NoError(t, err)

	assert.False(t, cmd.ConfirmedBy(snapshotWith(t, nil)), "snapshot at speed 3 does not confirm 4")
	assert.True(t, cmd.ConfirmedBy(snapshotWith(t, func(v *stateValues) { v.intakeSpeed = 4 })))
	assert.False(t, cmd.ConfirmedBy(nil))
}

func TestSetSpeedZeroIsPowerToggle(t *testing.T) {
	cmd, err := SetSpeedWithState(BlowerMain, 0, 5, snapshotWith(t, nil))
	require.NoError(t, err)
	assert.False(t, cmd.NoOp, "unit is on; speed 0 must toggle power")
	assert.True(t, cmd.ConfirmedBy(snapshotWith(t, func(v *stateValues) { v.powerOff = true })))

	cmd, err = SetSpeedWithState(BlowerMain, 0, 5, snapshotWith(t, func(v *stateValues) { v.powerOff = true }))
	require.NoError(t, err)
	assert.True(t, cmd.NoOp, "unit already off; toggling would switch it back on")
}

func TestSetBrightness(t *testing.T) {
	cmd, err := SetBrightness(4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x72}, cmd.Frame().Body)
	assert.True(t, cmd.ConfirmedBy(snapshotWith(t, func(v *stateValues) { v.brightness = 4 })))

	_, err = SetBrightness(MaxBrightness + 1)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = SetBrightness(-1)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestSetDisplay(t *testing.T) {
	cmd, err := SetDisplay(DisplayHumidity)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x5F}, cmd.Frame().Body)
	assert.True(t, cmd.ConfirmedBy(snapshotWith(t, func(v *stateValues) { v.display = 0x5 })))

	_, err = SetDisplay(DisplayMode("weather"))
	assert.ErrorIs(t, err, ErrInvalidIntent)
}

func TestSetPreset(t *testing.T) {
	tests := []struct {
		preset Preset
		code   byte
		mut    func(*stateValues)
	}{
		{PresetAuto, 0x43, func(v *stateValues) { v.autoMode = 1 }},
		{PresetAutoPlus, 0x44, func(v *stateValues) { v.autoMode = 2 }},
		{PresetNight, 0x06, func(v *stateValues) { v.nightMode = true }},
		{PresetBoost, 0x07, func(v *stateValues) { v.boostMode = true }},
	}

	for _, tt := range tests {
		cmd, err := SetPreset(tt.preset)
		require.NoError(t, err)
		assert.Equal(t, []byte{tt.code}, cmd.Frame().Body, "preset %s", tt.preset)
		assert.True(t, cmd.ConfirmedBy(snapshotWith(t, tt.mut)), "preset %s must confirm from its mode flag", tt.preset)
		assert.False(t, cmd.ConfirmedBy(snapshotWith(t, nil)), "preset %s must not confirm without its flag", tt.preset)
	}

	_, err := SetPreset(Preset("turbo"))
	assert.ErrorIs(t, err, ErrInvalidIntent)
}

func TestSetOptionToggleResolution(t *testing.T) {
	t.Run("unknown current state rejected", func(t *testing.T) {
		_, err := SetOption(OptionWinterMode, true, nil)
		assert.ErrorIs(t, err, ErrInvalidIntent)

		_, err = SetOption(OptionWinterMode, true, &Telemetry{})
		assert.ErrorIs(t, err, ErrInvalidIntent)
	})

	t.Run("state change emits the toggle", func(t *testing.T) {
		cmd, err := SetOption(OptionWinterMode, true, snapshotWith(t, nil))
		require.NoError(t, err)
		assert.False(t, cmd.NoOp)
		assert.Equal(t, []byte{0x16}, cmd.Frame().Body)
		assert.True(t, cmd.ConfirmedBy(snapshotWith(t, func(v *stateValues) { v.winterMode = true })))
	})

	t.Run("already satisfied becomes a no-op", func(t *testing.T) {
		cmd, err := SetOption(OptionMiniHeating, false, snapshotWith(t, nil))
		require.NoError(t, err)
		assert.True(t, cmd.NoOp, "mini heating already off; a toggle would turn it on")
	})

	t.Run("wire codes", func(t *testing.T) {
		current := snapshotWith(t, nil)
		heat, err := SetOption(OptionMiniHeating, true, current)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x05}, heat.Frame().Body)

		lock, err := SetOption(OptionFlowsLock, false, current)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x09}, lock.Frame().Body)
	})
}

func TestIdempotentCommandSequence(t *testing.T) {
	// Issuing the same command twice, the second after the first is
	// reflected in telemetry, settles on the same state: the second
	// run is either an identical absolute write (speeds) or a no-op
	// (toggles).
	cmd, err := SetSpeed(BlowerMain, 4, 5)
	require.NoError(t, err)
	settled := snapshotWith(t, func(v *stateValues) { v.speed = 4 })
	require.True(t, cmd.ConfirmedBy(settled))

	again, err := SetSpeedWithState(BlowerMain, 4, 5, settled)
	require.NoError(t, err)
	assert.Equal(t, cmd.Frame(), again.Frame(), "absolute speed writes are idempotent")
	assert.True(t, again.ConfirmedBy(settled), "already confirmed before any write")

	toggle, err := SetOption(OptionFlowsLock, true, settled)
	require.NoError(t, err)
	assert.True(t, toggle.NoOp, "repeated option intent resolves to a no-op")
}
