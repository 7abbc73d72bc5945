package protocol

import (
	"time"
)

// Reading is the set of fields decoded from a single frame, in
// converted physical units. A reading never fabricates fields: only
// fields whose bytes are present in the frame and whose values pass the
// table's range checks appear.
type Reading map[FieldID]float64

// Interpret decodes the telemetry fields carried by a state frame.
// Fields that do not fit in the frame are simply absent; fields whose
// converted value violates the declared range are dropped and reported
// in the second return so the caller can log them.
func (t *Table) Interpret(f Frame) (Reading, []FieldID) {
	if t.Kind(f) != KindState {
		return nil, nil
	}

	// Field offsets are declared relative to the full wire payload.
	raw := t.Encode(f)

	reading := make(Reading)
	var rejected []FieldID
	for pair := t.fields.Oldest(); pair != nil; pair = pair.Next() {
		spec := pair.Value
		if spec.Offset+spec.Width() > len(raw) {
			continue
		}
		value, ok := decodeField(raw, spec)
		if !ok {
			rejected = append(rejected, spec.ID)
			continue
		}
		reading[spec.ID] = value
	}
	return reading, rejected
}

// Telemetry is a decoded snapshot of the unit's state. Pointer fields
// distinguish "not reported yet" from zero values; partial readings
// from distinct frames merge last-value-wins per field.
type Telemetry struct {
	Power        *bool
	IntakePower  *bool
	ExhaustPower *bool

	Speed        *int
	IntakeSpeed  *int
	ExhaustSpeed *int

	Mode        *Preset
	Brightness  *int
	Display     *DisplayMode
	FlowsLocked *bool
	MiniHeating *bool
	WinterMode  *bool

	TempIn      *float64
	TempOut     *float64
	TempOutside *float64
	Humidity    *int
	CO2         *int
	TVOC        *int
	Pressure    *int

	// UpdatedAt is the receipt time of the final frame merged into the
	// snapshot.
	UpdatedAt time.Time
}

// Merge folds a reading into the snapshot, last value wins per field.
// The snapshot timestamp advances to the given receipt time.
func (s *Telemetry) Merge(r Reading, at time.Time) {
	if b, ok := r[FieldPower]; ok {
		s.Power = boolPtr(b != 0)
	}
	if b, ok := r[FieldIntakePower]; ok {
		s.IntakePower = boolPtr(b != 0)
	}
	if b, ok := r[FieldExhaustPower]; ok {
		s.ExhaustPower = boolPtr(b != 0)
	}
	if b, ok := r[FieldMiniHeating]; ok {
		s.MiniHeating = boolPtr(b != 0)
	}
	if b, ok := r[FieldWinterMode]; ok {
		s.WinterMode = boolPtr(b != 0)
	}
	if b, ok := r[FieldFlowsLocked]; ok {
		s.FlowsLocked = boolPtr(b != 0)
	}

	if v, ok := r[FieldIntakeSpeed]; ok {
		s.IntakeSpeed = intPtr(int(v))
	}
	if v, ok := r[FieldExhaustSpeed]; ok {
		s.ExhaustSpeed = intPtr(int(v))
	}
	if v, ok := r[FieldSpeed]; ok {
		speed := int(v)
		// When the flows are not locked together the main speed byte is
		// meaningless; the unit effectively runs at the faster of the
		// two fans.
		if s.FlowsLocked != nil && !*s.FlowsLocked &&
			s.IntakeSpeed != nil && s.ExhaustSpeed != nil {
			speed = *s.IntakeSpeed
			if *s.ExhaustSpeed > speed {
				speed = *s.ExhaustSpeed
			}
		}
		s.Speed = intPtr(speed)
	}

	if v, ok := r[FieldBrightness]; ok {
		s.Brightness = intPtr(int(v))
	}
	if v, ok := r[FieldDisplay]; ok {
		if mode, known := displayByValue[byte(v)]; known {
			s.Display = &mode
		}
	}

	s.mergeMode(r)

	if v, ok := r[FieldTempIn]; ok {
		s.TempIn = floatPtr(v)
	}
	if v, ok := r[FieldTempOut]; ok {
		s.TempOut = floatPtr(v)
	}
	if v, ok := r[FieldTempOutside]; ok {
		s.TempOutside = floatPtr(v)
	}
	if v, ok := r[FieldHumidity]; ok {
		s.Humidity = intPtr(int(v))
	}
	if v, ok := r[FieldCO2]; ok {
		s.CO2 = intPtr(int(v))
	}
	if v, ok := r[FieldTVOC]; ok {
		s.TVOC = intPtr(int(v))
	}
	if v, ok := r[FieldPressure]; ok {
		s.Pressure = intPtr(int(v))
	}

	s.UpdatedAt = at
}

// mergeMode derives the active preset from the mode flag bytes. Auto
// takes precedence, matching the firmware's own priority.
func (s *Telemetry) mergeMode(r Reading) {
	auto, hasAuto := r[FieldAutoMode]
	boost, hasBoost := r[FieldBoostMode]
	night, hasNight := r[FieldNightMode]
	if !hasAuto && !hasBoost && !hasNight {
		return
	}

	switch {
	case hasAuto && auto == 1:
		s.Mode = presetPtr(PresetAuto)
	case hasAuto && auto == 2:
		s.Mode = presetPtr(PresetAutoPlus)
	case hasBoost && boost != 0:
		s.Mode = presetPtr(PresetBoost)
	case hasNight && night != 0:
		s.Mode = presetPtr(PresetNight)
	default:
		s.Mode = nil
	}
}

// Clone returns an independent copy of the snapshot.
func (s *Telemetry) Clone() Telemetry {
	out := Telemetry{UpdatedAt: s.UpdatedAt}
	out.Power = copyBool(s.Power)
	out.IntakePower = copyBool(s.IntakePower)
	out.ExhaustPower = copyBool(s.ExhaustPower)
	out.Speed = copyInt(s.Speed)
	out.IntakeSpeed = copyInt(s.IntakeSpeed)
	out.ExhaustSpeed = copyInt(s.ExhaustSpeed)
	if s.Mode != nil {
		out.Mode = presetPtr(*s.Mode)
	}
	out.Brightness = copyInt(s.Brightness)
	if s.Display != nil {
		d := *s.Display
		out.Display = &d
	}
	out.FlowsLocked = copyBool(s.FlowsLocked)
	out.MiniHeating = copyBool(s.MiniHeating)
	out.WinterMode = copyBool(s.WinterMode)
	out.TempIn = copyFloat(s.TempIn)
	out.TempOut = copyFloat(s.TempOut)
	out.TempOutside = copyFloat(s.TempOutside)
	out.Humidity = copyInt(s.Humidity)
	out.CO2 = copyInt(s.CO2)
	out.TVOC = copyInt(s.TVOC)
	out.Pressure = copyInt(s.Pressure)
	return out
}

func boolPtr(v bool) *bool        { return &v }
func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
func presetPtr(v Preset) *Preset  { return &v }

func copyBool(v *bool) *bool {
	if v == nil {
		return nil
	}
	return boolPtr(*v)
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	return intPtr(*v)
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return floatPtr(*v)
}
