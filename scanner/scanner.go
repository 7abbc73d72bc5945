// Package scanner discovers Prana units in the BLE advertisement
// stream. Units are recognized by their advertised local name prefix or
// by the Prana service UUID; everything else is noise unless the caller
// asks for it.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/pranactl/internal/protocol"
	"github.com/srg/pranactl/internal/radio"
	"github.com/srg/pranactl/internal/ringchan"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// UnitEventType marks if the unit was newly discovered or updated
type UnitEventType int

// Unit event types.
const (
	EventNew UnitEventType = iota
	EventUpdated
)

// UnitEvent is one discovery event on the Events stream.
type UnitEvent struct {
	Type UnitEventType
	Unit Unit
}

// Unit is one device seen during a scan. Prana is true when the
// advertisement matched a known name prefix or the Prana service.
type Unit struct {
	Address     string
	Name        string
	Model       string // advertised name with the firmware prefix trimmed
	Prana       bool
	RSSI        int
	Connectable bool
	FirstSeen   time.Time
	LastSeen    time.Time
	Adverts     int
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration        time.Duration
	DuplicateFilter bool
	// IncludeUnknown keeps devices that do not look like Prana units.
	IncludeUnknown bool
	AllowList      []string
	BlockList      []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		DuplicateFilter: true,
	}
}

// Scanner handles Prana unit discovery.
type Scanner struct {
	units  *hashmap.Map[string, *Unit]
	events *ringchan.RingChannel[UnitEvent]
	logger *logrus.Logger

	scanOptions *ScanOptions
}

// NewScanner creates a new BLE scanner
func NewScanner(logger *logrus.Logger) (*Scanner, error) {
	if logger == nil {
		logger = logrus.New()
	}

	return &Scanner{
		units:  hashmap.New[string, *Unit](),
		events: ringchan.New[UnitEvent](100),
		logger: logger,
	}, nil
}

// pranaService is the advertised service UUID in go-ble form.
var pranaService = blelib.MustParse(protocol.ServiceUUID)

// MatchName reports whether an advertised local name belongs to a Prana
// unit, returning the model with the firmware prefix trimmed.
func MatchName(name string) (string, bool) {
	for _, prefix := range protocol.AdvertisedNamePrefixes {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		model := strings.TrimLeft(strings.TrimPrefix(name, prefix), " -_")
		if model == "" {
			model = name
		}
		return model, true
	}
	return "", false
}

// Scan performs BLE discovery with the provided options. The returned
// map is keyed by device address.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) (map[string]Unit, error) {
	s.units = hashmap.New[string, *Unit]()

	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")
	progressCallback("Scanning")

	dev, err := radio.DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}

	scanCtx := ctx
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	s.scanOptions = opts
	defer func() {
		s.scanOptions = nil
	}()
	err = dev.Scan(scanCtx, opts.DuplicateFilter, s.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	s.logger.WithField("unit_count", s.units.Len()).Info("BLE scan completed")
	progressCallback("Processing results")

	units := make(map[string]Unit, s.units.Len())
	s.units.Range(func(key string, value *Unit) bool {
		units[key] = *value
		return true
	})
	return units, nil
}

// handleAdvertisement updates an existing unit or records a new one.
// The radio layer invokes it serially.
func (s *Scanner) handleAdvertisement(adv blelib.Advertisement) {
	address := adv.Addr().String()
	if !s.shouldInclude(adv, s.scanOptions) {
		return
	}

	name := adv.LocalName()
	model, prana := MatchName(name)
	if !prana {
		prana = advertisesPranaService(adv)
	}
	if !prana && !s.scanOptions.IncludeUnknown {
		return
	}

	now := time.Now()
	unit, existing := s.units.GetOrInsert(address, &Unit{
		Address:     address,
		Name:        name,
		Model:       model,
		Prana:       prana,
		Connectable: adv.Connectable(),
		FirstSeen:   now,
	})

	unit.RSSI = adv.RSSI()
	unit.LastSeen = now
	unit.Adverts++
	if prana {
		unit.Prana = true
	}
	if name != "" {
		unit.Name = name
		if model != "" {
			unit.Model = model
		}
	}

	event := UnitEvent{Type: EventUpdated, Unit: *unit}
	if !existing {
		event.Type = EventNew
		s.logger.WithFields(logrus.Fields{
			"name":    unit.Name,
			"address": unit.Address,
			"rssi":    unit.RSSI,
			"prana":   unit.Prana,
		}).Info("Discovered device")
	}
	s.events.Send(event)
}

func advertisesPranaService(adv blelib.Advertisement) bool {
	for _, advUUID := range adv.Services() {
		if pranaService.Equal(advUUID) {
			return true
		}
	}
	return false
}

// shouldInclude applies the allow and block lists.
func (s *Scanner) shouldInclude(adv blelib.Advertisement, opts *ScanOptions) bool {
	addr := adv.Addr().String()

	for _, blocked := range opts.BlockList {
		if strings.EqualFold(addr, blocked) {
			return false
		}
	}

	if len(opts.AllowList) > 0 {
		for _, a := range opts.AllowList {
			if strings.EqualFold(addr, a) {
				return true
			}
		}
		return false
	}
	return true
}

// Units returns the discovered units sorted by address.
func (s *Scanner) Units() []Unit {
	units := make([]Unit, 0, s.units.Len())
	s.units.Range(func(key string, value *Unit) bool {
		units = append(units, *value)
		return true
	})
	sort.Slice(units, func(i, j int) bool {
		return units[i].Address < units[j].Address
	})
	return units
}

// Events returns a read-only channel of discovery events.
func (s *Scanner) Events() <-chan UnitEvent {
	return s.events.C()
}
