package radio

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
	"github.com/sirupsen/logrus"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
var DeviceFactory = func() (ble.Device, error) {
	dev, err := darwin.NewDevice()
	if err != nil {
		// Wrap Bluetooth state errors with clearer messages
		if strings.Contains(err.Error(), "central manager has invalid state") {
			if strings.Contains(err.Error(), "have=4") { // StatePoweredOff
				return nil, fmt.Errorf("Bluetooth is turned off - please enable Bluetooth and retry")
			}
			return nil, fmt.Errorf("Bluetooth is not ready - %w", err)
		}
		return nil, err
	}
	return dev, nil
}

// normalizeUUID converts a UUID string to the internal BLE library
// format (lowercase, no dashes).
func normalizeUUID(uuid string) string {
	return strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
}

// BLETransport implements Transport on top of go-ble.
type BLETransport struct {
	logger *logrus.Logger
}

// NewBLETransport creates a transport backed by the platform BLE stack.
func NewBLETransport(logger *logrus.Logger) *BLETransport {
	if logger == nil {
		logger = logrus.New()
	}
	return &BLETransport{logger: logger}
}

// ConnectGatt dials the peripheral and discovers its GATT profile.
func (t *BLETransport) ConnectGatt(ctx context.Context, address string) (Conn, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("%w: device address is not set", ErrUnreachable)
	}

	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)

	t.logger.WithField("address", address).Info("Connecting to BLE device...")

	client, err := ble.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, NormalizeError(fmt.Errorf("failed to connect to %q: %w", address, err))
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		_ = client.CancelConnection()
		return nil, NormalizeError(fmt.Errorf("failed to discover profile: %w", err))
	}

	conn := &bleConn{
		client: client,
		chars:  make(map[string]*ble.Characteristic),
		logger: t.logger,
	}
	for _, svc := range profile.Services {
		for _, char := range svc.Characteristics {
			conn.chars[normalizeUUID(char.UUID.String())] = char
		}
	}

	t.logger.WithFields(logrus.Fields{
		"address":         address,
		"characteristics": len(conn.chars),
	}).Info("BLE device connected")
	return conn, nil
}

type bleConn struct {
	client ble.Client
	chars  map[string]*ble.Characteristic
	logger *logrus.Logger
}

func (c *bleConn) characteristic(uuid string) (*ble.Characteristic, error) {
	char, ok := c.chars[normalizeUUID(uuid)]
	if !ok {
		return nil, fmt.Errorf("characteristic %q not found", uuid)
	}
	return char, nil
}

// WriteCharacteristic writes data to the characteristic. go-ble's
// client write is synchronous; the context only guards the lookup
// since the underlying call has no cancellation point.
func (c *bleConn) WriteCharacteristic(ctx context.Context, uuid string, data []byte, withResponse bool) error {
	char, err := c.characteristic(uuid)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.client.WriteCharacteristic(char, data, !withResponse); err != nil {
		return NormalizeError(fmt.Errorf("write to %q failed: %w", uuid, err))
	}
	return nil
}

func (c *bleConn) Subscribe(uuid string, handler func(data []byte)) error {
	char, err := c.characteristic(uuid)
	if err != nil {
		return err
	}
	if char.Property&ble.CharNotify == 0 && char.Property&ble.CharIndicate == 0 {
		return fmt.Errorf("characteristic %q does not support notifications", uuid)
	}
	if err := c.client.Subscribe(char, false, handler); err != nil {
		return NormalizeError(fmt.Errorf("subscribe to %q failed: %w", uuid, err))
	}
	return nil
}

func (c *bleConn) Disconnected() <-chan struct{} {
	return c.client.Disconnected()
}

func (c *bleConn) Close() error {
	if err := c.client.CancelConnection(); err != nil {
		c.logger.WithField("error", err).Warn("BLE device disconnected with errors")
		return err
	}
	return nil
}
