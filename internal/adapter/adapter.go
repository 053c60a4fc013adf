package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/dmx-adapter/internal/config"
	"github.com/dokzlo13/dmx-adapter/internal/dmx"
	"github.com/dokzlo13/dmx-adapter/internal/gateway"
)

// RegisterFunc announces a device to the gateway and returns its notifier.
type RegisterFunc func(desc gateway.DeviceDescription) (Notifier, error)

// GatewayRegistrar registers devices on a gateway adapter.
func GatewayRegistrar(a *gateway.Adapter) RegisterFunc {
	return func(desc gateway.DeviceDescription) (Notifier, error) {
		dev, err := a.AddDevice(desc)
		if err != nil {
			return nil, err
		}
		return dev, nil
	}
}

// Adapter owns one DMX player and the devices wired to its universe.
type Adapter struct {
	cfg    config.Adapter
	player *dmx.Player

	mu      sync.RWMutex
	devices map[string]*Device
	pending []*Device
}

// New builds the devices of cfg on a fresh player. values may be nil to disable persistence.
func New(cfg config.Adapter, values *Values, opts ...dmx.Option) *Adapter {
	a := &Adapter{
		cfg:     cfg,
		player:  dmx.NewPlayer(nil, opts...),
		devices: make(map[string]*Device),
	}
	for _, dc := range cfg.Devices {
		a.pending = append(a.pending, newDevice(cfg.ID, dc, a.player, values))
	}
	return a
}

// ID returns the adapter id.
func (a *Adapter) ID() string {
	return a.cfg.ID
}

// Player returns the adapter's player.
func (a *Adapter) Player() *dmx.Player {
	return a.player
}

// Init restores saved values, starts the player on the configured serial port
// and registers the devices. A failed start is returned as *dmx.ConnectionError
// and no device is registered.
func (a *Adapter) Init(ctx context.Context, register RegisterFunc) error {
	for _, d := range a.pending {
		d.restore()
	}

	if err := a.player.Start(ctx, a.cfg.SerialPort); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, d := range a.pending {
		log.Info().
			Str("adapter", a.cfg.ID).
			Str("device", d.ID()).
			Str("title", d.cfg.Title).
			Msg("Creating device")

		n, err := register(d.Description())
		if err != nil {
			log.Error().Err(err).Str("device", d.ID()).Msg("Could not create device")
			continue
		}
		d.notifier = n
		a.devices[d.ID()] = d
	}
	a.pending = nil
	return nil
}

// Device returns a registered device.
func (a *Adapter) Device(id string) (*Device, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	d, ok := a.devices[id]
	return d, ok
}

// Update routes a set-property command to the device.
func (a *Adapter) Update(deviceID, property string, value json.RawMessage) error {
	d, ok := a.Device(deviceID)
	if !ok {
		return fmt.Errorf("cannot find device %q: %w", deviceID, ErrUnknownDevice)
	}
	return d.Update(property, value)
}

// Close stops the player and releases the serial port.
func (a *Adapter) Close() error {
	return a.player.Stop()
}
