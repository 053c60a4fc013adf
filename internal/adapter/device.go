package adapter

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/dmx-adapter/internal/config"
	"github.com/dokzlo13/dmx-adapter/internal/gateway"
)

var (
	ErrUnknownDevice   = errors.New("unknown device")
	ErrUnknownProperty = errors.New("unknown property")
)

// Notifier tells the gateway about a changed property value.
type Notifier interface {
	SetPropertyValue(name string, value any) error
}

// Device is a configured fixture and its properties.
type Device struct {
	adapterID string
	cfg       config.Device

	props    map[string]Property
	order    []string
	values   *Values
	notifier Notifier
}

func newDevice(adapterID string, cfg config.Device, channels Channels, values *Values) *Device {
	d := &Device{
		adapterID: adapterID,
		cfg:       cfg,
		props:     make(map[string]Property),
		values:    values,
	}
	for _, pc := range cfg.Properties {
		d.add(NewLevelProperty(pc, channels))
	}
	for _, cc := range cfg.ColorProperties {
		d.add(NewColorProperty(cc, channels))
	}
	return d
}

func (d *Device) add(p Property) {
	d.props[p.Name()] = p
	d.order = append(d.order, p.Name())
}

// ID returns the device id.
func (d *Device) ID() string {
	return d.cfg.ID
}

// Description builds the device description announced to the gateway.
func (d *Device) Description() gateway.DeviceDescription {
	types := []string{}
	if len(d.cfg.ColorProperties) > 0 {
		types = append(types, "Light", "ColorControl")
	}

	props := make(map[string]gateway.PropertyDescription, len(d.props))
	for _, name := range d.order {
		props[name] = d.props[name].Description()
	}

	return gateway.DeviceDescription{
		AtType:      types,
		ID:          d.cfg.ID,
		Title:       d.cfg.Title,
		Description: "A dmx light",
		Properties:  props,
	}
}

// Update applies value to the named property, persists it and notifies the gateway.
// A rejected value leaves the universe untouched and sends no notification.
func (d *Device) Update(name string, value json.RawMessage) error {
	p, ok := d.props[name]
	if !ok {
		return fmt.Errorf("cannot find property %q in %q: %w", name, d.cfg.ID, ErrUnknownProperty)
	}

	normalized, err := p.Update(value)
	if err != nil {
		return err
	}

	d.persist(name, normalized)

	if d.notifier == nil {
		return nil
	}
	if err := d.notifier.SetPropertyValue(name, normalized); err != nil {
		return fmt.Errorf("could not set value for property %s: %w", name, err)
	}
	return nil
}

func (d *Device) persist(name string, value any) {
	if d.values == nil {
		return
	}
	raw, err := json.Marshal(value)
	var version int64
	if err == nil {
		version, err = d.values.Set(d.key(name), SavedValue{Value: raw})
	}
	if err != nil {
		log.Warn().Err(err).
			Str("device", d.cfg.ID).
			Str("property", name).
			Msg("Failed to persist property value")
		return
	}
	log.Trace().Str("device", d.cfg.ID).Str("property", name).Int64("version", version).Msg("Property value saved")
}

// restore writes the persisted values of all properties into the universe.
func (d *Device) restore() {
	if d.values == nil {
		return
	}
	for _, name := range d.order {
		entry, ok, err := d.values.Get(d.key(name))
		if err != nil {
			log.Warn().Err(err).Str("device", d.cfg.ID).Str("property", name).Msg("Failed to load saved value")
			continue
		}
		if !ok {
			continue
		}
		if err := d.props[name].Restore(entry.Value.Value); err != nil {
			log.Warn().Err(err).Str("device", d.cfg.ID).Str("property", name).Msg("Discarding saved value")
			continue
		}
		log.Debug().
			Str("device", d.cfg.ID).
			Str("property", name).
			RawJSON("value", entry.Value.Value).
			Int64("version", entry.Version).
			Time("saved_at", entry.UpdatedAt).
			Msg("Restored property value")
	}
}

func (d *Device) key(name string) string {
	return valueKey(d.adapterID, d.cfg.ID, name)
}
