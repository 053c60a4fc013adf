// Package adapter maps configured DMX fixtures onto gateway devices.
package adapter

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/dokzlo13/dmx-adapter/internal/config"
	"github.com/dokzlo13/dmx-adapter/internal/dmx"
	"github.com/dokzlo13/dmx-adapter/internal/gateway"
)

// ErrInvalidValue is returned for property values of the wrong type or range.
var ErrInvalidValue = errors.New("invalid property value")

// Channels is the part of the DMX player properties write to.
type Channels interface {
	Set(offset int, values []byte) error
	Apply(writes ...dmx.Write) error
}

// Property is one controllable attribute of a device.
type Property interface {
	Name() string
	Description() gateway.PropertyDescription
	// Update writes value to the universe and returns it normalized.
	Update(value json.RawMessage) (any, error)
	// Restore writes a persisted value back without notifying anyone.
	Restore(value json.RawMessage) error
}

// LevelProperty drives a single channel with an integer 0..255.
type LevelProperty struct {
	cfg      config.Property
	channels Channels

	mu    sync.Mutex
	value int
}

// NewLevelProperty creates a level property for cfg.
func NewLevelProperty(cfg config.Property, channels Channels) *LevelProperty {
	return &LevelProperty{cfg: cfg, channels: channels}
}

func (p *LevelProperty) Name() string {
	return p.cfg.ID
}

func (p *LevelProperty) Description() gateway.PropertyDescription {
	p.mu.Lock()
	value := p.value
	p.mu.Unlock()

	return gateway.PropertyDescription{
		AtType:      "LevelProperty",
		Name:        p.cfg.ID,
		Title:       p.cfg.Title,
		Description: p.cfg.Title,
		Type:        "integer",
		Minimum:     float(0),
		Maximum:     float(255),
		MultipleOf:  float(1),
		Visible:     true,
		Value:       value,
	}
}

func (p *LevelProperty) Update(value json.RawMessage) (any, error) {
	level, err := parseLevel(value)
	if err != nil {
		return nil, fmt.Errorf("property %s: %w", p.cfg.ID, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.channels.Set(p.cfg.Address, []byte{byte(level)}); err != nil {
		return nil, fmt.Errorf("could not send DMX value for %s: %w", p.cfg.ID, err)
	}
	p.value = level
	return level, nil
}

func (p *LevelProperty) Restore(value json.RawMessage) error {
	_, err := p.Update(value)
	return err
}

func parseLevel(raw json.RawMessage) (int, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidValue, raw)
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("%w: %s is not a number", ErrInvalidValue, raw)
	}
	if f != math.Trunc(f) || f < 0 || f > 255 {
		return 0, fmt.Errorf("%w: %s is not an integer in 0-255", ErrInvalidValue, raw)
	}
	return int(f), nil
}

// ColorProperty drives three channels with a #rrggbb string.
type ColorProperty struct {
	cfg      config.ColorProperty
	channels Channels

	mu    sync.Mutex
	value string
}

// NewColorProperty creates a color property for cfg.
func NewColorProperty(cfg config.ColorProperty, channels Channels) *ColorProperty {
	return &ColorProperty{cfg: cfg, channels: channels, value: "#000000"}
}

func (p *ColorProperty) Name() string {
	return p.cfg.ID
}

func (p *ColorProperty) Description() gateway.PropertyDescription {
	p.mu.Lock()
	value := p.value
	p.mu.Unlock()

	return gateway.PropertyDescription{
		AtType:      "ColorProperty",
		Name:        p.cfg.ID,
		Title:       p.cfg.Title,
		Description: p.cfg.Title,
		Type:        "string",
		Visible:     true,
		Value:       value,
	}
}

func (p *ColorProperty) Update(value json.RawMessage) (any, error) {
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return nil, fmt.Errorf("property %s: %w: %s is not a string", p.cfg.ID, ErrInvalidValue, value)
	}
	rgb, err := parseColor(s)
	if err != nil {
		return nil, fmt.Errorf("property %s: %w", p.cfg.ID, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// One Apply so the player never sends a half-updated color.
	err = p.channels.Apply(
		dmx.Write{Offset: p.cfg.Red, Values: rgb[0:1]},
		dmx.Write{Offset: p.cfg.Green, Values: rgb[1:2]},
		dmx.Write{Offset: p.cfg.Blue, Values: rgb[2:3]},
	)
	if err != nil {
		return nil, fmt.Errorf("could not set DMX values for %s: %w", p.cfg.ID, err)
	}
	p.value = "#" + hex.EncodeToString(rgb[:])
	return p.value, nil
}

func (p *ColorProperty) Restore(value json.RawMessage) error {
	_, err := p.Update(value)
	return err
}

// parseColor accepts #rrggbb and #rgb, with or without the leading #.
func parseColor(s string) ([3]byte, error) {
	var rgb [3]byte

	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return rgb, fmt.Errorf("%w: could not parse color string %q", ErrInvalidValue, s)
	}
	if _, err := hex.Decode(rgb[:], []byte(h)); err != nil {
		return rgb, fmt.Errorf("%w: could not parse color string %q: %v", ErrInvalidValue, s, err)
	}
	return rgb, nil
}

func float(f float64) *float64 {
	return &f
}
