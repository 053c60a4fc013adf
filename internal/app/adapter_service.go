package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/dmx-adapter/internal/adapter"
	"github.com/dokzlo13/dmx-adapter/internal/dmx"
	"github.com/dokzlo13/dmx-adapter/internal/eventbus"
)

// unloader acknowledges an adapter unload to the gateway.
type unloader interface {
	Unload() error
}

type managedAdapter struct {
	dmx *adapter.Adapter
	gw  unloader
}

// AdapterService owns the running adapters and handles their bus events.
type AdapterService struct {
	bus *eventbus.Bus

	mu       sync.RWMutex
	adapters map[string]*managedAdapter
	order    []string
}

// NewAdapterService creates a new AdapterService.
func NewAdapterService(bus *eventbus.Bus) *AdapterService {
	return &AdapterService{
		bus:      bus,
		adapters: make(map[string]*managedAdapter),
	}
}

// Add makes an adapter reachable by its id.
func (s *AdapterService) Add(a *adapter.Adapter, gw unloader) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.adapters[a.ID()]; !ok {
		s.order = append(s.order, a.ID())
	}
	s.adapters[a.ID()] = &managedAdapter{dmx: a, gw: gw}
}

func (s *AdapterService) get(id string) (*managedAdapter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.adapters[id]
	return m, ok
}

// Start sets up the event handlers.
func (s *AdapterService) Start() {
	s.bus.Subscribe(eventbus.EventTypeSetProperty, s.handleSetProperty)
	s.bus.Subscribe(eventbus.EventTypeAdapterUnload, s.handleAdapterUnload)
}

func (s *AdapterService) handleSetProperty(e eventbus.Event) {
	m, ok := s.get(e.AdapterID)
	if !ok {
		log.Error().Str("adapter", e.AdapterID).Msg("Cannot find adapter")
		return
	}

	if err := m.dmx.Update(e.DeviceID, e.Property, e.Value); err != nil {
		log.Error().Err(err).
			Str("adapter", e.AdapterID).
			Str("device", e.DeviceID).
			Str("property", e.Property).
			RawJSON("value", rawOrNull(e.Value)).
			Msg("Failed to update property")
		return
	}

	log.Debug().
		Str("device", e.DeviceID).
		Str("property", e.Property).
		RawJSON("value", e.Value).
		Msg("Property updated")
}

func (s *AdapterService) handleAdapterUnload(e eventbus.Event) {
	m, ok := s.get(e.AdapterID)
	if !ok {
		log.Error().Str("adapter", e.AdapterID).Msg("Cannot find adapter to unload")
		return
	}

	log.Info().Str("adapter", e.AdapterID).Msg("Unloading adapter")
	if err := m.dmx.Close(); err != nil {
		log.Warn().Err(err).Str("adapter", e.AdapterID).Msg("Failed to stop player")
	}
	if err := m.gw.Unload(); err != nil {
		log.Error().Err(err).Str("adapter", e.AdapterID).Msg("Could not send unload response")
	}

	s.mu.Lock()
	delete(s.adapters, e.AdapterID)
	for i, id := range s.order {
		if id == e.AdapterID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}

// Players returns the player stats of every adapter by id.
func (s *AdapterService) Players() map[string]dmx.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]dmx.Stats, len(s.adapters))
	for id, m := range s.adapters {
		stats[id] = m.dmx.Player().Stats()
	}
	return stats
}

// Close stops every player.
func (s *AdapterService) Close() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.order {
		if err := s.adapters[id].dmx.Close(); err != nil {
			log.Warn().Err(err).Str("adapter", id).Msg("Failed to stop player")
		}
	}
}

// rawOrNull substitutes null for a missing value.
func rawOrNull(v []byte) []byte {
	if len(v) == 0 {
		return []byte("null")
	}
	return v
}
