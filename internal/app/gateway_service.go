package app

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/dmx-adapter/internal/eventbus"
	"github.com/dokzlo13/dmx-adapter/internal/gateway"
)

// pluginConn is the part of the gateway connection the message loop needs.
type pluginConn interface {
	Read() (gateway.Message, error)
	Unload() error
}

// GatewayService reads gateway messages and routes commands onto the event bus.
type GatewayService struct {
	plugin pluginConn
	bus    *eventbus.Bus
}

// NewGatewayService creates a new GatewayService.
func NewGatewayService(plugin pluginConn, bus *eventbus.Bus) *GatewayService {
	return &GatewayService{plugin: plugin, bus: bus}
}

// Run reads messages until the plugin is unloaded, the connection closes or ctx is done.
// It returns nil in all of those cases and the read error otherwise.
func (s *GatewayService) Run(ctx context.Context) error {
	for {
		msg, err := s.plugin.Read()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, gateway.ErrClosed) {
				return nil
			}
			if errors.Is(err, gateway.ErrInvalidMessage) {
				log.Warn().Err(err).Msg("Could not read message")
				continue
			}
			return err
		}

		if s.handle(msg) {
			return nil
		}
	}
}

// handle dispatches one message and reports whether the plugin should terminate.
func (s *GatewayService) handle(msg gateway.Message) bool {
	switch data := msg.Data.(type) {
	case *gateway.DeviceSetPropertyCommandData:
		s.bus.Publish(eventbus.Event{
			Type:      eventbus.EventTypeSetProperty,
			AdapterID: data.AdapterID,
			DeviceID:  data.DeviceID,
			Property:  data.PropertyName,
			Value:     data.PropertyValue,
		})

	case *gateway.AdapterUnloadRequestData:
		log.Info().Str("adapter", data.AdapterID).Msg("Received request to unload adapter")
		// Queued behind pending commands for the same adapter.
		s.bus.Publish(eventbus.Event{
			Type:      eventbus.EventTypeAdapterUnload,
			AdapterID: data.AdapterID,
		})

	case *gateway.PluginUnloadRequestData:
		log.Info().Str("plugin", data.PluginID).Msg("Received request to unload plugin")
		if err := s.plugin.Unload(); err != nil {
			log.Error().Err(err).Msg("Could not send unload response")
		}
		return true

	case *gateway.DeviceSavedNotificationData:
		log.Debug().Str("device", data.DeviceID).Msg("Device saved")

	default:
		log.Warn().Str("type", msg.Type.String()).Msg("Unexpected message")
	}
	return false
}
