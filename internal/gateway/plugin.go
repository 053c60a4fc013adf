package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ErrClosed is returned when the connection to the gateway is gone.
var ErrClosed = errors.New("gateway: connection closed")

// Plugin is a registered connection to the gateway.
type Plugin struct {
	ID             string
	GatewayVersion string
	UserProfile    UserProfile
	Preferences    Preferences

	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  atomic.Bool
}

// Connect dials the gateway, registers pluginID and waits for the registration response.
func Connect(ctx context.Context, url, pluginID string) (*Plugin, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gateway at %s: %w", url, err)
	}

	p := &Plugin{ID: pluginID, conn: conn}

	if err := p.send(PluginRegisterRequest, PluginRegisterRequestData{PluginID: pluginID}); err != nil {
		conn.Close()
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}

	for {
		msg, err := p.Read()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to register plugin %s: %w", pluginID, err)
		}

		resp, ok := msg.Data.(*PluginRegisterResponseData)
		if !ok {
			log.Warn().Str("type", msg.Type.String()).Msg("Unexpected message before registration")
			continue
		}

		p.GatewayVersion = resp.GatewayVersion
		p.UserProfile = resp.UserProfile
		p.Preferences = resp.Preferences
		break
	}

	conn.SetReadDeadline(time.Time{})

	log.Info().
		Str("plugin", pluginID).
		Str("gateway_version", p.GatewayVersion).
		Msg("Plugin registered")
	return p, nil
}

func (p *Plugin) send(t MessageType, data any) error {
	b, err := encode(t, data)
	if err != nil {
		return err
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if err := p.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("failed to send %s: %w", t, err)
	}
	log.Trace().Str("type", t.String()).RawJSON("message", b).Msg("Sent gateway message")
	return nil
}

// Read blocks for the next message. Only one goroutine may read at a time.
// Close unblocks a pending Read with ErrClosed.
func (p *Plugin) Read() (Message, error) {
	for {
		kind, b, err := p.conn.ReadMessage()
		if err != nil {
			if p.closed.Load() ||
				websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				errors.Is(err, websocket.ErrCloseSent) {
				return Message{}, ErrClosed
			}
			return Message{}, err
		}
		if kind != websocket.TextMessage {
			continue
		}

		log.Trace().RawJSON("message", b).Msg("Received gateway message")
		return decode(b)
	}
}

// CreateAdapter announces an adapter to the gateway.
func (p *Plugin) CreateAdapter(id, name string) (*Adapter, error) {
	err := p.send(AdapterAddedNotification, AdapterAddedNotificationData{
		PluginID:    p.ID,
		AdapterID:   id,
		Name:        name,
		PackageName: p.ID,
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{plugin: p, ID: id, Name: name}, nil
}

// Fail reports a plugin error to the gateway, shown to the user.
func (p *Plugin) Fail(message string) error {
	return p.send(PluginErrorNotification, PluginErrorNotificationData{PluginID: p.ID, Message: message})
}

// Unload acknowledges a plugin unload request.
func (p *Plugin) Unload() error {
	return p.send(PluginUnloadResponse, PluginUnloadResponseData{PluginID: p.ID})
}

// Close closes the connection.
func (p *Plugin) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.writeMu.Lock()
	_ = p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	p.writeMu.Unlock()
	return p.conn.Close()
}
