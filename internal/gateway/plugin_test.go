package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeGateway accepts one plugin connection and exposes its messages.
type fakeGateway struct {
	t        *testing.T
	server   *httptest.Server
	received chan envelope
	conns    chan *websocket.Conn
}

func newFakeGateway(t *testing.T) *fakeGateway {
	g := &fakeGateway{
		t:        t,
		received: make(chan envelope, 16),
		conns:    make(chan *websocket.Conn, 1),
	}

	upgrader := websocket.Upgrader{}
	g.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		g.conns <- conn
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env envelope
			if err := json.Unmarshal(b, &env); err != nil {
				t.Errorf("bad message from plugin: %s", b)
				return
			}
			if env.MessageType == PluginRegisterRequest {
				resp, _ := encode(PluginRegisterResponse, PluginRegisterResponseData{
					PluginID:       "dmx-adapter",
					GatewayVersion: "1.1.0",
					UserProfile:    UserProfile{ConfigDir: "/cfg", DataDir: "/data"},
				})
				conn.WriteMessage(websocket.TextMessage, resp)
			}
			g.received <- env
		}
	}))
	t.Cleanup(g.server.Close)
	return g
}

func (g *fakeGateway) url() string {
	return "ws" + strings.TrimPrefix(g.server.URL, "http")
}

func (g *fakeGateway) next() envelope {
	g.t.Helper()
	select {
	case env := <-g.received:
		return env
	case <-time.After(2 * time.Second):
		g.t.Fatal("timed out waiting for plugin message")
		return envelope{}
	}
}

func (g *fakeGateway) conn() *websocket.Conn {
	g.t.Helper()
	select {
	case c := <-g.conns:
		return c
	case <-time.After(2 * time.Second):
		g.t.Fatal("plugin never connected")
		return nil
	}
}

func connect(t *testing.T, g *fakeGateway) *Plugin {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	p, err := Connect(ctx, g.url(), "dmx-adapter")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestConnect_Registers(t *testing.T) {
	g := newFakeGateway(t)
	p := connect(t, g)

	env := g.next()
	if env.MessageType != PluginRegisterRequest {
		t.Fatalf("first message = %s", env.MessageType)
	}
	var req PluginRegisterRequestData
	if err := json.Unmarshal(env.Data, &req); err != nil || req.PluginID != "dmx-adapter" {
		t.Errorf("register request = %s", env.Data)
	}

	if p.GatewayVersion != "1.1.0" || p.UserProfile.ConfigDir != "/cfg" || p.UserProfile.DataDir != "/data" {
		t.Errorf("registration data = %+v", p)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := Connect(ctx, "ws://127.0.0.1:1", "dmx-adapter"); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestAdapterAndDeviceNotifications(t *testing.T) {
	g := newFakeGateway(t)
	p := connect(t, g)
	g.next() // register

	ad, err := p.CreateAdapter("a1", "Stage")
	if err != nil {
		t.Fatal(err)
	}
	env := g.next()
	var added AdapterAddedNotificationData
	json.Unmarshal(env.Data, &added)
	if env.MessageType != AdapterAddedNotification || added.AdapterID != "a1" || added.PackageName != "dmx-adapter" {
		t.Errorf("adapter added = %s %s", env.MessageType, env.Data)
	}

	dev, err := ad.AddDevice(DeviceDescription{
		ID:    "d1",
		Title: "Par",
		Properties: map[string]PropertyDescription{
			"dimmer": {Name: "dimmer", Title: "Dimmer", Type: "integer", Value: 0},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if env := g.next(); env.MessageType != DeviceAddedNotification {
		t.Errorf("device added = %s", env.MessageType)
	}

	if err := dev.SetPropertyValue("dimmer", 128); err != nil {
		t.Fatal(err)
	}
	env = g.next()
	var changed DevicePropertyChangedNotificationData
	if err := json.Unmarshal(env.Data, &changed); err != nil {
		t.Fatal(err)
	}
	if env.MessageType != DevicePropertyChangedNotification || changed.DeviceID != "d1" ||
		changed.Property.Name != "dimmer" || changed.Property.Value != float64(128) {
		t.Errorf("property changed = %s %s", env.MessageType, env.Data)
	}

	if err := dev.SetPropertyValue("missing", 1); err == nil {
		t.Error("expected error for unknown property")
	}

	if err := ad.Unload(); err != nil {
		t.Fatal(err)
	}
	if env := g.next(); env.MessageType != AdapterUnloadResponse {
		t.Errorf("adapter unload = %s", env.MessageType)
	}

	if err := p.Fail("no serial port"); err != nil {
		t.Fatal(err)
	}
	env = g.next()
	var fail PluginErrorNotificationData
	json.Unmarshal(env.Data, &fail)
	if env.MessageType != PluginErrorNotification || fail.Message != "no serial port" {
		t.Errorf("plugin error = %s %s", env.MessageType, env.Data)
	}
}

func TestRead_DecodesCommands(t *testing.T) {
	g := newFakeGateway(t)
	p := connect(t, g)
	conn := g.conn()
	g.next()

	send := func(mt MessageType, data any) {
		b, err := encode(mt, data)
		if err != nil {
			t.Fatal(err)
		}
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			t.Fatal(err)
		}
	}

	send(DeviceSetPropertyCommand, DeviceSetPropertyCommandData{
		AdapterID:     "a1",
		DeviceID:      "d1",
		PropertyName:  "color",
		PropertyValue: json.RawMessage(`"#ff8000"`),
	})
	send(AdapterUnloadRequest, AdapterUnloadRequestData{AdapterID: "a1"})
	send(MessageType(12345), map[string]int{"x": 1})

	msg, err := p.Read()
	if err != nil {
		t.Fatal(err)
	}
	cmd, ok := msg.Data.(*DeviceSetPropertyCommandData)
	if !ok {
		t.Fatalf("data = %T", msg.Data)
	}
	if cmd.DeviceID != "d1" || cmd.PropertyName != "color" || string(cmd.PropertyValue) != `"#ff8000"` {
		t.Errorf("command = %+v", cmd)
	}

	msg, err = p.Read()
	if err != nil {
		t.Fatal(err)
	}
	if unload, ok := msg.Data.(*AdapterUnloadRequestData); !ok || unload.AdapterID != "a1" {
		t.Errorf("unload = %#v", msg.Data)
	}

	msg, err = p.Read()
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != MessageType(12345) {
		t.Errorf("unknown type = %s", msg.Type)
	}
	if msg.Type.String() != "MessageType(12345)" {
		t.Errorf("String() = %q", msg.Type.String())
	}
}

func TestDecode_Errors(t *testing.T) {
	if _, err := decode([]byte(`not json`)); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("invalid envelope err = %v", err)
	}
	if _, err := decode([]byte(`{"messageType":8209,"data":{"deviceId":5}}`)); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("invalid payload err = %v", err)
	}
}

func TestRead_AfterClose(t *testing.T) {
	g := newFakeGateway(t)
	p := connect(t, g)
	g.next()

	done := make(chan error, 1)
	go func() {
		_, err := p.Read()
		done <- err
	}()

	p.Close()
	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Read after Close = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not unblock Read")
	}
}
