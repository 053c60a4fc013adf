package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.URL != "ws://localhost:9500" {
		t.Errorf("Gateway.URL = %q", cfg.Gateway.URL)
	}
	if cfg.Gateway.PluginID != "dmx-adapter" {
		t.Errorf("Gateway.PluginID = %q", cfg.Gateway.PluginID)
	}
	if cfg.Player.Interval.Duration() != 50*time.Millisecond {
		t.Errorf("Player.Interval = %v", cfg.Player.Interval.Duration())
	}
	if cfg.EventBus.GetWorkers() != 1 || cfg.EventBus.GetQueueSize() != 100 {
		t.Errorf("EventBus defaults = %d/%d", cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())
	}
	if cfg.GetShutdownTimeout() != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v", cfg.GetShutdownTimeout())
	}
}

func TestLoad_ParsesAndExpandsEnv(t *testing.T) {
	t.Setenv("DMX_TEST_GATEWAY", "ws://gateway.local:9500")

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
log:
  level: DEBUG
  use_json: true
gateway:
  url: ${DMX_TEST_GATEWAY}
  plugin_id: ${DMX_TEST_UNSET:my-dmx}
player:
  interval: 25ms
healthcheck:
  enabled: true
  port: 8088
eventbus:
  workers: 3
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.GetLevel() != "debug" || !cfg.Log.UseJSON {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Gateway.URL != "ws://gateway.local:9500" {
		t.Errorf("Gateway.URL = %q", cfg.Gateway.URL)
	}
	if cfg.Gateway.PluginID != "my-dmx" {
		t.Errorf("Gateway.PluginID = %q", cfg.Gateway.PluginID)
	}
	if cfg.Player.Interval.Duration() != 25*time.Millisecond {
		t.Errorf("Player.Interval = %v", cfg.Player.Interval.Duration())
	}
	if !cfg.Healthcheck.Enabled || cfg.Healthcheck.Port != 8088 || cfg.Healthcheck.Host != "0.0.0.0" {
		t.Errorf("Healthcheck = %+v", cfg.Healthcheck)
	}
	if cfg.EventBus.GetWorkers() != 3 {
		t.Errorf("EventBus.Workers = %d", cfg.EventBus.GetWorkers())
	}
}

func TestLoad_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("player:\n  interval: fast\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestGenerateIDs(t *testing.T) {
	a := &Adapters{Adapters: []Adapter{{
		Title:      "Stage",
		SerialPort: "/dev/ttyUSB0",
		Devices: []Device{{
			Title:           "Par",
			Properties:      []Property{{Title: "Dimmer"}, {ID: "keep", Title: "Strobe"}},
			ColorProperties: []ColorProperty{{Title: "Color"}},
		}},
	}}}

	if !GenerateIDs(a) {
		t.Fatal("GenerateIDs reported no change")
	}
	dev := a.Adapters[0].Devices[0]
	if a.Adapters[0].ID == "" || dev.ID == "" || dev.Properties[0].ID == "" || dev.ColorProperties[0].ID == "" {
		t.Errorf("missing ids: %+v", a)
	}
	if dev.Properties[1].ID != "keep" {
		t.Errorf("existing id overwritten: %q", dev.Properties[1].ID)
	}
	if GenerateIDs(a) {
		t.Error("second GenerateIDs should be a no-op")
	}
}

func TestParseAdapters_RoundTrip(t *testing.T) {
	in := `{"adapters":[{"id":"a1","title":"Stage","serialPort":"/dev/ttyUSB0","devices":[` +
		`{"id":"d1","title":"Par","properties":[{"id":"p1","title":"Dimmer","address":5}],` +
		`"colorProperties":[{"id":"c1","title":"Color","red":0,"green":1,"blue":2}]}]}]}`

	a, err := ParseAdapters([]byte(in))
	if err != nil {
		t.Fatal(err)
	}
	if got := a.Adapters[0].Devices[0].Properties[0].Address; got != 5 {
		t.Errorf("address = %d, want 5", got)
	}
	if got := a.Adapters[0].Devices[0].ColorProperties[0].Blue; got != 2 {
		t.Errorf("blue = %d, want 2", got)
	}

	empty, err := ParseAdapters(nil)
	if err != nil || len(empty.Adapters) != 0 {
		t.Errorf("ParseAdapters(nil) = %+v, %v", empty, err)
	}
	if _, err := ParseAdapters([]byte("{")); err == nil {
		t.Error("expected error for invalid json")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Adapters {
		return &Adapters{Adapters: []Adapter{{
			ID: "a1", Title: "Stage", SerialPort: "/dev/ttyUSB0",
			Devices: []Device{{
				ID: "d1", Title: "Par",
				Properties:      []Property{{ID: "p1", Title: "Dimmer", Address: 511}},
				ColorProperties: []ColorProperty{{ID: "c1", Title: "Color", Red: 0, Green: 1, Blue: 2}},
			}},
		}}}
	}

	tests := []struct {
		name    string
		mutate  func(a *Adapters)
		wantErr string
	}{
		{name: "valid", mutate: func(a *Adapters) {}},
		{
			name:    "address_past_universe",
			mutate:  func(a *Adapters) { a.Adapters[0].Devices[0].Properties[0].Address = 512 },
			wantErr: "address 512 outside channel range",
		},
		{
			name:    "negative_address",
			mutate:  func(a *Adapters) { a.Adapters[0].Devices[0].Properties[0].Address = -1 },
			wantErr: "address -1",
		},
		{
			name:    "color_channel_out_of_range",
			mutate:  func(a *Adapters) { a.Adapters[0].Devices[0].ColorProperties[0].Blue = 600 },
			wantErr: "blue 600",
		},
		{
			name:    "missing_serial_port",
			mutate:  func(a *Adapters) { a.Adapters[0].SerialPort = "" },
			wantErr: "serialPort is required",
		},
		{
			name: "duplicate_property_id",
			mutate: func(a *Adapters) {
				a.Adapters[0].Devices[0].ColorProperties[0].ID = "p1"
			},
			wantErr: `duplicate property id "p1"`,
		},
		{
			name: "duplicate_device_id",
			mutate: func(a *Adapters) {
				a.Adapters[0].Devices = append(a.Adapters[0].Devices, Device{ID: "d1", Title: "Other"})
			},
			wantErr: `duplicate device id "d1"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := valid()
			tt.mutate(a)
			err := Validate(a)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	a := &Adapters{Adapters: []Adapter{{
		Title: "Stage",
		Devices: []Device{{
			Title:      "Par",
			Properties: []Property{{Title: "A", Address: 1000}, {Title: "B", Address: -5}},
		}},
	}}}

	err := Validate(a)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"serialPort is required", "address 1000", "address -5"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

type memSettings struct {
	values map[string]string
	saves  int
}

func (m *memSettings) Load(key string) (string, bool, error) {
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memSettings) Save(key, value string) error {
	m.values[key] = value
	m.saves++
	return nil
}

func TestLoadAdapters_PersistsGeneratedIDs(t *testing.T) {
	store := &memSettings{values: map[string]string{
		"k": `{"adapters":[{"title":"Stage","serialPort":"/dev/ttyUSB0","devices":[{"title":"Par","properties":[{"title":"Dimmer","address":0}]}]}]}`,
	}}

	a, err := LoadAdapters(store, "k")
	if err != nil {
		t.Fatal(err)
	}
	if store.saves != 1 {
		t.Fatalf("saves = %d, want 1", store.saves)
	}

	again, err := LoadAdapters(store, "k")
	if err != nil {
		t.Fatal(err)
	}
	if store.saves != 1 {
		t.Errorf("config rewritten although ids were stable")
	}
	if again.Adapters[0].Devices[0].Properties[0].ID != a.Adapters[0].Devices[0].Properties[0].ID {
		t.Error("property id changed between loads")
	}
}

func TestLoadAdapters_MissingKey(t *testing.T) {
	store := &memSettings{values: map[string]string{}}
	a, err := LoadAdapters(store, "missing")
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Adapters) != 0 || store.saves != 0 {
		t.Errorf("got %+v with %d saves", a, store.saves)
	}
}
