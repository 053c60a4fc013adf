package config

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// UniverseSize bounds every configured channel address.
const UniverseSize = 512

// Adapters is the adapter layout stored by the gateway as JSON.
type Adapters struct {
	Adapters []Adapter `json:"adapters"`
}

// Adapter is one DMX output: a serial port and the devices behind it.
type Adapter struct {
	ID         string   `json:"id,omitempty"`
	Title      string   `json:"title"`
	SerialPort string   `json:"serialPort"`
	Devices    []Device `json:"devices"`
}

// Device is a fixture exposed to the gateway.
type Device struct {
	ID              string          `json:"id,omitempty"`
	Title           string          `json:"title"`
	Properties      []Property      `json:"properties"`
	ColorProperties []ColorProperty `json:"colorProperties,omitempty"`
}

// Property maps a level property to one channel. Address is the 0-based buffer offset.
type Property struct {
	ID      string `json:"id,omitempty"`
	Title   string `json:"title"`
	Address int    `json:"address"`
}

// ColorProperty maps a #rrggbb property to three channels.
type ColorProperty struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title"`
	Red   int    `json:"red"`
	Green int    `json:"green"`
	Blue  int    `json:"blue"`
}

// ParseAdapters decodes the stored JSON. Empty input yields an empty layout.
func ParseAdapters(data []byte) (*Adapters, error) {
	var a Adapters
	if len(data) == 0 {
		return &a, nil
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to parse adapter config: %w", err)
	}
	return &a, nil
}

// Marshal encodes the layout as stored by the gateway.
func (a *Adapters) Marshal() ([]byte, error) {
	return json.Marshal(a)
}

// SettingsStore is the key/value table the gateway keeps add-on config in.
type SettingsStore interface {
	Load(key string) (string, bool, error)
	Save(key, value string) error
}

// LoadAdapters reads the layout under key, fills missing ids and writes it back
// when ids were generated, so they stay stable across restarts.
func LoadAdapters(store SettingsStore, key string) (*Adapters, error) {
	raw, _, err := store.Load(key)
	if err != nil {
		return nil, err
	}

	a, err := ParseAdapters([]byte(raw))
	if err != nil {
		return nil, err
	}

	if GenerateIDs(a) {
		if err := SaveAdapters(store, key, a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// SaveAdapters writes the layout under key.
func SaveAdapters(store SettingsStore, key string, a *Adapters) error {
	data, err := a.Marshal()
	if err != nil {
		return fmt.Errorf("failed to serialize adapter config: %w", err)
	}
	return store.Save(key, string(data))
}

// GenerateIDs assigns a random UUID to every adapter, device and property without one.
// It reports whether anything changed so callers only write back when needed.
func GenerateIDs(a *Adapters) bool {
	changed := false
	fill := func(id *string) {
		if *id == "" {
			*id = uuid.NewString()
			changed = true
		}
	}

	for i := range a.Adapters {
		ad := &a.Adapters[i]
		fill(&ad.ID)
		for j := range ad.Devices {
			dev := &ad.Devices[j]
			fill(&dev.ID)
			for k := range dev.Properties {
				fill(&dev.Properties[k].ID)
			}
			for k := range dev.ColorProperties {
				fill(&dev.ColorProperties[k].ID)
			}
		}
	}

	return changed
}

// Validate checks addresses against the universe and ids for uniqueness.
// All problems are reported together.
func Validate(a *Adapters) error {
	var errs []error
	adapterIDs := make(map[string]bool)

	for i, ad := range a.Adapters {
		where := fmt.Sprintf("adapter[%d] %q", i, ad.Title)
		if ad.SerialPort == "" {
			errs = append(errs, fmt.Errorf("%s: serialPort is required", where))
		}
		if ad.ID != "" {
			if adapterIDs[ad.ID] {
				errs = append(errs, fmt.Errorf("%s: duplicate adapter id %q", where, ad.ID))
			}
			adapterIDs[ad.ID] = true
		}

		deviceIDs := make(map[string]bool)
		for j, dev := range ad.Devices {
			devWhere := fmt.Sprintf("%s device[%d] %q", where, j, dev.Title)
			if dev.ID != "" {
				if deviceIDs[dev.ID] {
					errs = append(errs, fmt.Errorf("%s: duplicate device id %q", devWhere, dev.ID))
				}
				deviceIDs[dev.ID] = true
			}

			propIDs := make(map[string]bool)
			checkID := func(propWhere, id string) {
				if id == "" {
					return
				}
				if propIDs[id] {
					errs = append(errs, fmt.Errorf("%s: duplicate property id %q", propWhere, id))
				}
				propIDs[id] = true
			}

			for k, p := range dev.Properties {
				propWhere := fmt.Sprintf("%s property[%d] %q", devWhere, k, p.Title)
				checkID(propWhere, p.ID)
				if err := checkAddress(propWhere, "address", p.Address); err != nil {
					errs = append(errs, err)
				}
			}
			for k, p := range dev.ColorProperties {
				propWhere := fmt.Sprintf("%s colorProperty[%d] %q", devWhere, k, p.Title)
				checkID(propWhere, p.ID)
				for _, ch := range []struct {
					name string
					addr int
				}{{"red", p.Red}, {"green", p.Green}, {"blue", p.Blue}} {
					if err := checkAddress(propWhere, ch.name, ch.addr); err != nil {
						errs = append(errs, err)
					}
				}
			}
		}
	}

	return errors.Join(errs...)
}

func checkAddress(where, field string, addr int) error {
	if addr < 0 || addr >= UniverseSize {
		return fmt.Errorf("%s: %s %d outside channel range 0-%d", where, field, addr, UniverseSize-1)
	}
	return nil
}
