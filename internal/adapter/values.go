package adapter

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/dmx-adapter/internal/config"
	"github.com/dokzlo13/dmx-adapter/internal/state"
)

// SavedValue is the persisted last value of a property.
type SavedValue struct {
	Value json.RawMessage `json:"value"`
}

// Values persists property values keyed by adapter/device/property.
type Values = state.TypedStore[SavedValue]

func valueKey(adapterID, deviceID, property string) string {
	return adapterID + "/" + deviceID + "/" + property
}

// PruneValues deletes saved values of properties that are no longer part of layout
// and returns how many were removed.
func PruneValues(values *Values, layout *config.Adapters) (int64, error) {
	keep := make(map[string]struct{})
	for _, a := range layout.Adapters {
		for _, d := range a.Devices {
			for _, p := range d.Properties {
				keep[valueKey(a.ID, d.ID, p.ID)] = struct{}{}
			}
			for _, c := range d.ColorProperties {
				keep[valueKey(a.ID, d.ID, c.ID)] = struct{}{}
			}
		}
	}

	ids, err := values.IDs()
	if err != nil {
		return 0, fmt.Errorf("list saved values: %w", err)
	}

	var stale []string
	for _, id := range ids {
		if _, ok := keep[id]; !ok {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	n, err := values.Delete(stale...)
	if err != nil {
		return 0, fmt.Errorf("delete stale values: %w", err)
	}
	log.Info().Int64("removed", n).Strs("keys", stale).Msg("Pruned saved values of removed properties")
	return n, nil
}
