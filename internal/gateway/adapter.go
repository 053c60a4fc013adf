package gateway

import (
	"fmt"
	"sync"
)

// Adapter is an adapter registered with the gateway.
type Adapter struct {
	plugin *Plugin
	ID     string
	Name   string
}

// AddDevice announces a device and returns its handle.
func (a *Adapter) AddDevice(desc DeviceDescription) (*Device, error) {
	err := a.plugin.send(DeviceAddedNotification, DeviceAddedNotificationData{
		PluginID:  a.plugin.ID,
		AdapterID: a.ID,
		Device:    desc,
	})
	if err != nil {
		return nil, err
	}
	props := make(map[string]PropertyDescription, len(desc.Properties))
	for k, v := range desc.Properties {
		props[k] = v
	}
	desc.Properties = props
	return &Device{plugin: a.plugin, adapterID: a.ID, desc: desc}, nil
}

// Unload acknowledges an adapter unload request.
func (a *Adapter) Unload() error {
	return a.plugin.send(AdapterUnloadResponse, AdapterUnloadResponseData{
		PluginID:  a.plugin.ID,
		AdapterID: a.ID,
	})
}

// Device is a device registered with the gateway.
type Device struct {
	plugin    *Plugin
	adapterID string

	mu   sync.Mutex
	desc DeviceDescription
}

// ID returns the device id.
func (d *Device) ID() string {
	return d.desc.ID
}

// SetPropertyValue records value and sends a property changed notification.
func (d *Device) SetPropertyValue(name string, value any) error {
	d.mu.Lock()
	prop, ok := d.desc.Properties[name]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("device %s has no property %q", d.desc.ID, name)
	}
	prop.Value = value
	d.desc.Properties[name] = prop
	d.mu.Unlock()

	return d.plugin.send(DevicePropertyChangedNotification, DevicePropertyChangedNotificationData{
		PluginID:  d.plugin.ID,
		AdapterID: d.adapterID,
		DeviceID:  d.desc.ID,
		Property:  prop,
	})
}
