// Package gateway implements the add-on side of the gateway IPC protocol:
// JSON envelopes over a WebSocket to the gateway's plugin server.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidMessage is returned for messages that cannot be parsed.
var ErrInvalidMessage = errors.New("gateway: invalid message")

// MessageType identifies the payload of an envelope.
type MessageType int

const (
	PluginRegisterRequest    MessageType = 0
	PluginRegisterResponse   MessageType = 1
	PluginUnloadRequest      MessageType = 2
	PluginUnloadResponse     MessageType = 3
	PluginErrorNotification  MessageType = 4
	AdapterAddedNotification MessageType = 4096
	AdapterUnloadRequest     MessageType = 4102
	AdapterUnloadResponse    MessageType = 4103

	DeviceAddedNotification           MessageType = 8192
	DevicePropertyChangedNotification MessageType = 8199
	DeviceSetPropertyCommand          MessageType = 8209
	DeviceSavedNotification           MessageType = 8211
)

func (t MessageType) String() string {
	switch t {
	case PluginRegisterRequest:
		return "PluginRegisterRequest"
	case PluginRegisterResponse:
		return "PluginRegisterResponse"
	case PluginUnloadRequest:
		return "PluginUnloadRequest"
	case PluginUnloadResponse:
		return "PluginUnloadResponse"
	case PluginErrorNotification:
		return "PluginErrorNotification"
	case AdapterAddedNotification:
		return "AdapterAddedNotification"
	case AdapterUnloadRequest:
		return "AdapterUnloadRequest"
	case AdapterUnloadResponse:
		return "AdapterUnloadResponse"
	case DeviceAddedNotification:
		return "DeviceAddedNotification"
	case DevicePropertyChangedNotification:
		return "DevicePropertyChangedNotification"
	case DeviceSetPropertyCommand:
		return "DeviceSetPropertyCommand"
	case DeviceSavedNotification:
		return "DeviceSavedNotification"
	default:
		return fmt.Sprintf("MessageType(%d)", int(t))
	}
}

// envelope is the wire format of every message.
type envelope struct {
	MessageType MessageType     `json:"messageType"`
	Data        json.RawMessage `json:"data"`
}

// Message is a decoded incoming message. Data holds one of the *Data types below.
type Message struct {
	Type MessageType
	Data any
}

// PropertyDescription describes a property to the gateway.
type PropertyDescription struct {
	AtType      string   `json:"@type,omitempty"`
	Name        string   `json:"name"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Type        string   `json:"type"`
	Unit        string   `json:"unit,omitempty"`
	Minimum     *float64 `json:"minimum,omitempty"`
	Maximum     *float64 `json:"maximum,omitempty"`
	MultipleOf  *float64 `json:"multipleOf,omitempty"`
	ReadOnly    bool     `json:"readOnly"`
	Visible     bool     `json:"visible"`
	Value       any      `json:"value"`
}

// DeviceDescription describes a device and its properties.
type DeviceDescription struct {
	AtContext   string                         `json:"@context,omitempty"`
	AtType      []string                       `json:"@type"`
	ID          string                         `json:"id"`
	Title       string                         `json:"title"`
	Description string                         `json:"description,omitempty"`
	Properties  map[string]PropertyDescription `json:"properties"`
}

// UserProfile lists the gateway's directories.
type UserProfile struct {
	AddonsDir  string `json:"addonsDir"`
	BaseDir    string `json:"baseDir"`
	ConfigDir  string `json:"configDir"`
	DataDir    string `json:"dataDir"`
	MediaDir   string `json:"mediaDir"`
	LogDir     string `json:"logDir"`
	GatewayDir string `json:"gatewayDir"`
}

// Preferences are the user's gateway preferences.
type Preferences struct {
	Language string `json:"language"`
	Units    struct {
		Temperature string `json:"temperature"`
	} `json:"units"`
}

type PluginRegisterRequestData struct {
	PluginID string `json:"pluginId"`
}

type PluginRegisterResponseData struct {
	PluginID       string      `json:"pluginId"`
	GatewayVersion string      `json:"gatewayVersion"`
	UserProfile    UserProfile `json:"userProfile"`
	Preferences    Preferences `json:"preferences"`
}

type PluginUnloadRequestData struct {
	PluginID string `json:"pluginId"`
}

type PluginUnloadResponseData struct {
	PluginID string `json:"pluginId"`
}

type PluginErrorNotificationData struct {
	PluginID string `json:"pluginId"`
	Message  string `json:"message"`
}

type AdapterAddedNotificationData struct {
	PluginID    string `json:"pluginId"`
	AdapterID   string `json:"adapterId"`
	Name        string `json:"name"`
	PackageName string `json:"packageName"`
}

type AdapterUnloadRequestData struct {
	PluginID  string `json:"pluginId"`
	AdapterID string `json:"adapterId"`
}

type AdapterUnloadResponseData struct {
	PluginID  string `json:"pluginId"`
	AdapterID string `json:"adapterId"`
}

type DeviceAddedNotificationData struct {
	PluginID  string            `json:"pluginId"`
	AdapterID string            `json:"adapterId"`
	Device    DeviceDescription `json:"device"`
}

type DevicePropertyChangedNotificationData struct {
	PluginID  string              `json:"pluginId"`
	AdapterID string              `json:"adapterId"`
	DeviceID  string              `json:"deviceId"`
	Property  PropertyDescription `json:"property"`
}

type DeviceSetPropertyCommandData struct {
	PluginID      string          `json:"pluginId"`
	AdapterID     string          `json:"adapterId"`
	DeviceID      string          `json:"deviceId"`
	PropertyName  string          `json:"propertyName"`
	PropertyValue json.RawMessage `json:"propertyValue"`
}

type DeviceSavedNotificationData struct {
	PluginID string          `json:"pluginId"`
	DeviceID string          `json:"deviceId"`
	Device   json.RawMessage `json:"device"`
}

// encode builds the wire form of a message.
func encode(t MessageType, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", t, err)
	}
	return json.Marshal(envelope{MessageType: t, Data: raw})
}

// decode parses an incoming message. Unknown types are returned with raw data
// so the caller can report them.
func decode(b []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	var data any
	switch env.MessageType {
	case PluginRegisterResponse:
		data = &PluginRegisterResponseData{}
	case PluginUnloadRequest:
		data = &PluginUnloadRequestData{}
	case AdapterUnloadRequest:
		data = &AdapterUnloadRequestData{}
	case DeviceSetPropertyCommand:
		data = &DeviceSetPropertyCommandData{}
	case DeviceSavedNotification:
		data = &DeviceSavedNotificationData{}
	default:
		return Message{Type: env.MessageType, Data: env.Data}, nil
	}

	if err := json.Unmarshal(env.Data, data); err != nil {
		return Message{}, fmt.Errorf("%w: %s: %v", ErrInvalidMessage, env.MessageType, err)
	}
	return Message{Type: env.MessageType, Data: data}, nil
}
