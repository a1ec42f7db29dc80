// Package protocol defines the JSON wire types spoken over the runtime's
// websockets: camera devices on one side, console clients on the other.
// External device firmware imports this package, so it stays dependency-free
// and additive.
package protocol

// Device frame types (camera socket).
const (
	DeviceFrameImage = "frame" // device -> server, Data is base64 JPEG
	DeviceFrameEvent = "event" // device -> server, Data is event text
	DeviceFrameAlert = "alert" // server -> device
)

// DeviceFrame is one message on the camera-device socket. Devices identify
// themselves with DeviceID on every frame; the first frame binds the
// connection.
type DeviceFrame struct {
	Type     string `json:"type"`
	DeviceID string `json:"deviceId,omitempty"`
	Data     string `json:"data,omitempty"`
	Content  string `json:"content,omitempty"` // alert text, server -> device
}

// Console frame types (gateway /ws).
const (
	ConsoleChat  = "chat"  // client -> server
	ConsoleDelta = "delta" // server -> client, streamed answer fragment
	ConsoleFinal = "final" // server -> client, completed answer
	ConsoleError = "error" // server -> client
	ConsoleEvent = "event" // server -> client, bus broadcast
)

// ClientFrame is what a console client sends.
type ClientFrame struct {
	Type       string `json:"type"`
	Content    string `json:"content,omitempty"`
	SessionKey string `json:"sessionKey,omitempty"`
}

// ServerFrame is what the gateway pushes to console clients.
type ServerFrame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
	Event   string `json:"event,omitempty"` // event name when Type is "event"
}
