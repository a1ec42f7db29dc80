// Package camera runs the accept side of the camera-device socket. Devices
// dial in over a websocket, stream snapshot frames and motion events, and
// receive alert pushes from the agent. Each device maps to one session.
package camera

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/Leavesfly/TinyClaw-sub001/internal/bus"
	"github.com/Leavesfly/TinyClaw-sub001/internal/channels"
	"github.com/Leavesfly/TinyClaw-sub001/internal/config"
	"github.com/Leavesfly/TinyClaw-sub001/pkg/protocol"
)

const (
	// maxFrameBytes caps a single websocket message; larger frames close
	// the connection.
	maxFrameBytes = 512 * 1024

	thumbSize = 640
)

// deviceConn is one connected device.
type deviceConn struct {
	id   string // connection id, for logs before the device identifies
	conn *websocket.Conn

	mu        sync.Mutex
	deviceID  string
	lastFrame string // media path of the newest stored thumbnail
}

func (d *deviceConn) write(ctx context.Context, frame protocol.DeviceFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn.Write(ctx, websocket.MessageText, data)
}

// Channel is the camera-device socket server.
type Channel struct {
	*channels.BaseChannel
	cfg      config.CameraConfig
	mediaDir string

	mu      sync.Mutex
	devices map[string]*deviceConn // deviceID -> conn
	server  *http.Server
	ctx     context.Context
	cancel  context.CancelFunc
}

// New builds the channel. Thumbnails land under mediaDir/camera.
func New(cfg config.CameraConfig, msgBus *bus.MessageBus, mediaDir string) (*Channel, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("camera port is required")
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("camera", msgBus, cfg.AllowFrom),
		cfg:         cfg,
		mediaDir:    filepath.Join(mediaDir, "camera"),
		devices:     make(map[string]*deviceConn),
	}, nil
}

// Start opens the websocket listener.
func (c *Channel) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/", c.handleUpgrade)

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("camera.listen_failed", "error", err)
		}
	}()

	c.SetRunning(true)
	slog.Info("camera.listening", "port", c.cfg.Port)
	return nil
}

// Stop closes the listener and every device connection.
func (c *Channel) Stop(ctx context.Context) error {
	c.SetRunning(false)
	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	for _, d := range c.devices {
		_ = d.conn.Close(websocket.StatusGoingAway, "server shutdown")
	}
	c.devices = make(map[string]*deviceConn)
	c.mu.Unlock()

	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// Send pushes an alert to the device named by ChatID.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("camera channel not running")
	}

	c.mu.Lock()
	d := c.devices[msg.ChatID]
	c.mu.Unlock()
	if d == nil {
		return fmt.Errorf("camera device %q not connected", msg.ChatID)
	}

	return d.write(ctx, protocol.DeviceFrame{
		Type:    protocol.DeviceFrameAlert,
		Content: msg.Content,
	})
}

func (c *Channel) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Devices are not browsers; no origin to check.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("camera.upgrade_failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	d := &deviceConn{id: uuid.NewString()[:8], conn: conn}
	slog.Debug("camera.device_connected", "conn_id", d.id, "remote", r.RemoteAddr)

	c.readLoop(d)
}

func (c *Channel) readLoop(d *deviceConn) {
	defer c.unregister(d)

	for {
		_, data, err := d.conn.Read(c.ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && c.ctx.Err() == nil {
				slog.Debug("camera.device_disconnected", "conn_id", d.id, "device", d.deviceID, "error", err)
			}
			return
		}

		var frame protocol.DeviceFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Warn("camera.bad_frame", "conn_id", d.id, "error", err)
			continue
		}
		if frame.DeviceID == "" {
			continue
		}
		if !c.IsAllowed(frame.DeviceID) {
			slog.Warn("camera.device_rejected", "device", frame.DeviceID)
			_ = d.conn.Close(websocket.StatusPolicyViolation, "device not allowed")
			return
		}
		c.register(d, frame.DeviceID)

		switch frame.Type {
		case protocol.DeviceFrameImage:
			c.handleFrame(d, &frame)
		case protocol.DeviceFrameEvent:
			c.handleEvent(d, &frame)
		}
	}
}

// register binds the connection to its device id on the first frame. A new
// connection for the same device replaces the old one.
func (c *Channel) register(d *deviceConn, deviceID string) {
	d.mu.Lock()
	known := d.deviceID != ""
	d.deviceID = deviceID
	d.mu.Unlock()
	if known {
		return
	}

	c.mu.Lock()
	if prev, ok := c.devices[deviceID]; ok && prev != d {
		_ = prev.conn.Close(websocket.StatusGoingAway, "replaced by new connection")
	}
	c.devices[deviceID] = d
	c.mu.Unlock()

	slog.Info("camera.device_registered", "device", deviceID, "conn_id", d.id)
}

func (c *Channel) unregister(d *deviceConn) {
	d.mu.Lock()
	deviceID := d.deviceID
	d.mu.Unlock()
	if deviceID == "" {
		return
	}

	c.mu.Lock()
	if c.devices[deviceID] == d {
		delete(c.devices, deviceID)
	}
	c.mu.Unlock()
}

// handleFrame stores a thumbnail of the snapshot. Frames do not wake the
// agent; the newest one rides along with the next event.
func (c *Channel) handleFrame(d *deviceConn, frame *protocol.DeviceFrame) {
	path, err := c.saveThumbnail(frame.DeviceID, frame.Data)
	if err != nil {
		slog.Warn("camera.frame_discarded", "device", frame.DeviceID, "error", err)
		return
	}
	d.mu.Lock()
	d.lastFrame = path
	d.mu.Unlock()
}

// handleEvent publishes the event to the agent, attaching the most recent
// snapshot when one exists.
func (c *Channel) handleEvent(d *deviceConn, frame *protocol.DeviceFrame) {
	text := frame.Data
	if text == "" {
		return
	}

	d.mu.Lock()
	lastFrame := d.lastFrame
	d.mu.Unlock()

	var media []string
	if lastFrame != "" {
		media = append(media, lastFrame)
	}

	slog.Debug("camera.event", "device", frame.DeviceID, "event", channels.Truncate(text, 60))

	c.HandleMessage(frame.DeviceID, frame.DeviceID,
		fmt.Sprintf("[Camera %s] %s", frame.DeviceID, text), media, nil)
}

// saveThumbnail decodes the base64 JPEG and writes a bounded thumbnail.
func (c *Channel) saveThumbnail(deviceID, b64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("decode frame data: %w", err)
	}
	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	thumb := imaging.Fit(img, thumbSize, thumbSize, imaging.Lanczos)

	if err := os.MkdirAll(c.mediaDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(c.mediaDir, fmt.Sprintf("%s_%d.jpg", deviceID, time.Now().UnixMilli()))
	if err := imaging.Save(thumb, path, imaging.JPEGQuality(85)); err != nil {
		return "", fmt.Errorf("save thumbnail: %w", err)
	}
	return path, nil
}
