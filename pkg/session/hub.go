package session

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gwillem/glove/pkg/channel"
	"github.com/gwillem/glove/pkg/imu"
)

// DefaultFrameInterval is the streaming period of the main controller.
const DefaultFrameInterval = 50 * time.Millisecond

// MaxNameLength bounds the bluetooth advertising name.
const MaxNameLength = 8

type hubState int

const (
	hubIdle hubState = iota
	hubSensorBulk
	hubNameBulk
	hubStreaming
)

func (s hubState) String() string {
	switch s {
	case hubIdle:
		return "idle"
	case hubSensorBulk:
		return "sensor bulk"
	case hubNameBulk:
		return "name bulk"
	case hubStreaming:
		return "streaming"
	}
	return "unknown"
}

// HubConfig describes the emulated main controller.
type HubConfig struct {
	// Addresses are the IMU bus addresses reported as detected.
	Addresses []int
	Rate      PollingRate
	Name      string
	Connected bool

	// Frames receives sensor frames while streaming. Pose supplies the
	// samples for each frame; assigned positions without a pose sample
	// are reported at identity.
	Frames        io.Writer
	Pose          func(t time.Time) []imu.Sample
	FrameInterval time.Duration

	Logger zerolog.Logger
}

// Hub answers the initiator's handshakes the way the main controller
// does. It is used by the emulator and in tests.
type Hub struct {
	ch  *channel.Channel
	cfg HubConfig
	log zerolog.Logger

	mu          sync.Mutex
	state       hubState
	name        string
	connected   bool
	assignments map[imu.SensorID]int
}

// NewHub returns a hub answering on ch.
func NewHub(ch *channel.Channel, cfg HubConfig) *Hub {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultFrameInterval
	}
	return &Hub{
		ch:          ch,
		cfg:         cfg,
		log:         cfg.Logger,
		name:        cfg.Name,
		connected:   cfg.Connected,
		assignments: make(map[imu.SensorID]int),
	}
}

// Name returns the current advertising name.
func (h *Hub) Name() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.name
}

// SetConnected changes the reported bluetooth link state.
func (h *Hub) SetConnected(v bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = v
}

// Streaming reports whether sensor streaming has begun.
func (h *Hub) Streaming() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == hubStreaming
}

// Assignments returns the configured position to address map.
func (h *Hub) Assignments() map[imu.SensorID]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[imu.SensorID]int, len(h.assignments))
	for k, v := range h.assignments {
		out[k] = v
	}
	return out
}

// Serve processes requests until ctx is done. The channel's receive task
// must be running.
func (h *Hub) Serve(ctx context.Context) error {
	ticker := time.NewTicker(h.cfg.FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := h.step(now); err != nil {
				return err
			}
		}
	}
}

func (h *Hub) step(now time.Time) error {
	if h.ch.ReadAll(channel.Boot) != nil {
		if err := h.ch.SendString(channel.Boot, ""); err != nil {
			return err
		}
	}

	h.mu.Lock()
	state := h.state
	h.mu.Unlock()

	switch state {
	case hubIdle:
		return h.idle()
	case hubSensorBulk:
		return h.sensorBulk()
	case hubNameBulk:
		return h.nameBulk()
	case hubStreaming:
		return h.stream(now)
	}
	return nil
}

// idle handles one request, sensor requests first.
func (h *Hub) idle() error {
	pending := h.ch.PendingCategories()
	if _, ok := pending[channel.IMU]; ok {
		if msg, ok := h.ch.Read(channel.IMU); ok {
			return h.sensorRequest(string(msg))
		}
	}
	if _, ok := pending[channel.Bluetooth]; ok {
		if msg, ok := h.ch.Read(channel.Bluetooth); ok {
			return h.bluetoothRequest(string(msg))
		}
	}
	return nil
}

func (h *Hub) sensorRequest(msg string) error {
	h.log.Debug().Str("request", msg).Msg("imu request")
	switch msg {
	case channel.Address:
		addrs := make([]string, len(h.cfg.Addresses))
		for i, a := range h.cfg.Addresses {
			addrs[i] = strconv.Itoa(a)
		}
		return h.ch.SendString(channel.Confirm, strings.Join(addrs, ","))
	case channel.Speed:
		if len(h.cfg.Addresses) == 0 {
			return h.ch.SendString(channel.Reject, "No IMUs detected")
		}
		return h.ch.SendString(channel.Confirm, h.cfg.Rate.String())
	case channel.Bulk:
		h.mu.Lock()
		h.assignments = make(map[imu.SensorID]int)
		h.state = hubSensorBulk
		h.mu.Unlock()
		return h.ch.SendString(channel.Confirm, channel.Bulk)
	case channel.Begin:
		h.setState(hubStreaming)
		return h.ch.SendString(channel.Confirm, channel.Begin)
	}
	return nil
}

func (h *Hub) bluetoothRequest(msg string) error {
	h.log.Debug().Str("request", msg).Msg("bluetooth request")
	switch msg {
	case channel.Name:
		return h.ch.SendString(channel.Confirm, h.Name())
	case channel.Connected:
		h.mu.Lock()
		connected := h.connected
		h.mu.Unlock()
		if connected {
			return h.ch.SendString(channel.Confirm, "")
		}
		return h.ch.SendString(channel.Reject, "Bluetooth not connected")
	case channel.Bulk:
		h.setState(hubNameBulk)
		return h.ch.SendString(channel.Confirm, channel.Bulk)
	}
	return nil
}

func (h *Hub) sensorBulk() error {
	for {
		msg, ok := h.ch.Read(channel.IMU)
		if !ok {
			return nil
		}
		if string(msg) == channel.Terminate {
			h.setState(hubIdle)
			return h.ch.SendString(channel.Confirm, channel.Terminate)
		}
		if reason := h.assign(string(msg)); reason != "" {
			h.log.Warn().Str("line", string(msg)).Str("reason", reason).Msg("assignment rejected")
			if err := h.ch.SendString(channel.Reject, reason); err != nil {
				return err
			}
			continue
		}
		if err := h.ch.SendString(channel.Confirm, ""); err != nil {
			return err
		}
	}
}

// assign validates and records one "position,address" line, returning
// the rejection reason or "".
func (h *Hub) assign(line string) string {
	pos, rawAddr, _ := strings.Cut(line, ",")
	addr, err := strconv.Atoi(strings.TrimSpace(rawAddr))
	if err != nil || !slices.Contains(h.cfg.Addresses, addr) {
		return fmt.Sprintf("Invalid address <%s>", strings.TrimSpace(rawAddr))
	}
	if len(pos) != 1 || !imu.SensorID(pos[0]).Valid() {
		return fmt.Sprintf("Invalid position <%s>", pos)
	}
	id := imu.SensorID(pos[0])

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, dup := h.assignments[id]; dup {
		return fmt.Sprintf("Duplicated position <%s>", pos)
	}
	h.assignments[id] = addr
	return ""
}

func (h *Hub) nameBulk() error {
	for {
		msg, ok := h.ch.Read(channel.Bluetooth)
		if !ok {
			return nil
		}
		name := string(msg)
		if n := len(name); n < 1 || n > MaxNameLength {
			reason := fmt.Sprintf("Bluetooth name must have a length between 1 and %d, current name <%s> has length %d", MaxNameLength, name, n)
			if err := h.ch.SendString(channel.Reject, reason); err != nil {
				return err
			}
			continue
		}
		h.mu.Lock()
		h.name = name
		h.state = hubIdle
		h.mu.Unlock()
		h.log.Info().Str("name", name).Msg("advertising name changed")
		return h.ch.SendString(channel.Confirm, channel.Terminate)
	}
}

func (h *Hub) stream(now time.Time) error {
	for {
		msg, ok := h.ch.Read(channel.IMU)
		if !ok {
			break
		}
		if string(msg) == channel.Terminate {
			h.setState(hubIdle)
			return h.ch.SendString(channel.Confirm, channel.Terminate)
		}
	}
	if h.cfg.Frames == nil {
		return nil
	}

	frame := h.frame(now)
	if _, err := h.cfg.Frames.Write(frame); err != nil {
		h.log.Warn().Err(err).Msg("frame write failed")
	}
	return nil
}

// frame builds one report with a record per assigned position in
// sensor order.
func (h *Hub) frame(now time.Time) []byte {
	var pose imu.OrientationSet
	if h.cfg.Pose != nil {
		pose.Apply(h.cfg.Pose(now))
	}

	assigned := h.Assignments()
	samples := make([]imu.Sample, 0, len(assigned))
	for _, id := range imu.AllSensors() {
		if _, ok := assigned[id]; !ok {
			continue
		}
		samples = append(samples, imu.Sample{ID: id, Orientation: pose.Get(id)})
	}
	return imu.Encode(samples)
}

func (h *Hub) setState(s hubState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != s {
		h.log.Debug().Stringer("from", h.state).Stringer("to", s).Msg("hub state")
	}
	h.state = s
}
