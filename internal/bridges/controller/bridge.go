package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/switchboard/internal/device"
	"github.com/nerrad567/switchboard/internal/infrastructure/mqtt"
)

// reportTimeout bounds one controller report's writes.
const reportTimeout = 10 * time.Second

// MQTTClient is the subset of *mqtt.Client the bridge needs.
type MQTTClient interface {
	PublishRetained(topic string, payload []byte) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Registry is satisfied by *device.Registry.
type Registry interface {
	ApplyReport(ctx context.Context, rep device.ControllerReport) error
	List(ctx context.Context) ([]device.Device, error)
}

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options holds what NewBridge needs.
type Options struct {
	MQTT     MQTTClient
	Registry Registry
	Topics   mqtt.Topics

	// QoS applies to the report subscription. State is published with the
	// client's configured QoS.
	QoS byte

	// Logger is optional.
	Logger Logger
}

// Bridge applies controller reports from MQTT and publishes device state.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	mqtt     MQTTClient
	registry Registry
	topics   mqtt.Topics
	qos      byte

	// published holds the last version sent per device. Start publishes
	// outside the registry's write path, so an older listing can arrive
	// after a newer change.
	publishMu sync.Mutex
	published map[string]int64

	ctx       context.Context
	ctxCancel context.CancelFunc
	stopOnce  sync.Once

	reportsApplied  atomic.Uint64
	reportsRejected atomic.Uint64
	statesPublished atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a bridge. Call Start to subscribe.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if opts.Topics.Prefix == "" {
		opts.Topics = mqtt.NewTopics("")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		mqtt:      opts.MQTT,
		registry:  opts.Registry,
		topics:    opts.Topics,
		qos:       opts.QoS,
		published: make(map[string]int64),
		ctx:       ctx,
		ctxCancel: cancel,
		logger:    opts.Logger,
	}, nil
}

// Start subscribes to controller reports and publishes the current state of
// every device so the retained topics match the store.
func (b *Bridge) Start(ctx context.Context) error {
	topic := b.topics.ControllerReport()
	if err := b.mqtt.Subscribe(topic, b.qos, b.handleReport); err != nil {
		return fmt.Errorf("subscribe to controller reports: %w", err)
	}
	b.logInfo("subscribed to controller reports", "topic", topic)

	devices, err := b.registry.List(ctx)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}
	for _, d := range devices {
		if err := b.publishState(NewStateMessage(d, "", "")); err != nil {
			b.logWarn("initial state publish failed", "device", d.Name, "error", err)
		}
	}

	b.logInfo("controller bridge started", "devices", len(devices))
	return nil
}

// Stop cancels in-flight report writes.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.ctxCancel()
		b.logInfo("controller bridge stopped")
	})
}

// OnStateChange publishes a committed change as the device's retained state.
func (b *Bridge) OnStateChange(_ context.Context, change device.StateChange) error {
	return b.publishState(NewStateMessage(change.Device, change.EventID, change.Source))
}

// publishState sends msg as the retained state unless a newer version of the
// device has already been published.
func (b *Bridge) publishState(msg StateMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding state for %s: %w", msg.Device, err)
	}

	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	if last, ok := b.published[msg.Device]; ok && msg.Version <= last {
		b.logDebug("stale state not published", "device", msg.Device, "version", msg.Version, "published", last)
		return nil
	}
	if err := b.mqtt.PublishRetained(b.topics.DeviceState(msg.Device), payload); err != nil {
		return fmt.Errorf("publishing state for %s: %w", msg.Device, err)
	}
	b.published[msg.Device] = msg.Version
	b.statesPublished.Add(1)
	return nil
}

// handleReport applies one controller report. Malformed or invalid reports
// are counted and returned so the MQTT client logs them.
func (b *Bridge) handleReport(_ string, payload []byte) error {
	var rep device.ControllerReport
	if err := json.Unmarshal(payload, &rep); err != nil {
		b.reportsRejected.Add(1)
		return fmt.Errorf("decoding controller report: %w", err)
	}

	ctx, cancel := context.WithTimeout(b.ctx, reportTimeout)
	defer cancel()

	if err := b.registry.ApplyReport(device.WithSource(ctx, device.SourceMQTT), rep); err != nil {
		b.reportsRejected.Add(1)
		return err
	}

	b.reportsApplied.Add(1)
	b.logDebug("controller report applied")
	return nil
}

// Metrics contains bridge counters for the API metrics endpoint.
type Metrics struct {
	Connected       bool   `json:"connected"`
	ReportsApplied  uint64 `json:"reports_applied"`
	ReportsRejected uint64 `json:"reports_rejected"`
	StatesPublished uint64 `json:"states_published"`
}

// GetMetrics returns the current counters.
func (b *Bridge) GetMetrics() Metrics {
	return Metrics{
		Connected:       b.mqtt.IsConnected(),
		ReportsApplied:  b.reportsApplied.Load(),
		ReportsRejected: b.reportsRejected.Load(),
		StatesPublished: b.statesPublished.Load(),
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
