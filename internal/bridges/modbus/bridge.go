package modbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-cover/internal/cover"
	"github.com/nerrad567/gray-logic-cover/internal/coverstore"
	"github.com/nerrad567/gray-logic-cover/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-cover/internal/infrastructure/mqtt"
)

// Bridge operation constants.
const (
	// minTopicParts is the minimum number of parts in a valid MQTT topic.
	minTopicParts = 3

	// commandTimeout bounds one command write plus its follow-up poll.
	commandTimeout = 5 * time.Second

	// storeTimeout bounds persistence of a single state change.
	storeTimeout = 5 * time.Second

	// pruneInterval is how often old history rows are removed.
	pruneInterval = time.Hour

	hoursPerDay = 24
)

// Logger is the logging interface used by the bridge.
// It is satisfied by *logging.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MQTTClient is the interface for MQTT operations.
// It is satisfied by *mqtt.Client.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// StateStore persists display state for restore and keeps a state history.
// It is satisfied by *coverstore.Store. Optional.
type StateStore interface {
	LastDisplayState(ctx context.Context, coverID string) (string, error)
	SaveSnapshot(ctx context.Context, snap cover.Snapshot) error
	RecordStateChange(ctx context.Context, snap cover.Snapshot, source string) error
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Telemetry receives state and command points for time-series storage.
// It is satisfied by *influxdb.Client. Optional.
type Telemetry interface {
	WriteCoverState(snap cover.Snapshot)
	WriteCommand(coverID, command string, ok bool)
}

// Metrics receives bridge counters. It is satisfied by *metrics.Metrics.
// Optional.
type Metrics interface {
	ObservePoll(coverID string, result cover.PollResult)
	ObserveCommand(coverID, command string, err error)
	SetCoverState(snap cover.Snapshot)
	SetAcquired(coverID, hub string, acquired bool)
	StatePublished()
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Config is the loaded configuration. Covers, Acquire, Bridge and
	// Database.HistoryRetentionDays are used.
	Config *config.Config

	// Version is reported in health messages.
	Version string

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Resolver looks up hub transports.
	Resolver cover.HubResolver

	// Store persists display state and history. Optional.
	Store StateStore

	// Telemetry writes time-series points. Optional.
	Telemetry Telemetry

	// Metrics records Prometheus counters. Optional.
	Metrics Metrics

	// Hubs reports hub link counters for health messages. Optional.
	Hubs func() []HubStatus

	// Logger is optional structured logger.
	Logger Logger

	// After replaces time.After in the hub acquirers. Tests only.
	After func(time.Duration) <-chan time.Time
}

// Bridge connects configured covers to the MQTT bus.
// It handles:
//   - Per-cover hub acquisition, restore and polling
//   - Commands and requests from Core
//   - State publication, persistence and telemetry
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg       *config.Config
	mqtt      MQTTClient
	store     StateStore
	telemetry Telemetry
	metrics   Metrics
	health    *HealthReporter
	logger    Logger

	// units is fixed after NewBridge; order keeps configuration order.
	units map[string]*unit
	order []string

	listenersMu sync.RWMutex
	listeners   []func(cover.Snapshot)

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx
}

// NewBridge creates a new bridge instance with one unit per configured cover.
// Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Resolver == nil {
		return nil, fmt.Errorf("hub resolver is required")
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:       opts.Config,
		mqtt:      opts.MQTTClient,
		store:     opts.Store,
		telemetry: opts.Telemetry,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		units:     make(map[string]*unit, len(opts.Config.Covers)),
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
	}

	for _, cc := range opts.Config.Covers {
		desc, err := DescriptorFromConfig(cc)
		if err != nil {
			ctxCancel()
			return nil, err
		}
		id := desc.UniqueID()
		if _, exists := b.units[id]; exists {
			ctxCancel()
			return nil, fmt.Errorf("%w: duplicate cover id %q", cover.ErrInvalidDescriptor, id)
		}

		b.units[id] = &unit{
			bridge: b,
			desc:   desc,
			acquirer: cover.NewAcquirer(cover.AcquirerConfig{
				HubID:            desc.Hub,
				Resolver:         opts.Resolver,
				FirstRetryDelay:  opts.Config.Acquire.FirstRetryDelay,
				SteadyRetryDelay: opts.Config.Acquire.SteadyRetryDelay,
				Logger:           opts.Logger,
				After:            opts.After,
			}),
			created: time.Now().UTC(),
		}
		b.order = append(b.order, id)
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.Config.Bridge.ID,
		Version:   opts.Version,
		Interval:  opts.Config.GetHealthInterval(),
		Publisher: opts.MQTTClient,
		Covers:    b.coverSummary,
		Hubs:      opts.Hubs,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// DescriptorFromConfig converts a cover configuration entry into a
// validated descriptor.
func DescriptorFromConfig(cc config.CoverConfig) (cover.Descriptor, error) {
	var problems []string

	layout, err := cover.ParseLayout(cc.Layout)
	if err != nil {
		problems = append(problems, err.Error())
	}
	stop, err := cover.ParseStopEncoding(cc.StopEncoding)
	if err != nil {
		problems = append(problems, err.Error())
	}
	kind, err := cover.ParseRegisterKind(cc.InputType)
	if err != nil {
		problems = append(problems, err.Error())
	}
	if cc.Slave < 0 || cc.Slave > 247 {
		problems = append(problems, fmt.Sprintf("slave %d out of range 0..247", cc.Slave))
	}
	if cc.Address < 0 || cc.Address > 0xFFFF {
		problems = append(problems, fmt.Sprintf("address %d out of range 0..65535", cc.Address))
	}
	if len(problems) > 0 {
		return cover.Descriptor{}, fmt.Errorf("%w: cover %q: %s", cover.ErrInvalidDescriptor, cc.Name, strings.Join(problems, "; "))
	}

	desc := cover.Descriptor{
		Name:           cc.Name,
		Hub:            cc.Hub,
		Slave:          byte(cc.Slave),     //nolint:gosec // range checked above
		Address:        uint16(cc.Address), //nolint:gosec // range checked above
		ScanInterval:   cc.ScanInterval,
		Layout:         layout,
		StopEncoding:   stop,
		InputKind:      kind,
		LazyErrorCount: cc.LazyErrorCount,
	}
	if err := desc.Validate(); err != nil {
		return cover.Descriptor{}, err
	}
	return desc, nil
}

// Start subscribes to commands and requests, starts every cover unit and
// begins health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	commandTopic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	requestTopic := RequestSubscribeTopic()
	if err := b.mqtt.Subscribe(requestTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logInfo("subscribed to requests", "topic", requestTopic)

	for _, id := range b.order {
		u := b.units[id]
		if b.metrics != nil {
			b.metrics.SetAcquired(id, u.desc.Hub, false)
		}
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			u.run(b.ctx)
		}()
	}

	if days := b.cfg.Database.HistoryRetentionDays; b.store != nil && days > 0 {
		b.wg.Add(1)
		go b.pruneLoop(time.Duration(days) * hoursPerDay * time.Hour)
	}

	b.health.Start(ctx)
	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish health status", err)
	}

	b.logInfo("bridge started",
		"bridge_id", b.cfg.Bridge.ID,
		"covers", len(b.order))

	return nil
}

// Stop cancels every unit, waits for them and publishes "stopping" health.
// Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()
		b.wg.Wait()
		b.health.Stop()

		b.logInfo("bridge stopped")
	})
}

// AddStateListener registers fn to receive every state change after it has
// been published. fn must not block.
func (b *Bridge) AddStateListener(fn func(cover.Snapshot)) {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()
	b.listeners = append(b.listeners, fn)
}

// Execute runs cmd on the identified cover.
//
// Returns:
//   - error: ErrCoverNotFound, ErrNotReady, or the controller's error
//     (cover.ErrInvalidTarget, cover.ErrTransportFailure)
func (b *Bridge) Execute(ctx context.Context, coverID string, cmd cover.Command) error {
	u, ok := b.units[coverID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCoverNotFound, coverID)
	}
	ctrl := u.controller()
	if ctrl == nil {
		return fmt.Errorf("%w: %s", ErrNotReady, coverID)
	}

	err := ctrl.Execute(ctx, cmd)

	if b.metrics != nil {
		b.metrics.ObserveCommand(coverID, cmd.Kind.String(), err)
	}
	if b.telemetry != nil {
		b.telemetry.WriteCommand(coverID, cmd.Kind.String(), err == nil)
	}
	return err
}

// Cover returns the status of one cover.
func (b *Bridge) Cover(coverID string) (CoverStatus, error) {
	u, ok := b.units[coverID]
	if !ok {
		return CoverStatus{}, fmt.Errorf("%w: %s", ErrCoverNotFound, coverID)
	}
	return u.status(), nil
}

// Covers returns the status of every cover in configuration order.
func (b *Bridge) Covers() []CoverStatus {
	result := make([]CoverStatus, 0, len(b.order))
	for _, id := range b.order {
		result = append(result, b.units[id].status())
	}
	return result
}

// coverSummary counts covers by readiness for health reports.
func (b *Bridge) coverSummary() CoverSummary {
	s := CoverSummary{Total: len(b.order)}
	for _, id := range b.order {
		ctrl := b.units[id].controller()
		if ctrl == nil {
			continue
		}
		s.Acquired++
		if ctrl.State().Available {
			s.Available++
		}
	}
	return s
}

// handleStateChange persists, records and publishes one snapshot.
// It runs synchronously on the controller's caller. Changes caused by the
// shutdown itself are dropped.
func (b *Bridge) handleStateChange(u *unit, snap cover.Snapshot, source string) {
	if b.ctx.Err() != nil {
		return
	}

	if b.store != nil {
		ctx, cancel := context.WithTimeout(b.ctx, storeTimeout)
		// Unavailable snapshots carry no motion worth restoring, and a
		// restored snapshot is already what the store holds.
		if snap.State.Available && source != coverstore.SourceRestore {
			if err := b.store.SaveSnapshot(ctx, snap); err != nil {
				b.logError("failed to persist cover state", err, "cover", snap.ID)
			}
		}
		if err := b.store.RecordStateChange(ctx, snap, source); err != nil {
			b.logError("failed to record state history", err, "cover", snap.ID)
		}
		cancel()
	}

	if b.telemetry != nil {
		b.telemetry.WriteCoverState(snap)
	}
	if b.metrics != nil {
		b.metrics.SetCoverState(snap)
	}

	b.publishState(u.desc, snap)

	b.listenersMu.RLock()
	listeners := b.listeners
	b.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

// publishState publishes a retained state message (QoS 1).
func (b *Bridge) publishState(desc cover.Descriptor, snap cover.Snapshot) {
	payload, err := json.Marshal(NewStateMessage(snap, desc))
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}

	if err := b.mqtt.Publish(StateTopic(snap.ID), payload, 1, true); err != nil {
		b.logError("failed to publish state", err, "cover", snap.ID)
		return
	}
	if b.metrics != nil {
		b.metrics.StatePublished()
	}
}

// pruneLoop removes history older than retention, once at start and then
// every pruneInterval.
func (b *Bridge) pruneLoop(retention time.Duration) {
	defer b.wg.Done()

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		n, err := b.store.PruneHistory(b.ctx, retention)
		switch {
		case err != nil && b.ctx.Err() == nil:
			b.logError("failed to prune state history", err)
		case n > 0:
			b.logInfo("pruned state history", "rows", n)
		}

		select {
		case <-b.done:
			return
		case <-ticker.C:
		}
	}
}

// handleMQTTMessage routes incoming MQTT messages to appropriate handlers.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		return fmt.Errorf("invalid topic format: %s", topic)
	}

	switch messageType := parts[1]; messageType {
	case "command":
		return b.handleCommand(payload)
	case "request":
		return b.handleRequest(payload)
	default:
		return fmt.Errorf("unknown message type: %s", messageType)
	}
}

// handleCommand processes a command message from Core and always answers
// with an ack unless the payload cannot be parsed at all.
func (b *Bridge) handleCommand(payload []byte) error {
	var msg CommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("parse command: %w", err)
	}

	b.logInfo("received command",
		"command_id", msg.ID,
		"device_id", msg.DeviceID,
		"command", msg.Command)

	u, ok := b.units[msg.DeviceID]
	if !ok {
		b.publishAckError(msg, "", ErrCodeNotConfigured,
			fmt.Sprintf("cover %s not configured", msg.DeviceID))
		return nil
	}
	address := coverAddress(u.desc)

	cmd, err := ParseCommand(msg.Command, msg.Parameters)
	if err != nil {
		code := ErrCodeInvalidParameters
		if errors.Is(err, ErrUnknownCommand) {
			code = ErrCodeInvalidCommand
		}
		b.publishAckError(msg, address, code, err.Error())
		return nil
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	if err := b.Execute(ctx, msg.DeviceID, cmd); err != nil {
		b.publishAckError(msg, address, errorCode(err), err.Error())
		return nil
	}

	b.publishAck(msg, address)
	return nil
}

// errorCode maps an Execute error to an ack error code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrCoverNotFound):
		return ErrCodeNotConfigured
	case errors.Is(err, ErrNotReady):
		return ErrCodeNotReady
	case errors.Is(err, cover.ErrInvalidTarget):
		return ErrCodeInvalidParameters
	default:
		return ErrCodeDeviceUnreachable
	}
}

func (b *Bridge) publishAck(msg CommandMessage, address string) {
	b.publishAckMessage(NewAckMessage(msg, AckAccepted, address))
}

func (b *Bridge) publishAckError(msg CommandMessage, address, code, message string) {
	b.publishAckMessage(NewAckError(msg, address, code, message))
	b.logWarn("command failed",
		"command_id", msg.ID,
		"device_id", msg.DeviceID,
		"code", code,
		"message", message)
}

func (b *Bridge) publishAckMessage(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}

	if err := b.mqtt.Publish(AckTopic(ack.DeviceID), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// handleRequest processes a request message and publishes the response.
func (b *Bridge) handleRequest(payload []byte) error {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("parse request: %w", err)
	}

	b.logInfo("received request",
		"request_id", req.RequestID,
		"action", req.Action)

	var resp ResponseMessage
	switch req.Action {
	case ActionReadState:
		resp = b.handleReadState(req)
	case ActionList:
		resp = b.handleList(req)
	default:
		resp = errorResponse(req, ErrCodeInvalidCommand, fmt.Sprintf("unknown action: %s", req.Action))
	}

	respPayload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	if err := b.mqtt.Publish(ResponseTopic(req.RequestID), respPayload, 1, false); err != nil {
		return fmt.Errorf("publish response: %w", err)
	}
	return nil
}

func (b *Bridge) handleReadState(req RequestMessage) ResponseMessage {
	u, ok := b.units[req.DeviceID]
	if !ok {
		return errorResponse(req, ErrCodeNotConfigured, fmt.Sprintf("cover %s not configured", req.DeviceID))
	}

	st := u.status()
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data: map[string]any{
			"state": NewStateMessage(st.Snapshot, u.desc),
			"ready": st.Ready,
		},
	}
}

func (b *Bridge) handleList(req RequestMessage) ResponseMessage {
	covers := make([]StateMessage, 0, len(b.order))
	for _, id := range b.order {
		u := b.units[id]
		covers = append(covers, NewStateMessage(u.status().Snapshot, u.desc))
	}

	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data: map[string]any{
			"covers": covers,
			"count":  len(covers),
		},
	}
}

func errorResponse(req RequestMessage, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   false,
		Error: &ResponseError{
			Code:    code,
			Message: message,
		},
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
