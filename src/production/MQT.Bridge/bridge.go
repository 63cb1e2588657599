package mqtbridge

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	archive "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Archive"
	config "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Config"
	logger "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Logger"
	metrics "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Metrics"
	sensor_models "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Models/sensor"
	operations "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Operations"
)

const (
	inboxSize      = 1024
	publishQoS     = 1
	publishTimeout = 10 * time.Second
	subscribeWait  = 10 * time.Second
	drainTimeout   = 5 * time.Second
	disconnectMs   = 250
	logPreviewLen  = 100
)

// State is the lifecycle position of the broker session
type State int32

const (
	Disconnected State = iota
	Connecting
	Subscribed
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Dispatcher executes an operation on a raw payload
type Dispatcher interface {
	Dispatch(ctx context.Context, op operations.Operation, payload []byte) sensor_models.Response
}

// Recorder receives bridge observations
type Recorder interface {
	BridgeMessage(topic, result string)
	SetBridgeState(state int)
}

type nopRecorder struct{}

func (nopRecorder) BridgeMessage(string, string) {}
func (nopRecorder) SetBridgeState(int)           {}

// ClientFactory builds the paho client from the bridge's options
type ClientFactory func(opts *mqtt.ClientOptions) mqtt.Client

type inbound struct {
	topic      string
	payload    []byte
	receivedAt time.Time
}

// Bridge owns the broker session. Messages are handed from paho into an inbox
// and handled one at a time, in arrival order, by Run.
type Bridge struct {
	cfg       config.MQTTConfig
	service   Dispatcher
	logger    *logger.Logger
	recorder  Recorder
	archiver  archive.Archiver
	newClient ClientFactory

	client        mqtt.Client
	inbox         chan inbound
	done          chan struct{}
	state         atomic.Int32
	resubscribing atomic.Bool
}

type Option func(*Bridge)

func WithRecorder(r Recorder) Option {
	return func(b *Bridge) {
		if r != nil {
			b.recorder = r
		}
	}
}

func WithArchiver(a archive.Archiver) Option {
	return func(b *Bridge) {
		if a != nil {
			b.archiver = a
		}
	}
}

func WithClientFactory(f ClientFactory) Option {
	return func(b *Bridge) {
		if f != nil {
			b.newClient = f
		}
	}
}

func New(cfg config.MQTTConfig, service Dispatcher, log *logger.Logger, opts ...Option) *Bridge {
	if log == nil {
		log = logger.Nop()
	}
	b := &Bridge{
		cfg:       cfg,
		service:   service,
		logger:    log.WithComponent("bridge"),
		recorder:  nopRecorder{},
		archiver:  archive.Nop{},
		newClient: mqtt.NewClient,
		inbox:     make(chan inbound, inboxSize),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.setState(Disconnected)
	return b
}

// State reports the current session state; safe from any goroutine
func (b *Bridge) State() State {
	return State(b.state.Load())
}

func (b *Bridge) IsConnected() bool {
	return b.client != nil && b.client.IsConnected()
}

func (b *Bridge) setState(s State) {
	b.state.Store(int32(s))
	b.recorder.SetBridgeState(int(s))
}

// Start configures the session and begins connecting. Connection attempts
// continue in the background at the configured retry interval; Start only
// fails on configuration errors or a non-retriable connect failure.
func (b *Bridge) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(b.cfg.BrokerURL()).
		SetClientID(b.cfg.ClientID).
		SetOrderMatters(true).
		SetKeepAlive(b.cfg.KeepAlive).
		SetPingTimeout(b.cfg.PingTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(b.cfg.ConnectRetryInterval).
		SetCleanSession(true)

	if b.cfg.BrokerUser != "" {
		opts.SetUsername(b.cfg.BrokerUser)
		opts.SetPassword(b.cfg.BrokerPass)
	}

	if b.cfg.UseTLS {
		tlsCfg, err := b.tlsConfig(b.cfg.CACertPath)
		if err != nil {
			return err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.SetDefaultPublishHandler(b.onMessage)
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		b.logger.Logger.Info().Str("broker", b.cfg.BrokerURL()).Msg("Reconnecting to MQTT broker")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if b.State() == Subscribed {
			b.setState(Connecting)
		}
		b.logger.Logger.Error().Err(err).Msg("MQTT connection lost")
	})
	opts.SetOnConnectHandler(b.onConnect)

	b.setState(Connecting)
	b.client = b.newClient(opts)

	b.logger.Logger.Info().Str("broker", b.cfg.BrokerURL()).Str("client_id", b.cfg.ClientID).Msg("Connecting to MQTT broker")
	if tk := b.client.Connect(); tk.WaitTimeout(b.cfg.ConnectRetryInterval) && tk.Error() != nil {
		b.setState(Disconnected)
		return fmt.Errorf("failed to connect to MQTT broker: %w", tk.Error())
	}
	return nil
}

func (b *Bridge) stopping() bool {
	s := b.State()
	return s == Draining || s == Stopped
}

// onConnect runs on every (re)connect and restores the subscription set
func (b *Bridge) onConnect(c mqtt.Client) {
	if b.stopping() {
		return
	}

	filters := subscriptionFilters(b.cfg.SharedGroup)
	b.logger.Logger.Info().Strs("topics", sortedKeys(filters)).Msg("MQTT connected, subscribing to request topics")

	if err := b.subscribe(c, filters); err != nil {
		b.logger.Logger.Error().Err(err).Dur("retry_in", b.retryInterval()).Msg("Failed to subscribe to MQTT request topics")
		go b.resubscribe(c, filters)
		return
	}
	b.markSubscribed()
}

func (b *Bridge) subscribe(c mqtt.Client, filters map[string]byte) error {
	tk := c.SubscribeMultiple(filters, b.onMessage)
	if !tk.WaitTimeout(subscribeWait) {
		return fmt.Errorf("subscribe timed out after %s", subscribeWait)
	}
	return tk.Error()
}

// resubscribe keeps retrying a refused subscription while the connection
// stays up. Only one retry loop runs at a time.
func (b *Bridge) resubscribe(c mqtt.Client, filters map[string]byte) {
	if !b.resubscribing.CompareAndSwap(false, true) {
		return
	}
	defer b.resubscribing.Store(false)

	for {
		select {
		case <-b.done:
			return
		case <-time.After(b.retryInterval()):
		}
		if b.stopping() || !c.IsConnected() {
			return
		}
		if err := b.subscribe(c, filters); err != nil {
			b.logger.Logger.Warn().Err(err).Msg("Subscribe retry failed")
			continue
		}
		b.markSubscribed()
		b.logger.Info("Subscribed to MQTT request topics")
		return
	}
}

// markSubscribed moves Connecting to Subscribed; a drain that has already
// started wins.
func (b *Bridge) markSubscribed() {
	if b.state.CompareAndSwap(int32(Connecting), int32(Subscribed)) {
		b.recorder.SetBridgeState(int(Subscribed))
	}
}

func (b *Bridge) retryInterval() time.Duration {
	if b.cfg.ConnectRetryInterval <= 0 {
		return time.Second
	}
	return b.cfg.ConnectRetryInterval
}

// onMessage is called by paho. It copies the message into the inbox and
// returns; handling happens in Run.
func (b *Bridge) onMessage(_ mqtt.Client, m mqtt.Message) {
	select {
	case <-b.done:
		b.logger.Logger.Warn().Str("topic", m.Topic()).Msg("Bridge stopping, dropping message")
		return
	default:
	}

	payload := make([]byte, len(m.Payload()))
	copy(payload, m.Payload())

	select {
	case b.inbox <- inbound{topic: m.Topic(), payload: payload, receivedAt: time.Now().UTC()}:
	case <-b.done:
		b.logger.Logger.Warn().Str("topic", m.Topic()).Msg("Bridge stopped, dropping message")
	}
}

// Run handles inbound messages until ctx is cancelled, then unsubscribes and
// disconnects. Handling of one message always completes before the next one
// is taken. Messages that arrive once shutdown has begun are dropped.
func (b *Bridge) Run(ctx context.Context) error {
	if b.client == nil {
		return fmt.Errorf("bridge not started")
	}

	for {
		select {
		case <-ctx.Done():
			// paho's router must not block on a full inbox while UNSUBACK is pending
			close(b.done)
			b.drain()
			return nil
		case in := <-b.inbox:
			b.handle(ctx, in)
		}
	}
}

func (b *Bridge) handle(ctx context.Context, in inbound) {
	requestID := uuid.NewString()
	log := b.logger.WithRequestID(requestID)

	op, ok := OperationFor(in.topic)
	if !ok {
		log.Logger.Warn().Str("topic", in.topic).Msg("No handler for topic")
		b.recorder.BridgeMessage(in.topic, metrics.ResultUnbound)
		return
	}

	log.Logger.Info().Str("topic", in.topic).Str("payload", preview(in.payload)).Msg("Received message")

	// in-flight operations finish even when shutdown has begun
	resp := b.service.Dispatch(context.WithoutCancel(ctx), op, in.payload)

	result := metrics.ResultDispatched
	if err := b.publish(log, ResponseTopic(op), resp); err != nil {
		log.Logger.Error().Err(err).Str("topic", ResponseTopic(op)).Msg("Failed to publish response")
		result = metrics.ResultPublishFailed
	}
	b.recorder.BridgeMessage(in.topic, result)

	rec := archive.Record{
		RequestID:  requestID,
		Topic:      in.topic,
		Operation:  op.String(),
		Payload:    in.payload,
		StatusCode: resp.StatusCode,
		ReceivedAt: in.receivedAt,
		Elapsed:    time.Since(in.receivedAt),
	}
	if err := b.archiver.Archive(context.WithoutCancel(ctx), rec); err != nil {
		log.Logger.Warn().Err(err).Msg("Failed to archive request")
	}
}

// publish sends the envelope once at QoS 1. There is no retry.
func (b *Bridge) publish(log *logger.Logger, topic string, resp sensor_models.Response) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}

	tk := b.client.Publish(topic, publishQoS, false, body)
	if !tk.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out after %s", topic, publishTimeout)
	}
	if tk.Error() != nil {
		return tk.Error()
	}

	log.Logger.Info().Str("topic", topic).Int("status_code", resp.StatusCode).Str("payload", preview(body)).Msg("Published response")
	return nil
}

// drain removes the subscriptions so the broker stops routing to this session,
// then disconnects.
func (b *Bridge) drain() {
	b.setState(Draining)
	b.logger.Info("Draining MQTT bridge")

	if b.client.IsConnected() {
		filters := subscriptionFilters(b.cfg.SharedGroup)
		if tk := b.client.Unsubscribe(sortedKeys(filters)...); !tk.WaitTimeout(drainTimeout) {
			b.logger.Warn("Timed out unsubscribing from request topics")
		} else if tk.Error() != nil {
			b.logger.ErrorWithError(tk.Error(), "Failed to unsubscribe from request topics")
		}
	}
	b.client.Disconnect(disconnectMs)

	b.setState(Stopped)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) tlsConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}
	ca, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}
	cp := x509.NewCertPool()
	if !cp.AppendCertsFromPEM(ca) {
		return nil, fmt.Errorf("bad CA file %s", caFile)
	}
	cfg.RootCAs = cp
	return cfg, nil
}

func preview(payload []byte) string {
	if len(payload) > logPreviewLen {
		return string(payload[:logPreviewLen]) + "..."
	}
	return string(payload)
}

func sortedKeys(m map[string]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
