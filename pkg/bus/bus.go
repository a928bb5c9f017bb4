// Package bus is the broadcaster adapter: it wraps an MQTT client
// (github.com/eclipse/paho.golang/autopaho), exposing connect/subscribe/
// unsubscribe/publish helpers and the session-open/connection-lost hooks the
// rest of the agent needs to react to the broadcaster connection's
// lifecycle.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/rs/zerolog"

	"github.com/andante-project/yadtreceiver/pkg/agenterr"
	"github.com/andante-project/yadtreceiver/pkg/events"
	"github.com/andante-project/yadtreceiver/pkg/log"
)

// Dispatcher is the subset of pkg/dispatcher.Dispatcher the adapter routes
// decoded events into.
type Dispatcher interface {
	OnRequest(ev events.Event)
	OnVote(ev events.Event)
}

// TargetSource reloads the allowed-targets list from configuration, called
// on every session open so a config change takes effect without a restart.
type TargetSource interface {
	ReloadAllowedTargets() ([]string, error)
}

// Adapter is the broadcaster adapter.
type Adapter struct {
	host           string
	port           int
	clientID       string
	targets        TargetSource
	dispatcher     Dispatcher
	onNoTargets    func()
	logger         zerolog.Logger
	connectTimeout time.Duration

	mu         sync.Mutex
	cm         *autopaho.ConnectionManager
	connected  bool
	subscribed map[string]bool
}

// Config bundles the adapter's collaborators.
type Config struct {
	Host           string
	Port           int
	ClientID       string
	Targets        TargetSource
	Dispatcher     Dispatcher
	OnNoTargets    func() // called when allowed_targets is empty at session open
	ConnectTimeout time.Duration
}

// New constructs an Adapter. Connect must be called to start the session.
func New(cfg Config) *Adapter {
	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Adapter{
		host:           cfg.Host,
		port:           cfg.Port,
		clientID:       cfg.ClientID,
		targets:        cfg.Targets,
		dispatcher:     cfg.Dispatcher,
		onNoTargets:    cfg.OnNoTargets,
		logger:         log.WithComponent("bus"),
		connectTimeout: timeout,
		subscribed:     make(map[string]bool),
	}
}

// Connect dials the broadcaster and blocks until the first session is open
// (or ctx/connectTimeout elapses; autopaho continues retrying in the
// background regardless).
func (a *Adapter) Connect(ctx context.Context) error {
	serverURL, err := url.Parse(fmt.Sprintf("mqtt://%s:%d", a.host, a.port))
	if err != nil {
		return fmt.Errorf("%w: invalid broadcaster address: %v", agenterr.ErrBusTransport, err)
	}

	cliCfg := paho.ClientConfig{
		ClientID: a.clientID,
		OnClientError: func(err error) {
			a.handleConnectionLost(fmt.Errorf("client error: %w", err))
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			a.handleConnectionLost(fmt.Errorf("server disconnect: reason code %d", d.ReasonCode))
		},
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls: []*url.URL{serverURL},
		KeepAlive:  30,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			a.mu.Lock()
			a.cm = cm
			a.connected = true
			a.mu.Unlock()
			a.handleSessionOpen(ctx)
		},
		OnConnectError: func(err error) {
			a.logger.Warn().Err(err).Msg("broadcaster connect attempt failed")
		},
		ClientConfig: cliCfg,
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("%w: %v", agenterr.ErrBusTransport, err)
	}
	cm.AddOnPublishReceived(func(pr autopaho.PublishReceived) (bool, error) {
		a.handleMessage(pr.Packet.Topic, pr.Packet.Payload)
		return true, nil
	})

	connectCtx, cancel := context.WithTimeout(ctx, a.connectTimeout)
	defer cancel()
	if err := cm.AwaitConnection(connectCtx); err != nil {
		a.logger.Warn().Err(err).Msg("initial connection not confirmed within timeout; autopaho will keep retrying")
	}
	return nil
}

// handleSessionOpen reloads allowed targets from configuration. An empty set
// is fatal, since an agent subscribed to nothing can never receive work;
// otherwise subscribe to all allowed targets in sorted order for
// reproducible logs/tests.
func (a *Adapter) handleSessionOpen(ctx context.Context) {
	targets, err := a.targets.ReloadAllowedTargets()
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to reload allowed targets on session open")
		return
	}
	if len(targets) == 0 {
		a.logger.Error().Msg("no allowed targets configured; exiting")
		if a.onNoTargets != nil {
			a.onNoTargets()
		}
		return
	}
	for _, t := range events.SortedTargets(targets) {
		a.subscribe(ctx, t)
	}
}

// handleConnectionLost nulls out the underlying client reference so
// subsequent reconnect logic sees a clean slate. The reconnect itself is
// autopaho's responsibility.
func (a *Adapter) handleConnectionLost(reason error) {
	a.mu.Lock()
	a.cm = nil
	a.connected = false
	a.mu.Unlock()
	a.logger.Warn().Err(reason).Msg("broadcaster connection lost")
}

func (a *Adapter) subscribe(ctx context.Context, target string) {
	a.mu.Lock()
	cm := a.cm
	a.mu.Unlock()
	if cm == nil {
		return
	}
	_, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: topicIn(target), QoS: 1},
		},
	})
	if err != nil {
		a.logger.Error().Err(err).Str("target", target).Msg("subscribe failed")
		return
	}
	a.mu.Lock()
	a.subscribed[target] = true
	a.mu.Unlock()
}

// Unsubscribe drops a target's subscription. On reconnect, previously
// subscribed targets are re-subscribed without unsubscribing first; this
// method exists for explicit/manual use, not the reconnect path.
func (a *Adapter) Unsubscribe(ctx context.Context, target string) {
	a.mu.Lock()
	cm := a.cm
	a.mu.Unlock()
	if cm == nil {
		return
	}
	if _, err := cm.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{topicIn(target)}}); err != nil {
		a.logger.Error().Err(err).Str("target", target).Msg("unsubscribe failed")
		return
	}
	a.mu.Lock()
	delete(a.subscribed, target)
	a.mu.Unlock()
}

// handleMessage decodes an inbound message and routes it to the dispatcher.
// Decoding errors are logged and suppressed; the loop continues.
func (a *Adapter) handleMessage(topic string, payload []byte) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		a.logger.Error().Err(err).Str("topic", topic).Msg("malformed bus payload")
		return
	}
	ev, err := events.Decode(raw)
	if err != nil {
		a.logger.Error().Err(err).Str("topic", topic).Msg("event decode failed")
		return
	}
	switch ev.Kind {
	case events.KindRequest:
		if ev.Target == "" {
			ev.Target = targetFromTopic(topic)
		}
		a.dispatcher.OnRequest(ev)
	case events.KindVote:
		a.dispatcher.OnVote(ev)
	default:
		a.logger.Debug().Str("kind", string(ev.Kind)).Msg("informational event received")
	}
}

// PublishVote implements dispatcher.VotePublisher.
func (a *Adapter) PublishVote(target, vote, trackingID string) {
	a.publish(target, map[string]any{
		"id":          "vote",
		"payload":     vote,
		"tracking_id": trackingID,
		"target":      target,
	})
}

// PublishCmd implements dispatcher.LifecyclePublisher and
// supervisor.LifecyclePublisher.
func (a *Adapter) PublishCmd(target, cmd, state, message, trackingID string) {
	a.publish(target, map[string]any{
		"id":          "cmd",
		"cmd":         cmd,
		"state":       state,
		"message":     message,
		"tracking_id": trackingID,
	})
}

// PublishOutput implements supervisor.OutputPublisher, publishing one
// message per streamed stdout/stderr line, tagged with the owning tracking
// id (see DESIGN.md for the wire-shape rationale).
func (a *Adapter) PublishOutput(target, trackingID, stream, line string) {
	a.publish(target, map[string]any{
		"id":          "output",
		"stream":      stream,
		"line":        line,
		"tracking_id": trackingID,
	})
}

func (a *Adapter) publish(target string, payload map[string]any) {
	a.mu.Lock()
	cm := a.cm
	a.mu.Unlock()
	if cm == nil {
		a.logger.Warn().Str("target", target).Msg("publish dropped: no active broadcaster session")
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to marshal outbound payload")
		return
	}
	_, err = cm.Publish(context.Background(), &paho.Publish{
		Topic:   topicOut(target),
		QoS:     1,
		Payload: body,
	})
	if err != nil {
		a.logger.Error().Err(err).Str("target", target).Msg("publish failed")
	}
}

// IsConnected implements scheduler.ConnectionRefresher.
func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// CloseSession implements scheduler.ConnectionRefresher: force-closes the
// current session so autopaho reconnects, per the hourly connection-refresh
// timer's 02:00 guard.
func (a *Adapter) CloseSession() {
	a.mu.Lock()
	cm := a.cm
	a.mu.Unlock()
	if cm == nil {
		return
	}
	if err := cm.Disconnect(context.Background()); err != nil {
		a.logger.Warn().Err(err).Msg("error disconnecting during connection refresh")
	}
}

// Close tears down the connection at shutdown.
func (a *Adapter) Close(ctx context.Context) error {
	a.mu.Lock()
	cm := a.cm
	a.mu.Unlock()
	if cm == nil {
		return nil
	}
	return cm.Disconnect(ctx)
}

func topicIn(target string) string  { return fmt.Sprintf("yadtreceiver/%s/in", target) }
func topicOut(target string) string { return fmt.Sprintf("yadtreceiver/%s/out", target) }

// targetFromTopic recovers the target name from an inbound topic when a
// request event omits an explicit "target" field.
func targetFromTopic(topic string) string {
	const prefix = "yadtreceiver/"
	const suffix = "/in"
	if len(topic) > len(prefix)+len(suffix) && topic[:len(prefix)] == prefix {
		return topic[len(prefix) : len(topic)-len(suffix)]
	}
	return ""
}
