// Package bridge connects the in-process message bus to an external MQTT
// broker. Outbound, every bus publication is republished on the broker
// under the bridge's client name; inbound, a configurable broker subtree is
// forwarded onto the bus with the subtree prefix stripped. Inbound traffic
// carries the bridge's originator label, so it is never echoed back out.
package bridge

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/me/muloop/internal/config"
	"github.com/me/muloop/pkg/sched"
	"github.com/me/muloop/pkg/timer"
)

// Originator labels all bus publications injected by the bridge.
const Originator = "mqtt"

// reconnectInterval spaces out connection attempts to the broker.
const reconnectInterval = 5 * time.Second

// Broker abstracts the MQTT client so the bridge logic is testable without
// a live broker.
type Broker interface {
	Connect() error
	IsConnected() bool
	Publish(topic string, payload []byte) error
	Subscribe(filter string, handler func(topic string, payload []byte)) error
	Disconnect()
}

// Bridge forwards traffic between a scheduler engine and an MQTT broker.
// It runs as a scheduler task and never blocks the engine loop: connection
// attempts are spaced by a timeout tested from within the task.
type Bridge struct {
	broker        Broker
	clientName    string
	inboundPrefix string
	logger        *slog.Logger

	eng        *sched.Engine
	taskID     int
	reconnect  *timer.Timeout
	subscribed bool
	warned     bool
}

// New creates a bridge on an existing broker connection handle.
func New(b Broker, clientName, inboundPrefix string, logger *slog.Logger) *Bridge {
	if clientName == "" {
		clientName = "muloop-" + uuid.NewString()[:8]
	}
	return &Bridge{
		broker:        b,
		clientName:    clientName,
		inboundPrefix: inboundPrefix,
		logger:        logger.With("component", "bridge"),
		reconnect:     timer.NewTimeout(0), // first attempt is immediate
	}
}

// NewFromConfig creates a bridge with a paho MQTT client.
func NewFromConfig(cfg config.BridgeConfig, logger *slog.Logger) (*Bridge, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("bridge: broker address is required")
	}
	clientName := cfg.ClientName
	if clientName == "" {
		clientName = "muloop-" + uuid.NewString()[:8]
	}
	b := New(newPahoBroker(cfg.Broker, clientName), clientName, cfg.InboundPrefix, logger)
	return b, nil
}

// ClientName returns the broker client id, which doubles as the outbound
// topic prefix.
func (b *Bridge) ClientName() string { return b.clientName }

// Begin registers the bridge on the engine: a task managing the broker
// connection, and a catch-all subscription forwarding bus traffic out.
func (b *Bridge) Begin(e *sched.Engine) {
	b.eng = e
	b.taskID = e.Add(b.loop, "mqtt", 50*time.Millisecond, sched.PrioNormal)
	e.Subscribe(b.taskID, "#", b.outbound, Originator)
}

// Close disconnects from the broker and removes the bridge task.
func (b *Bridge) Close() {
	if b.eng != nil {
		b.eng.Remove(b.taskID)
	}
	b.broker.Disconnect()
}

// loop is the bridge's scheduler task: it keeps the broker connection and
// the inbound subscription alive. The subscription is retried on every
// pass while connected, so a subscribe failure right after connecting does
// not leave inbound forwarding dead until the next disconnect.
func (b *Bridge) loop() {
	if !b.broker.IsConnected() {
		b.subscribed = false
		if !b.reconnect.Test() {
			return
		}
		b.reconnect.Reset()
		b.reconnect.SetDuration(reconnectInterval)

		if err := b.broker.Connect(); err != nil {
			if !b.warned {
				b.warned = true
				b.logger.Warn("broker unreachable", "error", err)
			}
			return
		}
		b.warned = false
		b.logger.Info("connected", "client", b.clientName)
	}

	if b.inboundPrefix != "" && !b.subscribed {
		filter := b.inboundPrefix + "/#"
		if err := b.broker.Subscribe(filter, b.inbound); err != nil {
			b.logger.Warn("inbound subscribe failed", "filter", filter, "error", err)
			return
		}
		b.subscribed = true
	}
}

// outbound forwards one bus publication to the broker. Own injections are
// already suppressed by the subscription's originator filter.
func (b *Bridge) outbound(topic, msg, originator string) {
	if !b.broker.IsConnected() {
		return
	}
	if err := b.broker.Publish(b.clientName+"/"+topic, []byte(msg)); err != nil {
		b.logger.Debug("outbound publish failed", "topic", topic, "error", err)
	}
}

// inbound forwards one broker message onto the bus. It is called from the
// MQTT client's goroutine; Publish is the one engine entry point that is
// safe there.
func (b *Bridge) inbound(topic string, payload []byte) {
	stripped, ok := strings.CutPrefix(topic, b.inboundPrefix+"/")
	if !ok || stripped == "" {
		return
	}
	if !b.eng.PublishFrom(stripped, string(payload), Originator) {
		b.logger.Debug("bus queue refused inbound message", "topic", stripped)
	}
}
