package bridge

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const connectTimeout = 10 * time.Second

// pahoBroker adapts the paho MQTT client to the Broker interface.
type pahoBroker struct {
	client mqtt.Client
}

func newPahoBroker(broker, clientID string) *pahoBroker {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(false).
		SetConnectTimeout(connectTimeout)
	return &pahoBroker{client: mqtt.NewClient(opts)}
}

func (p *pahoBroker) Connect() error {
	tok := p.client.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		return fmt.Errorf("connect timed out after %s", connectTimeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

func (p *pahoBroker) IsConnected() bool { return p.client.IsConnected() }

func (p *pahoBroker) Publish(topic string, payload []byte) error {
	tok := p.client.Publish(topic, 0, false, payload)
	if err := tok.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (p *pahoBroker) Subscribe(filter string, handler func(topic string, payload []byte)) error {
	tok := p.client.Subscribe(filter, 0, func(_ mqtt.Client, m mqtt.Message) {
		handler(m.Topic(), m.Payload())
	})
	if !tok.WaitTimeout(connectTimeout) {
		return fmt.Errorf("subscribe %s timed out", filter)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", filter, err)
	}
	return nil
}

func (p *pahoBroker) Disconnect() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
