package publisher

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTPublisher wraps a Paho MQTT client.
type MQTTPublisher struct {
	client  mqtt.Client
	qos     byte
	retain  bool
	timeout time.Duration
}

// MQTTOptions configures the MQTT publisher.
type MQTTOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
	// Retain keeps the last status of each call on the broker so late
	// subscribers see it.
	Retain bool
	// PublishTimeout bounds each publish when the caller's context has no
	// deadline. Zero means 10s.
	PublishTimeout time.Duration
}

// NewMQTTPublisher creates and connects an MQTT publisher.
func NewMQTTPublisher(opts MQTTOptions) (*MQTTPublisher, error) {
	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(60 * time.Second)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username).SetPassword(opts.Password)
	}

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to MQTT broker %s: %w", opts.Broker, err)
	}

	timeout := opts.PublishTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MQTTPublisher{
		client:  client,
		qos:     opts.QoS,
		retain:  opts.Retain,
		timeout: timeout,
	}, nil
}

func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("publishing to %s: %w", topic, ctx.Err())
	}
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
