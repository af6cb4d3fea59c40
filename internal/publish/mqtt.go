package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const connectTimeout = 30 * time.Second

type MQTTOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
}

// MQTTPublisher publishes alerts to "<topic>/<alert type>".
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
	log    zerolog.Logger
}

func NewMQTTPublisher(opts MQTTOptions, log zerolog.Logger) (*MQTTPublisher, error) {
	log = log.With().Str("broker", opts.Broker).Logger()

	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(opts.Broker)
	clientOpts.SetClientID(opts.ClientID)
	clientOpts.SetUsername(opts.Username)
	clientOpts.SetPassword(opts.Password)
	clientOpts.SetCleanSession(true)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info().Msg("connected to MQTT broker")
	})
	clientOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("connection to MQTT broker lost")
	})

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, errors.New("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection error: %w", err)
	}

	return newMQTTPublisher(client, opts.Topic, log), nil
}

func newMQTTPublisher(client mqtt.Client, topic string, log zerolog.Logger) *MQTTPublisher {
	return &MQTTPublisher{
		client: client,
		topic:  topic,
		log:    log,
	}
}

func (p *MQTTPublisher) Name() string { return "mqtt" }

func (p *MQTTPublisher) Publish(ctx context.Context, alert Alert) error {
	if !p.client.IsConnected() {
		return errors.New("not connected to MQTT broker")
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		return err
	}

	topic := fmt.Sprintf("%s/%s", p.topic, alert.AlertType)
	token := p.client.Publish(topic, 1, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", topic, ctx.Err())
	}
}

func (p *MQTTPublisher) Close() error {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
	return nil
}
