package stream

import (
	"context"
	"errors"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const transportMQTT = "mqtt"

// MQTTConfig holds broker settings.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
	QoS      byte
}

// MQTTSubscriber accepts readings published on a topic.
type MQTTSubscriber struct {
	cfg     MQTTConfig
	intake  Acceptor
	logger  *log.Logger
	timeout time.Duration
	client  mqtt.Client
}

// NewMQTTSubscriber constructs a subscriber. Call Start to connect.
func NewMQTTSubscriber(cfg MQTTConfig, intake Acceptor, logger *log.Logger) (*MQTTSubscriber, error) {
	if intake == nil {
		return nil, errors.New("mqtt intake: nil intake")
	}
	if cfg.Broker == "" || cfg.Topic == "" {
		return nil, errors.New("mqtt intake: broker and topic required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "wellhead-monitor"
	}
	if logger == nil {
		logger = log.Default()
	}
	return &MQTTSubscriber{cfg: cfg, intake: intake, logger: logger, timeout: 10 * time.Second}, nil
}

// Start connects and subscribes; the subscription is restored on reconnect.
// The client disconnects when ctx is done.
func (s *MQTTSubscriber) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetAutoReconnect(true).
		SetCleanSession(false).
		SetOrderMatters(true)
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		if token := client.Subscribe(s.cfg.Topic, s.cfg.QoS, s.handle); token.Wait() && token.Error() != nil {
			s.logger.Printf("mqtt intake: subscribe error: topic=%s err=%v", s.cfg.Topic, token.Error())
			return
		}
		s.logger.Printf("mqtt intake: subscribed topic=%s", s.cfg.Topic)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Printf("mqtt intake: connection lost: err=%v", err)
	})

	s.client = mqtt.NewClient(opts)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	go func() {
		<-ctx.Done()
		s.client.Disconnect(250)
	}()
	return nil
}

func (s *MQTTSubscriber) handle(_ mqtt.Client, msg mqtt.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := process(ctx, s.intake, transportMQTT, msg.Payload(), s.logger); err != nil {
		s.logger.Printf("mqtt intake: store error: topic=%s err=%v", msg.Topic(), err)
	}
}
