package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/berfenger/dtsu666emu/internal/core/domain"
	"github.com/berfenger/dtsu666emu/internal/core/port"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Subscriber is the part of the MQTT client the state cache needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler pahomqtt.MessageHandler, continuation func(error), timeout time.Duration)
}

// MQTTStates caches the last payload seen on every referenced topic.
// Topics are subscribed the first time they are referenced and again on every reconnect.
type MQTTStates struct {
	mu         sync.Mutex
	subscriber Subscriber
	payloads   map[string]domain.RawState
	subscribed map[string]bool
	logger     *zap.Logger
}

func NewMQTTStates(logger *zap.Logger) *MQTTStates {
	return &MQTTStates{
		payloads:   map[string]domain.RawState{},
		subscribed: map[string]bool{},
		logger:     logger.With(zap.String("component", "mqtt_states")),
	}
}

// Attach installs a connected client and subscribes every known topic through it.
func (m *MQTTStates) Attach(subscriber Subscriber) {
	m.mu.Lock()
	m.subscriber = subscriber
	topics := make([]string, 0, len(m.subscribed))
	for topic := range m.subscribed {
		topics = append(topics, topic)
	}
	m.mu.Unlock()

	for _, topic := range topics {
		m.subscribe(subscriber, topic)
	}
}

func (m *MQTTStates) GetState(_ context.Context, topic string) (domain.RawState, error) {
	m.mu.Lock()
	raw, ok := m.payloads[topic]
	sub := m.subscriber
	first := !m.subscribed[topic]
	m.subscribed[topic] = true
	m.mu.Unlock()

	if first && sub != nil {
		m.subscribe(sub, topic)
	}
	if !ok {
		return nil, nil
	}
	return raw, nil
}

func (m *MQTTStates) subscribe(sub Subscriber, topic string) {
	sub.Subscribe(topic, 0, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		m.Update(msg.Topic(), msg.Payload())
	}, func(err error) {
		if err != nil {
			m.logger.Warn("subscribe failed", zap.String("topic", topic), zap.Error(err))
		}
	}, 2*time.Second)
}

// Update stores a payload as the current state of topic.
func (m *MQTTStates) Update(topic string, payload []byte) {
	raw := unwrapPayload(payload)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads[topic] = raw
}

// unwrapPayload returns the "state" or "value" member of a JSON object payload, or the payload text.
func unwrapPayload(payload []byte) domain.RawState {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		var doc map[string]any
		if err := dec.Decode(&doc); err == nil {
			for _, key := range []string{"state", "value"} {
				if v, ok := doc[key]; ok {
					return v
				}
			}
			return nil
		}
	}
	return string(trimmed)
}

var _ port.ValueProvider = (*MQTTStates)(nil)
