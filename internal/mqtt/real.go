package mqtt

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	bufferCapacity = 100
	publishTimeout = 5 * time.Second
)

// ErrNotConnected is returned for messages that are not worth buffering
// (levels, speech) while the broker is unreachable.
var ErrNotConnected = errors.New("mqtt: not connected")

// Options configures a RealClient.
type Options struct {
	Broker   string
	ClientID string
	Prefix   string

	// OnGoal receives every well-formed goal command. It is called from
	// paho's callback goroutine and must not block.
	OnGoal func(goal float64)

	Logger *slog.Logger
}

// RealClient talks to an actual MQTT broker. It connects in the background
// and keeps retrying; transitions and lifecycle events published while
// disconnected are buffered and replayed on reconnect.
type RealClient struct {
	client paho.Client
	topics Topics
	logger *slog.Logger

	mu     sync.Mutex
	buf    *ringBuffer
	levels levelFilter
}

// NewRealClient creates a client and starts connecting to the broker.
func NewRealClient(opts Options) *RealClient {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &RealClient{
		topics: NewTopics(opts.Prefix),
		logger: logger,
		buf:    newRingBuffer(bufferCapacity),
	}

	will, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE", Reason: "LWT"})
	onGoal := goalHandler(opts.OnGoal, logger)

	po := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(c.topics.System, string(will), 1, true).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("mqtt: connection lost", "err", err)
		}).
		SetOnConnectHandler(func(client paho.Client) {
			logger.Info("mqtt: connected", "broker", opts.Broker)
			token := client.Subscribe(c.topics.GoalSet, 1, func(_ paho.Client, msg paho.Message) {
				onGoal(msg.Topic(), msg.Payload())
			})
			go func() {
				if token.WaitTimeout(publishTimeout) && token.Error() != nil {
					logger.Error("mqtt: subscribe failed", "topic", c.topics.GoalSet, "err", token.Error())
				}
			}()
			go c.replay()
		})

	c.client = paho.NewClient(po)
	c.client.Connect()
	return c
}

// Topics returns the topic names in use.
func (c *RealClient) Topics() Topics {
	return c.topics
}

// IsConnected reports whether the broker connection is up.
func (c *RealClient) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// PublishTransition sends a status transition (QoS 1, buffered while offline).
func (c *RealClient) PublishTransition(t Transition) error {
	payload, err := FormatTransitionPayload(t)
	if err != nil {
		return fmt.Errorf("format transition payload: %w", err)
	}
	return c.publishOrBuffer(c.topics.Status, 1, false, payload)
}

// PublishSystem sends a system lifecycle event (QoS 1, buffered while offline).
func (c *RealClient) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return c.publishOrBuffer(c.topics.System, 1, event.Retained, payload)
}

// SetLevel publishes the level for remote displays, rounded to one decimal.
// Values that round the same as the last published one are skipped, and
// nothing is buffered: a stale level is worthless.
func (c *RealClient) SetLevel(level float64) error {
	c.mu.Lock()
	rounded, changed := c.levels.next(level)
	c.mu.Unlock()
	if !changed {
		return nil
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	payload, err := FormatLevelPayload(rounded)
	if err != nil {
		return fmt.Errorf("format level payload: %w", err)
	}
	// QoS 0, fire and forget
	c.client.Publish(c.topics.Level, 0, true, payload)

	c.mu.Lock()
	c.levels.commit(rounded)
	c.mu.Unlock()
	return nil
}

// Speak publishes an utterance for a remote speech backend.
func (c *RealClient) Speak(text string, interrupt bool) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	payload, err := FormatSpeechPayload(text, interrupt)
	if err != nil {
		return fmt.Errorf("format speech payload: %w", err)
	}
	return c.publish(c.topics.Speech, 1, false, payload)
}

// Close disconnects from the broker.
func (c *RealClient) Close() error {
	c.client.Disconnect(1000) // 1 second quiesce
	return nil
}

func (c *RealClient) publishOrBuffer(topic string, qos byte, retained bool, payload []byte) error {
	if !c.IsConnected() {
		c.mu.Lock()
		c.buf.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		c.mu.Unlock()
		return nil
	}
	return c.publish(topic, qos, retained, payload)
}

func (c *RealClient) publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// replay publishes everything buffered while offline, oldest first.
func (c *RealClient) replay() {
	c.mu.Lock()
	msgs := c.buf.drainAll()
	c.mu.Unlock()

	for _, m := range msgs {
		if err := c.publish(m.topic, m.qos, m.retained, m.payload); err != nil {
			c.logger.Warn("mqtt: replay failed", "topic", m.topic, "err", err)
		}
	}
	if len(msgs) > 0 {
		c.logger.Info("mqtt: replayed buffered messages", "count", len(msgs))
	}
}
