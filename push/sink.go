// Package push delivers drained inventory deltas to downstream consumers.
// Transport, retries and acknowledgement live here; the batcher itself never
// blocks on the network.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/shelfsight/edge-vision/inventory"
)

// Sink delivers one delta to a downstream consumer.
type Sink interface {
	Push(ctx context.Context, delta inventory.Delta) error
}

// HTTPSink posts deltas as JSON to the cloud backend with bearer
// authentication. One Push makes up to MaxRetries attempts with exponential
// backoff before giving up.
type HTTPSink struct {
	baseURL    string
	apiKey     string
	maxRetries int
	client     *http.Client
	log        zerolog.Logger
}

// NewHTTPSink creates an HTTP delta sink.
func NewHTTPSink(baseURL, apiKey string, timeout time.Duration, maxRetries int, logger zerolog.Logger) *HTTPSink {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSink{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		maxRetries: maxRetries,
		client:     &http.Client{Timeout: timeout},
		log:        logger.With().Str("component", "http-sink").Logger(),
	}
}

// Push delivers the delta to POST <base>/inventory/update.
func (s *HTTPSink) Push(ctx context.Context, delta inventory.Delta) error {
	if s.apiKey == "" {
		return errors.New("no API key configured")
	}

	payload, err := json.Marshal(delta)
	if err != nil {
		return errors.Wrap(err, "failed to marshal delta")
	}

	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = s.post(ctx, payload)
		if lastErr == nil {
			s.log.Info().
				Str("delta_id", delta.ID.String()).
				Int("events", len(delta.Events)).
				Int("items", len(delta.Counts)).
				Msg("delta pushed")
			return nil
		}
		s.log.Warn().Err(lastErr).Int("attempt", attempt+1).Msg("delta push failed")
	}
	return errors.Wrapf(lastErr, "failed to push delta after %d attempts", s.maxRetries)
}

func (s *HTTPSink) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/inventory/update", bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		return errors.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// MQTTSink publishes deltas to an MQTT topic at QoS 1 for local or broker
// based consumers.
type MQTTSink struct {
	client mqtt.Client
	topic  string
	log    zerolog.Logger
}

// MQTTConfig holds broker settings for the MQTT sink.
type MQTTConfig struct {
	Broker   string `json:"broker"`
	ClientID string `json:"client_id"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Topic    string `json:"topic"`
}

// NewMQTTSink connects to the broker and returns a sink publishing to the
// configured topic.
func NewMQTTSink(config MQTTConfig, logger zerolog.Logger) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(config.Broker).
		SetClientID(config.ClientID).
		SetConnectTimeout(10 * time.Second).
		SetAutoReconnect(true)
	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, errors.New("timed out connecting to MQTT broker")
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to MQTT broker")
	}
	return &MQTTSink{
		client: client,
		topic:  config.Topic,
		log:    logger.With().Str("component", "mqtt-sink").Logger(),
	}, nil
}

// Push publishes the delta JSON to the topic.
func (s *MQTTSink) Push(ctx context.Context, delta inventory.Delta) error {
	payload, err := json.Marshal(delta)
	if err != nil {
		return errors.Wrap(err, "failed to marshal delta")
	}
	token := s.client.Publish(s.topic, 1, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return errors.Wrap(err, "failed to publish delta")
	}
	s.log.Debug().Str("delta_id", delta.ID.String()).Msg("delta published")
	return nil
}

// Close disconnects from the broker.
func (s *MQTTSink) Close() {
	s.client.Disconnect(250)
}

// MultiSink fans one delta out to several sinks. Push fails if any sink
// fails, so the pusher's carryover keeps the events for the next cycle;
// sinks that already accepted the delta may see it again and must treat
// the delta ID as idempotency key.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks into one.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Push delivers the delta to every sink, returning the first error.
func (s *MultiSink) Push(ctx context.Context, delta inventory.Delta) error {
	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.Push(ctx, delta); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
