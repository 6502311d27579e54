package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Target is a peer service endpoint that receives relayed envelopes.
type Target struct {
	Name        string      `json:"name"`
	URL         string      `json:"url"`
	Secret      string      `json:"-"` // HMAC signing key
	Topics      []string    `json:"topics"`
	LastSuccess *time.Time  `json:"lastSuccess,omitempty"`
	LastError   string      `json:"lastError,omitempty"`
	mu          sync.Mutex
}

func (t *Target) wants(topic string) bool {
	for _, tp := range t.Topics {
		if tp == topic {
			return true
		}
	}
	return false
}

// Relay forwards bus envelopes to peer services over HTTP. Payloads are
// HMAC-SHA256 signed so receivers can authenticate the sender. Delivery is
// best-effort and asynchronous; the bus never blocks on a slow peer.
type Relay struct {
	targets []*Target
	client  *http.Client
	logger  *slog.Logger
}

// NewRelay creates a relay for the given targets.
func NewRelay(targets []*Target, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		targets: targets,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

// Attach subscribes the relay to the given topics on a consumer.
func (r *Relay) Attach(c Consumer, topics ...string) {
	for _, topic := range topics {
		c.Subscribe(topic, r.Handle)
	}
}

// Handle is the bus handler: it fans the envelope out to every target
// subscribed to its topic.
func (r *Relay) Handle(ctx context.Context, env *Envelope) error {
	for _, target := range r.targets {
		if !target.wants(env.Topic) {
			continue
		}
		go r.send(target, env)
	}
	return nil
}

func (r *Relay) send(target *Target, env *Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		r.recordError(target, "marshal envelope failed")
		return
	}

	req, err := http.NewRequest(http.MethodPost, target.URL, bytes.NewReader(payload))
	if err != nil {
		r.recordError(target, "build request failed")
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Bizsync-Topic", env.Topic)
	req.Header.Set("X-Bizsync-Timestamp", fmt.Sprintf("%d", env.Timestamp.Unix()))
	if target.Secret != "" {
		req.Header.Set("X-Bizsync-Signature", sign(payload, target.Secret))
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.recordError(target, fmt.Sprintf("request failed: %v", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		r.recordSuccess(target)
	} else {
		r.recordError(target, fmt.Sprintf("status %d", resp.StatusCode))
	}
}

func sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks an inbound relay signature. Receivers call this
// before accepting a forwarded envelope.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (r *Relay) recordSuccess(target *Target) {
	RelayDeliveriesTotal.WithLabelValues("success").Inc()
	now := time.Now()
	target.mu.Lock()
	target.LastSuccess = &now
	target.LastError = ""
	target.mu.Unlock()
}

func (r *Relay) recordError(target *Target, msg string) {
	RelayDeliveriesTotal.WithLabelValues("error").Inc()
	target.mu.Lock()
	target.LastError = msg
	target.mu.Unlock()
	r.logger.Warn("relay delivery failed", "target", target.Name, "error", msg)
}
