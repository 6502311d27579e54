package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_TypedPayloads(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)

	tests := []struct {
		topic   string
		payload any
		check   func(t *testing.T, got any)
	}{
		{
			topic: TopicEntityUpdated,
			payload: &EntityEvent{
				ID: "inst_1", Domain: "institution", SourceVersion: now, Timestamp: now,
			},
			check: func(t *testing.T, got any) {
				e, ok := got.(*EntityEvent)
				require.True(t, ok)
				assert.Equal(t, "inst_1", e.ID)
				assert.Equal(t, "institution", e.Domain)
			},
		},
		{
			topic:   TopicEntitySyncRequest,
			payload: &SyncRequest{RequestID: "req_1", TargetID: "inst_1", RequestedBy: "sales", Timestamp: now},
			check: func(t *testing.T, got any) {
				e, ok := got.(*SyncRequest)
				require.True(t, ok)
				assert.Equal(t, "req_1", e.RequestID)
			},
		},
		{
			topic:   TopicEntitySyncResponse,
			payload: &SyncResponse{RequestID: "req_1", TargetID: "inst_1", Found: false, Timestamp: now},
			check: func(t *testing.T, got any) {
				e, ok := got.(*SyncResponse)
				require.True(t, ok)
				assert.False(t, e.Found)
			},
		},
		{
			topic: TopicSubscriptionExpired,
			payload: &SubscriptionEvent{
				OwnerID: "biz_1", PreviousState: "ACTIVE", NewState: "EXPIRED", ChangedBy: "system", Timestamp: now,
			},
			check: func(t *testing.T, got any) {
				e, ok := got.(*SubscriptionEvent)
				require.True(t, ok)
				assert.Equal(t, "system", e.ChangedBy)
			},
		},
		{
			topic:   TopicTokenUsage,
			payload: &TokenEvent{OwnerID: "u_1", Amount: "30.00", ResultingBalance: "70.00", Operation: "use", Timestamp: now},
			check: func(t *testing.T, got any) {
				e, ok := got.(*TokenEvent)
				require.True(t, ok)
				assert.Equal(t, "70.00", e.ResultingBalance)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			raw, err := json.Marshal(tt.payload)
			require.NoError(t, err)

			got, err := Decode(&Envelope{Topic: tt.topic, Payload: raw})
			require.NoError(t, err)
			tt.check(t, got)
		})
	}
}

func TestDecode_UnknownTopic(t *testing.T) {
	_, err := Decode(&Envelope{Topic: "mystery.topic", Payload: []byte(`{}`)})
	assert.ErrorIs(t, err, ErrUnknownTopic)
}

func TestDecode_MalformedPayload(t *testing.T) {
	_, err := Decode(&Envelope{Topic: TopicTokenUsage, Payload: []byte(`{not json`)})
	require.Error(t, err)
}

func TestBus_DeliversInOrder(t *testing.T) {
	bus := NewBus(nil)
	ctx := context.Background()

	var got []string
	bus.Subscribe(TopicTokenUsage, func(ctx context.Context, env *Envelope) error {
		var e TokenEvent
		require.NoError(t, json.Unmarshal(env.Payload, &e))
		got = append(got, e.Amount)
		return nil
	})

	for _, amt := range []string{"1.00", "2.00", "3.00"} {
		err := bus.Publish(ctx, TopicTokenUsage, &TokenEvent{OwnerID: "u_1", Amount: amt})
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"1.00", "2.00", "3.00"}, got)
}

func TestBus_HandlerErrorDoesNotStopDispatch(t *testing.T) {
	bus := NewBus(nil)
	ctx := context.Background()

	var secondCalled bool
	bus.Subscribe(TopicTokenAlert, func(ctx context.Context, env *Envelope) error {
		return errors.New("boom")
	})
	bus.Subscribe(TopicTokenAlert, func(ctx context.Context, env *Envelope) error {
		secondCalled = true
		return nil
	})

	err := bus.Publish(ctx, TopicTokenAlert, &TokenEvent{OwnerID: "u_1", Operation: "alert"})
	require.NoError(t, err)
	assert.True(t, secondCalled, "handler after failing handler should still run")
}

func TestBus_EnvelopeMetadata(t *testing.T) {
	bus := NewBus(nil)

	var env *Envelope
	bus.Subscribe(TopicEntityCreated, func(ctx context.Context, e *Envelope) error {
		env = e
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), TopicEntityCreated, &EntityEvent{ID: "e1"}))
	require.NotNil(t, env)
	assert.Equal(t, TopicEntityCreated, env.Topic)
	assert.NotEmpty(t, env.ID)
	assert.False(t, env.Timestamp.IsZero())
}

func TestRelay_SignsAndDelivers(t *testing.T) {
	var mu sync.Mutex
	var gotBody []byte
	var gotSig, gotTopic string
	done := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotSig = r.Header.Get("X-Bizsync-Signature")
		gotTopic = r.Header.Get("X-Bizsync-Topic")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		close(done)
	}))
	defer srv.Close()

	target := &Target{
		Name:   "sales-service",
		URL:    srv.URL,
		Secret: "relay-secret",
		Topics: []string{TopicSubscriptionExpired},
	}

	bus := NewBus(nil)
	relay := NewRelay([]*Target{target}, nil)
	relay.Attach(bus, TopicSubscriptionExpired)

	err := bus.Publish(context.Background(), TopicSubscriptionExpired, &SubscriptionEvent{
		OwnerID: "biz_1", PreviousState: "ACTIVE", NewState: "EXPIRED", ChangedBy: "system",
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay delivery did not arrive")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, TopicSubscriptionExpired, gotTopic)
	assert.True(t, VerifySignature(gotBody, "relay-secret", gotSig), "signature must verify")
}

func TestRelay_IgnoresForeignTopics(t *testing.T) {
	hit := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit <- struct{}{}
	}))
	defer srv.Close()

	target := &Target{Name: "peer", URL: srv.URL, Topics: []string{TopicTokenAlert}}
	bus := NewBus(nil)
	relay := NewRelay([]*Target{target}, nil)
	relay.Attach(bus, TopicTokenAlert, TopicTokenUsage)

	require.NoError(t, bus.Publish(context.Background(), TopicTokenUsage, &TokenEvent{OwnerID: "u_1"}))

	select {
	case <-hit:
		t.Fatal("target should not receive a topic it is not subscribed to")
	case <-time.After(200 * time.Millisecond):
	}
}
