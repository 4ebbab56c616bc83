package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingSink) Deliver(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type fakePublisher struct {
	subject string
	data    []byte
}

func (p *fakePublisher) PublishAbuseEvent(kind string, data []byte) error {
	p.subject = kind
	p.data = data
	return nil
}

var at = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func TestDispatcher_EmitNeverBlocks(t *testing.T) {
	d := NewDispatcher(2, "test")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Emit(NewEvent(KindRateLimited, "10.0.0.1", at))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full queue")
	}
	assert.Equal(t, 8, d.Dropped())
}

func TestDispatcher_RunDeliversToEverySink(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{err: errors.New("sink down")}
	d := NewDispatcher(16, "api-1", a, b)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(stopped)
	}()

	d.Emit(NewEvent(KindAttackDetected, "10.0.0.2", at))
	d.Emit(NewEvent(KindCooldown, "10.0.0.2", at))

	require.Eventually(t, func() bool { return a.len() == 2 && b.len() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-stopped

	assert.Equal(t, "api-1", a.events[0].Source)
	assert.Equal(t, KindAttackDetected, a.events[0].Kind)
	assert.Equal(t, KindCooldown, a.events[1].Kind)
}

func TestDispatcher_FlushOnStop(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(8, "", sink)
	for i := 0; i < 5; i++ {
		d.Emit(NewEvent(KindBlockedRequest, "10.0.0.3", at))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)

	assert.Equal(t, 5, sink.len())
}

func TestNATSSink_RoundTrip(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewNATSSink(pub)

	ev := NewEvent(KindReported, "198.51.100.4", at).WithBlock("XSS", at.Add(5*time.Minute))
	require.NoError(t, sink.Deliver(context.Background(), ev))
	assert.Equal(t, "reported", pub.subject)

	got, err := Decode(pub.data)
	require.NoError(t, err)
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, "XSS", got.Reason)
	require.NotNil(t, got.BlockedUntil)
	assert.True(t, got.BlockedUntil.Equal(at.Add(5*time.Minute)))
}

func TestDecode_RejectsUnknownKind(t *testing.T) {
	data, _ := json.Marshal(map[string]string{"id": "x", "kind": "nope", "clientId": "a"})
	_, err := Decode(data)
	assert.Error(t, err)

	_, err = Decode([]byte("{"))
	assert.Error(t, err)
}

func TestNewEvent(t *testing.T) {
	a := NewEvent(KindRateLimited, "c", at)
	b := NewEvent(KindRateLimited, "c", at)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Nil(t, a.BlockedUntil)
	assert.True(t, a.Kind.Valid())
	assert.False(t, Kind("other").Valid())
}
