package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/sentialytic/reapears/pkg/hub"
	"github.com/sentialytic/reapears/pkg/metrics"
	"github.com/sentialytic/reapears/pkg/model"
	"github.com/sentialytic/reapears/pkg/protocol"
	"github.com/sentialytic/reapears/pkg/snowflake"
)

// --- helpers ----------------------------------------------------------------

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

// fakeReader hands out the messages sent on its channel.
type fakeReader struct {
	ch     chan kafka.Message
	failed chan error
}

func newFakeReader() *fakeReader {
	return &fakeReader{ch: make(chan kafka.Message, 16), failed: make(chan error, 1)}
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.ch:
		return m, nil
	case err := <-r.failed:
		return kafka.Message{}, err
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) Close() error { return nil }

type harness struct {
	hub     *hub.Hub
	w       *fakeWriter
	r       *fakeReader
	metrics Metrics
	done    chan error
	cancel  context.CancelFunc
}

func startRelay(t *testing.T, node int64) *harness {
	t.Helper()
	n, err := snowflake.NewNode(node)
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{
		hub:     hub.New(hub.WithNode(n)),
		w:       &fakeWriter{},
		r:       newFakeReader(),
		metrics: NewMetrics(metrics.NewRegistry()),
		done:    make(chan error, 1),
	}
	rl := newRelay(h.hub, h.w, h.r, h.metrics)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- rl.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		h.hub.Close()
	})

	waitFor(t, "relay subscribed", func() bool { return h.hub.Count() == 1 })
	return h
}

// remote returns an envelope as another node would have produced it.
func remote(t *testing.T, node int64, env hub.Envelope) kafka.Message {
	t.Helper()
	n, _ := snowflake.NewNode(node)
	env.ID = n.Generate()
	msg, err := encodeMessage(env)
	if err != nil {
		t.Fatalf("encodeMessage: %v", err)
	}
	return msg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func next(t *testing.T, l *hub.Listener) hub.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	env, err := l.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	return env
}

// --- tests ------------------------------------------------------------------

func TestRelay_ForwardsLocalEnvelopes(t *testing.T) {
	h := startRelay(t, 1)
	user := uuid.New()

	sent := h.hub.Publish(hub.UserConnected(user))

	waitFor(t, "kafka write", func() bool { return len(h.w.written()) == 1 })
	msg := h.w.written()[0]
	if string(msg.Key) != "all" {
		t.Errorf("key: got %q, want all", msg.Key)
	}

	var w wireEnvelope
	if err := json.Unmarshal(msg.Value, &w); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if w.ID != sent.ID || !w.All {
		t.Errorf("wire envelope: got %+v", w)
	}
	if want := `{"type":"UserConnected","body":"` + user.String() + `"}`; string(w.Message) != want {
		t.Errorf("frame: got %s, want %s", w.Message, want)
	}
	if h.metrics.Sent.Value() != 1 {
		t.Errorf("sent metric: got %d", h.metrics.Sent.Value())
	}
}

func TestRelay_RepublishesRemoteEnvelopes(t *testing.T) {
	h := startRelay(t, 1)
	l := h.hub.Subscribe()
	defer l.Close()

	receiver := uuid.New()
	view := model.MessageView{DirectMessage: model.DirectMessage{
		ID:         uuid.New(),
		SenderID:   uuid.New(),
		ReceiverID: receiver,
		Content:    "from another gateway",
		SentAt:     time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}}
	msg := remote(t, 2, hub.DirectMessage(view))
	h.r.ch <- msg

	env := next(t, l)
	if snowflake.NodeOf(env.ID) != 2 {
		t.Errorf("republished id lost its node: %d", snowflake.NodeOf(env.ID))
	}
	got, ok := env.For(receiver)
	if !ok {
		t.Fatalf("envelope not addressed to receiver: %v", env.To)
	}
	dm, ok := got.(protocol.DirectMessage)
	if !ok || dm.Content != "from another gateway" || !dm.SentAt.Equal(view.SentAt) {
		t.Errorf("message: got %#v", got)
	}

	// A local publish afterwards must be the only thing written back.
	h.hub.Publish(hub.UserConnected(uuid.New()))
	waitFor(t, "local write", func() bool { return len(h.w.written()) == 1 })
	time.Sleep(20 * time.Millisecond)
	if n := len(h.w.written()); n != 1 {
		t.Errorf("writes: got %d, want only the local envelope", n)
	}
	if h.metrics.Received.Value() != 1 {
		t.Errorf("received metric: got %d", h.metrics.Received.Value())
	}
}

func TestRelay_IgnoresOwnEcho(t *testing.T) {
	h := startRelay(t, 1)
	l := h.hub.Subscribe()
	defer l.Close()

	echo := remote(t, 1, hub.UserConnected(uuid.New()))
	other := uuid.New()
	h.r.ch <- echo
	h.r.ch <- remote(t, 3, hub.UserConnected(other))

	env := next(t, l)
	c, ok := env.Message.(protocol.UserConnected)
	if !ok || c.UserID != other {
		t.Errorf("first republished envelope: got %#v, want the remote one", env.Message)
	}
}

func TestRelay_SkipsUndecodableMessages(t *testing.T) {
	h := startRelay(t, 1)
	l := h.hub.Subscribe()
	defer l.Close()

	h.r.ch <- kafka.Message{Value: []byte(`{"id":0}`)}
	h.r.ch <- kafka.Message{Value: []byte(`not json`)}
	user := uuid.New()
	h.r.ch <- remote(t, 2, hub.UserDisconnected(user))

	env := next(t, l)
	if d, ok := env.Message.(protocol.UserDisconnected); !ok || d.UserID != user {
		t.Errorf("got %#v", env.Message)
	}
	if h.metrics.Failed.Value() != 2 {
		t.Errorf("failed metric: got %d, want 2", h.metrics.Failed.Value())
	}
}

func TestRelay_StopsWhenHubCloses(t *testing.T) {
	h := startRelay(t, 1)
	h.hub.Close()

	select {
	case err := <-h.done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("relay kept running after the hub closed")
	}
	h.w.mu.Lock()
	defer h.w.mu.Unlock()
	if !h.w.closed {
		t.Error("writer not closed")
	}
}

func TestRelay_ReaderFailureStopsRun(t *testing.T) {
	h := startRelay(t, 1)
	boom := errors.New("broker gone")
	h.r.failed <- boom

	select {
	case err := <-h.done:
		if !errors.Is(err, boom) {
			t.Errorf("Run: got %v, want %v", err, boom)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("relay kept running after the reader failed")
	}
	waitFor(t, "listener released", func() bool { return h.hub.Count() == 0 })
}

func TestEncodeMessage_UserKey(t *testing.T) {
	user := uuid.New()
	n, _ := snowflake.NewNode(5)
	env := hub.MessageError(user, protocol.CodeInternalServerError)
	env.ID = n.Generate()

	msg, err := encodeMessage(env)
	if err != nil {
		t.Fatal(err)
	}
	if string(msg.Key) != "user:"+user.String() {
		t.Errorf("key: got %q", msg.Key)
	}
	back, err := decodeMessage(msg)
	if err != nil {
		t.Fatal(err)
	}
	if back.ID != env.ID || back.To != env.To || back.Message != env.Message {
		t.Errorf("decoded: got %+v, want %+v", back, env)
	}
}
