package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"ideaforge/internal/config"
	"ideaforge/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memLog struct {
	mu     sync.Mutex
	events []domain.Event
}

func (l *memLog) add(typ, payload string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, domain.Event{
		ID: int64(len(l.events) + 1), Type: typ, ProjectID: "p1", EntityKind: "idea", EntityID: "i1", ActorID: "engine", Payload: payload,
	})
}

func (l *memLog) EventsAfter(_ context.Context, limit int, cursor int64) ([]domain.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Event
	for _, e := range l.events {
		if e.ID > cursor && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *memLog) LatestEventID(context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.events)), nil
}

type receiver struct {
	mu       sync.Mutex
	got      []Delivery
	headers  []http.Header
	failNext bool
}

func (r *receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext {
		r.failNext = false
		http.Error(w, "try later", http.StatusServiceUnavailable)
		return
	}
	var d Delivery
	if err := json.NewDecoder(req.Body).Decode(&d); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	r.got = append(r.got, d)
	r.headers = append(r.headers, req.Header.Clone())
}

func (r *receiver) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, d := range r.got {
		out = append(out, d.Type)
	}
	return out
}

func TestNewSkipsInactiveHooks(t *testing.T) {
	off := false
	d := New(&memLog{}, []config.WebhookConfig{{URL: "http://x", Enabled: &off}, {URL: " "}}, Options{})
	assert.Nil(t, d)
}

func TestDeliversOnlyNewMatchingEvents(t *testing.T) {
	log := &memLog{}
	log.add("idea.submitted", `{"source":"api"}`)
	rcv := &receiver{}
	srv := httptest.NewServer(rcv)
	defer srv.Close()

	d := New(log, []config.WebhookConfig{{URL: srv.URL, Secret: "s3", Events: []string{"idea.transition"}}}, Options{})
	require.NotNil(t, d)
	ctx := context.Background()

	d.DispatchOnce(ctx)
	assert.Empty(t, rcv.types(), "events before the first pass are not replayed")

	log.add("idea.input", `{}`)
	log.add("idea.transition", `{"from":"queued","to":"analyzing"}`)
	d.DispatchOnce(ctx)
	require.Equal(t, []string{"idea.transition"}, rcv.types())
	assert.Equal(t, "s3", rcv.headers[0].Get("X-Ideaforge-Secret"))
	assert.Equal(t, "3", rcv.headers[0].Get("X-Ideaforge-Delivery"))
	assert.Equal(t, "p1", rcv.headers[0].Get("X-Ideaforge-Project"))
	assert.JSONEq(t, `{"from":"queued","to":"analyzing"}`, string(rcv.got[0].Payload))

	d.DispatchOnce(ctx)
	assert.Len(t, rcv.types(), 1)
}

func TestFailedDeliveryIsRetried(t *testing.T) {
	log := &memLog{}
	rcv := &receiver{}
	srv := httptest.NewServer(rcv)
	defer srv.Close()

	d := New(log, []config.WebhookConfig{{URL: srv.URL}}, Options{})
	ctx := context.Background()
	d.DispatchOnce(ctx)

	log.add("idea.submitted", "not json")
	log.add("idea.transition", `{}`)
	rcv.mu.Lock()
	rcv.failNext = true
	rcv.mu.Unlock()
	d.DispatchOnce(ctx)
	assert.Empty(t, rcv.types())

	d.DispatchOnce(ctx)
	assert.Equal(t, []string{"idea.submitted", "idea.transition"}, rcv.types())
	assert.Equal(t, "not json", rcv.got[0].PayloadRaw)
	assert.JSONEq(t, `{}`, string(rcv.got[0].Payload))
}

func TestRunStopsWithContext(t *testing.T) {
	d := New(&memLog{}, []config.WebhookConfig{{URL: "http://127.0.0.1:1"}}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	cancel()
	require.NoError(t, <-done)
}
