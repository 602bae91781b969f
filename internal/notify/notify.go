// Package notify delivers recorded idea events to configured webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"ideaforge/internal/config"
	"ideaforge/internal/domain"
)

const (
	DefaultInterval = 2 * time.Second
	DefaultTimeout  = 5 * time.Second
	batchSize       = 100
)

// EventSource is the slice of the event log the dispatcher reads.
// repo.Repo satisfies it.
type EventSource interface {
	EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error)
	LatestEventID(ctx context.Context) (int64, error)
}

type Dispatcher struct {
	source   EventSource
	hooks    []config.WebhookConfig
	client   *http.Client
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	cursors map[int]int64
}

type Options struct {
	Interval time.Duration
	Client   *http.Client
	Logger   *zap.Logger
}

// New returns nil when no webhook is active.
func New(source EventSource, hooks []config.WebhookConfig, opts Options) *Dispatcher {
	var active []config.WebhookConfig
	for _, h := range hooks {
		if h.Active() {
			active = append(active, h)
		}
	}
	if len(active) == 0 {
		return nil
	}
	d := &Dispatcher{
		source:   source,
		hooks:    active,
		client:   opts.Client,
		interval: opts.Interval,
		logger:   opts.Logger,
		cursors:  map[int]int64{},
	}
	if d.client == nil {
		d.client = &http.Client{}
	}
	if d.interval <= 0 {
		d.interval = DefaultInterval
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	return d
}

// Run delivers events until ctx is done. Events recorded before the first
// pass are not replayed.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchOnce makes one delivery pass over every hook. A hook that fails
// keeps its cursor on the failed event and retries it next pass.
func (d *Dispatcher) DispatchOnce(ctx context.Context) {
	for i, hook := range d.hooks {
		if ctx.Err() != nil {
			return
		}
		d.dispatch(ctx, i, hook)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, idx int, hook config.WebhookConfig) {
	cursor, ok := d.cursorFor(ctx, idx)
	if !ok {
		return
	}
	events, err := d.source.EventsAfter(ctx, batchSize, cursor)
	if err != nil {
		d.logger.Warn("webhook: fetch events failed", zap.Error(err))
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range events {
		if filter.match(evt.Type) {
			if err := d.post(ctx, hook, evt); err != nil {
				d.logger.Warn("webhook: delivery failed",
					zap.String("url", hook.URL),
					zap.Int64("event_id", evt.ID),
					zap.String("event", evt.Type),
					zap.Error(err))
				return
			}
			d.logger.Debug("webhook: delivered", zap.String("url", hook.URL), zap.Int64("event_id", evt.ID))
		}
		d.setCursor(idx, evt.ID)
	}
}

func (d *Dispatcher) cursorFor(ctx context.Context, idx int) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur, true
	}
	cur, err := d.source.LatestEventID(ctx)
	if err != nil {
		d.logger.Warn("webhook: init cursor failed", zap.Error(err))
		return 0, false
	}
	d.cursors[idx] = cur
	return cur, true
}

func (d *Dispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

// Delivery is the JSON body posted for each event.
type Delivery struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	ProjectID  string          `json:"project_id"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

func (d *Dispatcher) post(ctx context.Context, hook config.WebhookConfig, evt domain.Event) error {
	body := Delivery{
		ID:         evt.ID,
		Type:       evt.Type,
		ProjectID:  evt.ProjectID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    json.RawMessage("{}"),
	}
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			body.Payload = json.RawMessage(evt.Payload)
		} else {
			body.PayloadRaw = evt.Payload
		}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	timeout := hook.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Ideaforge-Event", evt.Type)
	req.Header.Set("X-Ideaforge-Delivery", strconv.FormatInt(evt.ID, 10))
	if evt.ProjectID != "" {
		req.Header.Set("X-Ideaforge-Project", evt.ProjectID)
	}
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Ideaforge-Secret", hook.Secret)
	}
	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

type eventFilter map[string]bool

// newEventFilter returns nil, matching everything, for an empty list.
func newEventFilter(events []string) eventFilter {
	var f eventFilter
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			if f == nil {
				f = eventFilter{}
			}
			f[key] = true
		}
	}
	return f
}

func (f eventFilter) match(evt string) bool {
	return f == nil || f[evt]
}
