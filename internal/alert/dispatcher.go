package alert

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/tradeguard/internal/gate"
	"github.com/ppiankov/tradeguard/internal/model"
)

// Dispatcher fans out alert events to matching webhook configurations.
type Dispatcher struct {
	configs []AlertConfig
	log     *zap.Logger
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher from webhook configurations.
// Returns nil if configs is empty. A nil Dispatcher drops every event.
func NewDispatcher(configs []AlertConfig, log *zap.Logger) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{configs: configs, log: log}
}

// Dispatch sends the event to all webhooks whose Events list has its type.
// Fires goroutines and does not block the caller.
func (d *Dispatcher) Dispatch(event AlertEvent) {
	if d == nil {
		return
	}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	for _, cfg := range d.configs {
		if !matches(cfg.Events, event) {
			continue
		}
		d.wg.Add(1)
		go func(cfg AlertConfig) {
			defer d.wg.Done()
			if err := Send(context.Background(), cfg, event); err != nil {
				d.log.Warn("alert webhook failed", zap.String("type", event.Type), zap.Error(err))
			}
		}(cfg)
	}
}

// Wait blocks until in-flight webhooks finish.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

func matches(events []string, event AlertEvent) bool {
	for _, e := range events {
		if e == event.Type {
			return true
		}
	}
	return false
}

// Observer adapts the dispatcher to gate events for one session.
func (d *Dispatcher) Observer(session string) gate.Observer {
	return sessionObserver{d: d, session: session}
}

type sessionObserver struct {
	d       *Dispatcher
	session string
}

// Reconciled alerts only on store failures; reconcile denials repeat on every
// page change and would flood the webhook.
func (o sessionObserver) Reconciled(_ gate.Reconciliation, err error) {
	if err != nil {
		o.d.Dispatch(AlertEvent{Type: EventStoreError, Session: o.session, Detail: err.Error()})
	}
}

func (o sessionObserver) Attempted(control string, out model.Outcome, err error) {
	base := AlertEvent{Session: o.session, Control: control, Count: out.Count, Max: out.Max}
	switch {
	case err != nil:
		base.Type, base.Detail = EventStoreError, err.Error()
	case out.Ignored:
		return
	case !out.Permitted:
		base.Type, base.Reason = EventDeny, string(out.Decision.Reason)
	case out.LimitReached():
		base.Type, base.Reason = EventLimitReached, string(model.ReasonLimit)
	default:
		return
	}
	o.d.Dispatch(base)
}
