// Package webhook implements the Webhook Dispatcher (C9): matching
// fanout messages to registered webhooks, HMAC-signing payloads,
// delivering with the five-attempt retry schedule, and auto-disabling
// webhooks after ten consecutive failures. Grounded on the teacher's
// internal/webhooks orchestrator.go (bus-consume-then-deliver loop) and
// direct_delivery.go (HTTP POST mechanics), narrowed to the single
// signed-JSON wire contract this system defines.
package webhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/uho-indexer/uho/internal/db"
	"github.com/uho-indexer/uho/internal/fanout"
	"github.com/uho-indexer/uho/internal/uhoerrors"
)

// RetryOffsets is the fixed attempt schedule from spec §4.9: the first
// attempt is immediate, then four retries at increasing delay.
var RetryOffsets = []time.Duration{
	0,
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
	60 * time.Minute,
}

// MaxConsecutiveFailures is the auto-disable threshold from spec §4.9.
const MaxConsecutiveFailures = 10

// Dispatcher consumes fanout messages for a set of programs and
// delivers matching webhooks.
type Dispatcher struct {
	cp       *db.ControlPlane
	delivery *deliveryClient
	logger   zerolog.Logger
}

// NewDispatcher builds a Dispatcher. allowPlainHTTP should be false in
// production deployments (spec §4.9's HTTPS-only rule).
func NewDispatcher(cp *db.ControlPlane, allowPlainHTTP bool) *Dispatcher {
	return &Dispatcher{
		cp:       cp,
		delivery: newDeliveryClient(allowPlainHTTP),
		logger:   log.With().Str("component", "webhook").Logger(),
	}
}

// Watch subscribes to bus for programID and dispatches every message
// until ctx is cancelled. One Watch goroutine runs per active program,
// matching the spec's "dispatcher runs concurrently across targets"
// scheduling note.
func (d *Dispatcher) Watch(ctx context.Context, bus *fanout.Bus, programID string) {
	ch, unsubscribe := bus.Subscribe(programID, fanout.DefaultBacklog)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			d.handleMessage(ctx, msg)
		}
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, msg fanout.Message) {
	for _, subscriptionID := range subscriptionsFromMessage(msg) {
		webhooks, err := d.cp.WebhooksForSubscription(ctx, subscriptionID)
		if err != nil {
			d.logger.Error().Err(err).Str("subscription_id", subscriptionID).Msg("list webhooks failed")
			continue
		}
		for _, wh := range webhooks {
			if !matches(wh, msg) {
				continue
			}
			go d.deliverWithRetry(ctx, wh, msg)
		}
	}
}

// subscriptionsFromMessage returns the subscription ids the Writer
// attached to msg: every subscription on msg.ProgramID whose namespace
// produced this row. One subscription already ties a tenant to exactly
// one program, so it is a direct lookup key into the control plane.
func subscriptionsFromMessage(msg fanout.Message) []string {
	return msg.Subscribers
}

// matches implements spec §4.9's filter: non-empty eventFilter means
// inclusion-only, and fieldFilter requires equality on top-level data
// fields.
func matches(wh db.Webhook, msg fanout.Message) bool {
	if len(wh.EventFilter) > 0 {
		found := false
		for _, name := range wh.EventFilter {
			if name == msg.EventName {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(wh.FieldFilter) == 0 {
		return true
	}
	var fieldFilter map[string]any
	if err := json.Unmarshal(wh.FieldFilter, &fieldFilter); err != nil {
		return true // malformed filter stored; fail open rather than silently drop all deliveries
	}
	for k, want := range fieldFilter {
		got, ok := msg.Data[k]
		if !ok || !equalJSONValue(got, want) {
			return false
		}
	}
	return true
}

func equalJSONValue(a, b any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ab) == string(bb)
}

// deliverWithRetry runs the five-attempt schedule for one webhook
// against one message, sequentially, and updates failureCount on the
// control plane according to the final outcome of the full schedule.
// Driven by cenkalti/backoff/v4's Retry, the same retry library
// internal/solrpc/client.go uses for RPC calls, through a BackOff that
// yields spec.md §4.9's fixed offsets instead of an exponential curve.
func (d *Dispatcher) deliverWithRetry(ctx context.Context, wh db.Webhook, msg fanout.Message) {
	deliveryID := "del_" + uuid.NewString()
	payload := NewPayload(deliveryID, msg.EventName, msg.ProgramID, msg.Data, msg.Slot, msg.TxSignature, time.Now())

	attempt := 0
	var lastErr error
	bo := backoff.WithContext(newFixedSchedule(RetryOffsets), ctx)
	err := backoff.RetryNotify(func() error {
		attempt++
		lastErr = d.delivery.deliver(ctx, wh.URL, wh.Secret, msg.EventName, deliveryID, payload)
		return lastErr
	}, bo, func(err error, _ time.Duration) {
		d.logger.Warn().Err(err).Str("webhook_id", wh.ID).Int("attempt", attempt).Msg("webhook delivery attempt failed")
	})
	if err == nil {
		if rerr := d.cp.RecordWebhookSuccess(ctx, wh.ID); rerr != nil {
			d.logger.Error().Err(rerr).Str("webhook_id", wh.ID).Msg("record webhook success failed")
		}
		return
	}

	wrapped := uhoerrors.NewWebhookFailureError(0, lastErr)
	d.logger.Error().Err(wrapped).Str("webhook_id", wh.ID).Msg("webhook delivery exhausted retry schedule")
	if rerr := d.cp.RecordWebhookFailure(ctx, wh.ID, MaxConsecutiveFailures); rerr != nil {
		d.logger.Error().Err(rerr).Str("webhook_id", wh.ID).Msg("record webhook failure failed")
	}
}

// fixedSchedule is a backoff.BackOff that replays RetryOffsets' gaps
// between attempts verbatim instead of growing them exponentially:
// NextBackOff returns offsets[i]-offsets[i-1] for each successive
// attempt and backoff.Stop once the schedule is exhausted.
type fixedSchedule struct {
	deltas []time.Duration
	next   int
}

func newFixedSchedule(offsets []time.Duration) *fixedSchedule {
	deltas := make([]time.Duration, 0, len(offsets)-1)
	for i := 1; i < len(offsets); i++ {
		deltas = append(deltas, offsets[i]-offsets[i-1])
	}
	return &fixedSchedule{deltas: deltas}
}

func (f *fixedSchedule) NextBackOff() time.Duration {
	if f.next >= len(f.deltas) {
		return backoff.Stop
	}
	d := f.deltas[f.next]
	f.next++
	return d
}

func (f *fixedSchedule) Reset() {
	f.next = 0
}
