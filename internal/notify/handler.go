package notify

import (
	"context"
	"encoding/json"

	kafkax "github.com/ariefcatur/go-storefront-checkout/internal/kafka"
	"github.com/ariefcatur/go-storefront-checkout/internal/logx"
	"github.com/ariefcatur/go-storefront-checkout/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Deduper interface {
	Claim(ctx context.Context, scope, id string) (bool, error)
	Release(ctx context.Context, scope, id string) error
}

const dedupScope = "notifier"

// Handler consumes lifecycle envelopes and hands them to the dispatcher,
// once per event id.
type Handler struct {
	Dispatcher *Dispatcher
	Dedup      Deduper
	Log        *zap.Logger
}

// HandleMessage never returns an error for a bad message so the offset is
// committed and the partition keeps moving.
func (h *Handler) HandleMessage(ctx context.Context, m kafkago.Message) error {
	log := logx.OrNop(h.Log)

	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		log.Warn("skip undecodable envelope", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if v := kafkax.Header(m, kafkax.HeaderEventVersion); v != "" && v != "1" {
		log.Warn("skip unsupported event version", zap.String("event_id", env.EventID), zap.String("version", v))
		return nil
	}

	if h.Dedup != nil && env.EventID != "" {
		ok, err := h.Dedup.Claim(ctx, dedupScope, env.EventID)
		if err != nil {
			// deliver without dedup
			log.Warn("notifier dedup unavailable", zap.String("event_id", env.EventID), zap.Error(err))
		} else if !ok {
			return nil
		}
	}

	ev, err := kafkax.UnwrapPayload[orders.LifecycleEvent](env.Payload)
	if err != nil {
		log.Warn("skip undecodable lifecycle payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}
	if ev.Type == "" {
		ev.Type = env.EventType
	}
	h.Dispatcher.Notify(ctx, ev)
	return nil
}
