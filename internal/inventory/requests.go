package inventory

import (
	"context"
	"errors"

	"github.com/ariefcatur/fulfillment-ops/internal/errs"
	kafkax "github.com/ariefcatur/fulfillment-ops/internal/kafka"
	"github.com/ariefcatur/fulfillment-ops/internal/orders"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Deduper remembers processed event ids. *redisx.Dedup satisfies it.
type Deduper interface {
	MarkOnce(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// StatusRequests applies order.status.requested events.
type StatusRequests struct {
	Service *Service
	Dedup   Deduper // optional
	Log     logrus.FieldLogger
}

// Handle is a kafka.Handler. Requests that can never succeed (bad payload,
// unknown order or status, no actor) are logged and committed; store
// failures are returned so the message is retried.
func (h *StatusRequests) Handle(ctx context.Context, m kafka.Message) error {
	if et := kafkax.EventType(m); et != "" && et != orders.EventStatusChangeRequested {
		return nil
	}
	env, err := kafkax.Decode[orders.Envelope](m)
	if err != nil {
		h.drop(m, "", err)
		return nil
	}
	log := h.Log.WithFields(logrus.Fields{
		"module":   "inventory",
		"event_id": env.EventID,
		"offset":   m.Offset,
	})
	if env.EventType != orders.EventStatusChangeRequested {
		log.WithField("event_type", env.EventType).Debug("ignoring event")
		return nil
	}

	if h.Dedup != nil && env.EventID != "" {
		first, err := h.Dedup.MarkOnce(ctx, env.EventID)
		if err != nil {
			return err
		}
		if !first {
			log.Info("duplicate event skipped")
			return nil
		}
	}

	p, err := kafkax.UnwrapPayload[orders.StatusChangeRequestedPayload](env.Payload)
	if err != nil {
		h.drop(m, env.EventID, err)
		return nil
	}
	status, err := orders.ParseStatus(p.Status)
	if err != nil {
		h.drop(m, env.EventID, err)
		return nil
	}

	res, err := h.Service.ApplyStatusTransition(ctx, p.Actor, p.OrderID, status)
	var lookup *StockLookupError
	switch {
	case err == nil, errors.As(err, &lookup):
		log.WithFields(logrus.Fields{
			"order_id": p.OrderID,
			"from":     res.From,
			"to":       res.To,
			"changed":  res.Changed,
		}).Info("status request applied")
		return nil
	case permanent(err):
		h.drop(m, env.EventID, err)
		return nil
	}

	if h.Dedup != nil && env.EventID != "" {
		if ferr := h.Dedup.Forget(ctx, env.EventID); ferr != nil {
			log.WithError(ferr).Warn("dedup key not released")
		}
	}
	return err
}

func permanent(err error) bool {
	for _, kind := range []error{errs.ErrNotFound, errs.ErrInvalidStatus, errs.ErrMissingActor} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

func (h *StatusRequests) drop(m kafka.Message, eventID string, err error) {
	h.Log.WithFields(logrus.Fields{
		"module":   "inventory",
		"funcName": "StatusRequests.Handle",
		"event_id": eventID,
		"topic":    m.Topic,
		"offset":   m.Offset,
	}).WithError(err).Warn("status request dropped")
}
