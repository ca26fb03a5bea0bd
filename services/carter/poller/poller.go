package poller

import (
	"context"
	"dropcarter/lib/storeapi"
	"dropcarter/lib/timeutil"
	"dropcarter/services/carter/catalog"
	"dropcarter/services/carter/session"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

// ErrThrottled means the api throttled the poller while StopOnThrottle was
// set, availability could not be determined.
var ErrThrottled = errors.New("poller: throttled, availability unknown")
var ErrEmptyWatchList = errors.New("poller: watch list is empty")

type ItemStatusAPI interface {
	ItemInfo(ctx context.Context, query storeapi.ItemQuery) (storeapi.ItemInfoResponse, error)
}

type Options struct {
	// delay before every status query, 250ms by default
	PollInterval time.Duration
	// delay after a 429 when StopOnThrottle is off, 1s by default
	ThrottleCooldown time.Duration
	StopOnThrottle   bool
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 250 * time.Millisecond
	}
	if o.ThrottleCooldown <= 0 {
		o.ThrottleCooldown = time.Second
	}
	return o
}

type Poller struct {
	api  ItemStatusAPI
	sess *session.Context
	opts Options
}

func New(api ItemStatusAPI, sess *session.Context, opts Options) *Poller {
	return &Poller{
		api:  api,
		sess: sess,
		opts: opts.withDefaults(),
	}
}

// Wait queries the watch list round by round until an item opens for
// pre-order and returns it, with CartType set. the first item seen open ends
// the wait, the rest of that round is not queried.
func (p *Poller) Wait(ctx context.Context, watch []catalog.Item) (catalog.Item, error) {
	ctx, span := tracer.Start(ctx, "Wait")
	defer span.End()

	if len(watch) == 0 {
		return catalog.Item{}, ErrEmptyWatchList
	}

	for round := 1; ; round++ {
		for _, item := range watch {
			err := timeutil.Sleep(ctx, p.opts.PollInterval)
			if err != nil {
				return catalog.Item{}, err
			}

			res, err := p.api.ItemInfo(ctx, catalog.StatusQuery(item, p.sess))
			if err != nil {
				if ctx.Err() != nil {
					return catalog.Item{}, ctx.Err()
				}
				slog.WarnContext(ctx, "item status query failed", "code", item.Code, "err", err)
				continue
			}
			responseCounter.Add(ctx, 1, metric.WithAttributes(attribute.Int("status", res.Status)))
			slog.DebugContext(ctx, "item status response", "code", item.Code, "status", res.Status, "round", round)

			switch res.Status {
			case storeapi.StatusSuccess:
				if res.Item == nil || res.Item.CartType == nil {
					slog.InfoContext(ctx, "item status has no cart_type", "code", item.Code)
					continue
				}
				item.CartType = catalog.CartType(*res.Item.CartType)
				slog.InfoContext(
					ctx, "checked item",
					"code", item.Code,
					"name", res.Item.Gname,
					"cart_type", item.CartType,
				)
				if item.CartType == catalog.CartTypePreOrder {
					span.SetAttributes(
						attribute.String("code", item.Code),
						attribute.Int("rounds", round),
					)
					return item, nil
				}
			case storeapi.StatusThrottled:
				if p.opts.StopOnThrottle {
					slog.WarnContext(ctx, "throttled while polling, giving up", "code", item.Code)
					span.SetStatus(codes.Error, "throttled")
					return catalog.Item{}, ErrThrottled
				}
				slog.WarnContext(ctx, "throttled while polling, cooling down", "cooldown", p.opts.ThrottleCooldown)
				err = timeutil.Sleep(ctx, p.opts.ThrottleCooldown)
				if err != nil {
					return catalog.Item{}, err
				}
			default:
				slog.InfoContext(ctx, "unexpected item status response", "code", item.Code, "status", res.Status)
			}
		}
	}
}
