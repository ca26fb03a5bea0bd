package reserve

import (
	"context"
	"dropcarter/lib/storeapi"
	"dropcarter/lib/timeutil"
	"dropcarter/services/carter/catalog"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

type CartAPI interface {
	AddToCart(ctx context.Context, req storeapi.CartRequest) (int, error)
}

type Options struct {
	// cap on concurrent workers, 10 by default
	PoolSize int
	// worker i waits i*StaggerDelay before its first submission, 200ms by default
	StaggerDelay time.Duration
	// sleep after a successful submission, 5s by default
	SuccessCooldown time.Duration
	// a 400 or 503 backs off for CatalogSize*BackoffUnit
	BackoffUnit time.Duration
	CatalogSize int
	// sleep after a 429, 2s by default
	ThrottleCooldown time.Duration
	// sleep between attempts, 600ms by default
	RetryCooldown time.Duration
	// when set, a success does not stop the other workers
	OrderAllAtOnce bool
	// per worker submission cap, 0 means unlimited
	MaxAttempts int
}

func (o Options) withDefaults() Options {
	if o.PoolSize <= 0 {
		o.PoolSize = 10
	}
	if o.StaggerDelay <= 0 {
		o.StaggerDelay = 200 * time.Millisecond
	}
	if o.SuccessCooldown <= 0 {
		o.SuccessCooldown = 5 * time.Second
	}
	if o.BackoffUnit <= 0 {
		o.BackoffUnit = time.Second
	}
	if o.CatalogSize <= 0 {
		o.CatalogSize = 1
	}
	if o.ThrottleCooldown <= 0 {
		o.ThrottleCooldown = 2 * time.Second
	}
	if o.RetryCooldown <= 0 {
		o.RetryCooldown = 600 * time.Millisecond
	}
	return o
}

type Coordinator struct {
	api   CartAPI
	opts  Options
	sleep func(ctx context.Context, d time.Duration) error
}

func NewCoordinator(api CartAPI, opts Options) *Coordinator {
	return &Coordinator{
		api:   api,
		opts:  opts.withDefaults(),
		sleep: timeutil.Sleep,
	}
}

type Result struct {
	Secured   []catalog.ReservationRequest
	Unsecured []catalog.ReservationRequest
	// last status code seen per item code, 0 if nothing was submitted or
	// every submission failed in transport
	Codes map[string]int
}

// Reserve runs one worker per request and waits for all of them. which items
// end up secured when the pack is stopped early depends on response timing.
// the returned error is only ever ctx's, the partial result is still valid.
func (c *Coordinator) Reserve(ctx context.Context, reqs []catalog.ReservationRequest) (Result, error) {
	ctx, span := tracer.Start(ctx, "Reserve")
	defer span.End()
	span.SetAttributes(attribute.Int("requests", len(reqs)))

	signal := NewSecuredSet()
	terminal := make([]int, len(reqs))

	var group errgroup.Group
	group.SetLimit(c.opts.PoolSize)
	for i, req := range reqs {
		group.Go(func() error {
			code, err := c.work(ctx, i, req, signal)
			terminal[i] = code
			return err
		})
	}
	err := group.Wait()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reservation interrupted")
	}

	res := Result{Codes: make(map[string]int, len(reqs))}
	for i, req := range reqs {
		res.Codes[req.Code()] = terminal[i]
		if terminal[i] == storeapi.StatusSuccess {
			res.Secured = append(res.Secured, req)
			continue
		}
		res.Unsecured = append(res.Unsecured, req)
	}

	if len(res.Unsecured) == 0 {
		slog.InfoContext(ctx, "every item was added to the cart", "count", len(res.Secured))
	} else {
		slog.InfoContext(
			ctx, "not every item was added to the cart",
			"secured", len(res.Secured),
			"unsecured", len(res.Unsecured),
		)
	}
	return res, err
}

func (c *Coordinator) stopped(signal StopSignal) bool {
	return !c.opts.OrderAllAtOnce && signal.IsAnyoneSecured()
}

// work submits a single request until it succeeds, the pack is stopped or
// the attempt cap is hit. it returns the last status code it saw.
func (c *Coordinator) work(ctx context.Context, index int, req catalog.ReservationRequest, signal StopSignal) (int, error) {
	err := c.sleep(ctx, time.Duration(index)*c.opts.StaggerDelay)
	if err != nil {
		return 0, err
	}

	logger := slog.With("code", req.Code(), "desc", req.Item.Desc)
	logger.InfoContext(ctx, "now ordering")

	last := 0
	for attempt := 1; c.opts.MaxAttempts <= 0 || attempt <= c.opts.MaxAttempts; attempt++ {
		if c.stopped(signal) {
			logger.InfoContext(ctx, "another item was secured, stopping", "secured", signal.Secured())
			return last, nil
		}

		code, err := c.api.AddToCart(ctx, req.CartRequest())
		if err != nil {
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			logger.WarnContext(ctx, "cart submission failed", "attempt", attempt, "err", err)
			code = 0
		} else {
			submissionCounter.Add(ctx, 1, metric.WithAttributes(attribute.Int("status", code)))
			logger.InfoContext(ctx, "cart submission response", "status", code, "attempt", attempt)
		}
		last = code

		var cooldown time.Duration
		switch code {
		case storeapi.StatusSuccess:
			securedCounter.Add(ctx, 1)
			if !c.opts.OrderAllAtOnce {
				signal.MarkSecured(req.Code())
			}
			return code, c.sleep(ctx, c.opts.SuccessCooldown)
		case storeapi.StatusUnavailable, storeapi.StatusTooMuchTraffic:
			cooldown = time.Duration(c.opts.CatalogSize) * c.opts.BackoffUnit
		case storeapi.StatusThrottled:
			cooldown = c.opts.ThrottleCooldown
		}
		if cooldown > 0 {
			err = c.sleep(ctx, cooldown)
			if err != nil {
				return last, err
			}
		}

		if c.stopped(signal) {
			logger.InfoContext(ctx, "another item was secured, stopping", "secured", signal.Secured())
			return last, nil
		}
		err = c.sleep(ctx, c.opts.RetryCooldown)
		if err != nil {
			return last, err
		}
	}

	logger.WarnContext(ctx, "giving up on item", "attempts", c.opts.MaxAttempts, "status", last)
	return last, nil
}
