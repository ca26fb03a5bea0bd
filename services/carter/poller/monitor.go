package poller

import (
	"context"
	"dropcarter/lib/storeapi"
	"dropcarter/lib/timeutil"
	"dropcarter/services/carter/catalog"
	"encoding/csv"
	"log/slog"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Sample struct {
	Time time.Time
	// 0 when the request failed before a response arrived
	Code int
}

// SampleSink persists the full sample history, it is handed every sample
// collected so far on each flush.
type SampleSink interface {
	WriteSamples(samples []Sample) error
}

type MonitorOptions struct {
	// delay after a 200, defaults to the poller's interval
	SuccessDelay time.Duration
	// delay after a 503, 100ms by default
	OverloadDelay time.Duration
	// delay after a 429, 5s by default
	ThrottleDelay time.Duration
	// flush to the sink every n samples, 25 by default
	FlushEvery int
}

func (o MonitorOptions) withDefaults(pollInterval time.Duration) MonitorOptions {
	if o.SuccessDelay <= 0 {
		o.SuccessDelay = pollInterval
	}
	if o.OverloadDelay <= 0 {
		o.OverloadDelay = 100 * time.Millisecond
	}
	if o.ThrottleDelay <= 0 {
		o.ThrottleDelay = 5 * time.Second
	}
	if o.FlushEvery <= 0 {
		o.FlushEvery = 25
	}
	return o
}

// Monitor queries a single item until ctx is done, recording the response
// code of every query. it is a diagnostic for how often requests get through
// from the current network location.
func (p *Poller) Monitor(ctx context.Context, item catalog.Item, sink SampleSink, opts MonitorOptions) error {
	ctx, span := tracer.Start(ctx, "Monitor")
	defer span.End()

	opts = opts.withDefaults(p.opts.PollInterval)

	var samples []Sample
	flush := func() {
		err := sink.WriteSamples(samples)
		if err != nil {
			span.RecordError(err)
			slog.WarnContext(ctx, "failed to write samples", "count", len(samples), "err", err)
		}
	}

	for {
		res, err := p.api.ItemInfo(ctx, catalog.StatusQuery(item, p.sess))
		if ctx.Err() != nil {
			flush()
			return ctx.Err()
		}
		// a transport failure has no status and is recorded as 0, an
		// undecodable body keeps the status the server answered with
		sample := Sample{Time: time.Now(), Code: res.Status}
		if err != nil {
			slog.WarnContext(ctx, "item status query failed", "code", item.Code, "status", res.Status, "err", err)
		}
		responseCounter.Add(ctx, 1, metric.WithAttributes(attribute.Int("status", sample.Code)))
		slog.InfoContext(ctx, "monitor response", "time", sample.Time.Format(time.TimeOnly), "status", sample.Code)

		delay := opts.SuccessDelay
		switch sample.Code {
		case storeapi.StatusTooMuchTraffic:
			delay = opts.OverloadDelay
		case storeapi.StatusThrottled:
			delay = opts.ThrottleDelay
		}

		samples = append(samples, sample)
		if len(samples)%opts.FlushEvery == 0 {
			flush()
		}

		err = timeutil.Sleep(ctx, delay)
		if err != nil {
			flush()
			return err
		}
	}
}

// CSVSink rewrites a csv file of `index,time,response_code` rows on every
// flush.
type CSVSink struct {
	Path string
}

func (s CSVSink) WriteSamples(samples []Sample) error {
	f, err := os.Create(s.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	err = w.Write([]string{"index", "time", "response_code"})
	if err != nil {
		return err
	}
	for i, sample := range samples {
		err = w.Write([]string{
			strconv.Itoa(i),
			sample.Time.Format(time.TimeOnly),
			strconv.Itoa(sample.Code),
		})
		if err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}
