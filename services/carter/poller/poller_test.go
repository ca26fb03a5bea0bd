package poller

import (
	"context"
	"dropcarter/lib/storeapi"
	"dropcarter/lib/telemetry"
	"dropcarter/services/carter/catalog"
	"dropcarter/services/carter/session"
	"encoding/csv"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeAPI answers with the next scripted response for each item code, the
// last response repeats.
type fakeAPI struct {
	lock      sync.Mutex
	responses map[string][]storeapi.ItemInfoResponse
	errs      map[string]error
	// returned alongside the scripted response, like a body that fails to decode
	bodyErrs  map[string]error
	queries   []storeapi.ItemQuery
}

func (f *fakeAPI) ItemInfo(ctx context.Context, query storeapi.ItemQuery) (storeapi.ItemInfoResponse, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.queries = append(f.queries, query)

	if err := f.errs[query.Gcode]; err != nil {
		return storeapi.ItemInfoResponse{}, err
	}
	script := f.responses[query.Gcode]
	if len(script) == 0 {
		return storeapi.ItemInfoResponse{Status: http.StatusNotFound}, nil
	}
	res := script[0]
	if len(script) > 1 {
		f.responses[query.Gcode] = script[1:]
	}
	return res, f.bodyErrs[query.Gcode]
}

func (f *fakeAPI) Queries() []storeapi.ItemQuery {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]storeapi.ItemQuery(nil), f.queries...)
}

func cartType(value catalog.CartType) storeapi.ItemInfoResponse {
	v := int(value)
	return storeapi.ItemInfoResponse{
		Status: http.StatusOK,
		Item:   &storeapi.ItemInfo{CartType: &v, Gname: "plush"},
	}
}

func testSession(t testing.TB) *session.Context {
	sess, err := session.FromCookies([]*http.Cookie{
		{Name: "ransu", Value: "ransu-token"},
		{Name: "mcode", Value: "mcode-token"},
	}, nil, nil)
	require.NoError(t, err)
	return sess
}

var testOptions = Options{
	PollInterval:     time.Millisecond,
	ThrottleCooldown: time.Millisecond,
}

func TestWaitReturnsOpenItem(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:poller")
	defer cleanup()

	api := &fakeAPI{responses: map[string][]storeapi.ItemInfoResponse{
		"A": {cartType(catalog.CartTypeClosed)},
		"B": {cartType(catalog.CartTypePreOrder)},
		"C": {cartType(catalog.CartTypePreOrder)},
	}}
	p := New(api, testSession(t), testOptions)

	watch := []catalog.Item{{Code: "A"}, {Code: "B"}, {Code: "C"}}
	item, err := p.Wait(context.Background(), watch)
	require.NoError(t, err)
	require.Equal(t, "B", item.Code)
	require.Equal(t, catalog.CartTypePreOrder, item.CartType)

	// C is never queried, the round ends at B
	queries := api.Queries()
	require.Len(t, queries, 2)
	require.Equal(t, "ransu-token", queries[0].Ransu)
	require.Equal(t, "eng", queries[0].Lang)
}

func TestWaitKeepsPolling(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:poller")
	defer cleanup()

	api := &fakeAPI{
		responses: map[string][]storeapi.ItemInfoResponse{
			"A": {
				{Status: http.StatusOK, Item: &storeapi.ItemInfo{}},
				{Status: http.StatusServiceUnavailable},
				{Status: http.StatusTooManyRequests},
				cartType(catalog.CartTypeSoon),
				cartType(catalog.CartTypePreOrder),
			},
		},
		errs: map[string]error{"B": errors.New("connection reset")},
	}
	p := New(api, testSession(t), testOptions)

	item, err := p.Wait(context.Background(), []catalog.Item{{Code: "A"}, {Code: "B"}})
	require.NoError(t, err)
	require.Equal(t, "A", item.Code)
	require.Len(t, api.Queries(), 9)
}

func TestWaitStopsOnThrottle(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:poller")
	defer cleanup()

	api := &fakeAPI{responses: map[string][]storeapi.ItemInfoResponse{
		"A": {{Status: http.StatusTooManyRequests}, cartType(catalog.CartTypePreOrder)},
	}}
	opts := testOptions
	opts.StopOnThrottle = true
	p := New(api, testSession(t), opts)

	item, err := p.Wait(context.Background(), []catalog.Item{{Code: "A"}})
	require.ErrorIs(t, err, ErrThrottled)
	require.Empty(t, item.Code)
	require.Len(t, api.Queries(), 1)
}

func TestWaitEdgeCases(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:poller")
	defer cleanup()

	api := &fakeAPI{responses: map[string][]storeapi.ItemInfoResponse{
		"A": {cartType(catalog.CartTypeClosed)},
	}}
	p := New(api, testSession(t), testOptions)

	_, err := p.Wait(context.Background(), nil)
	require.ErrorIs(t, err, ErrEmptyWatchList)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Wait(ctx, []catalog.Item{{Code: "A"}})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMonitor(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:poller")
	defer cleanup()

	api := &fakeAPI{responses: map[string][]storeapi.ItemInfoResponse{
		"A": {
			{Status: http.StatusOK},
			{Status: http.StatusServiceUnavailable},
			{Status: http.StatusTooManyRequests},
			{Status: http.StatusOK},
		},
	}}
	p := New(api, testSession(t), testOptions)

	path := filepath.Join(t.TempDir(), "requests_results.csv")
	ctx, cancel := context.WithCancel(context.Background())
	sink := &countingSink{CSVSink: CSVSink{Path: path}, onWrite: func(n int) {
		if n >= 6 {
			cancel()
		}
	}}

	err := p.Monitor(ctx, catalog.Item{Code: "A"}, sink, MonitorOptions{
		SuccessDelay:  time.Millisecond,
		OverloadDelay: time.Millisecond,
		ThrottleDelay: time.Millisecond,
		FlushEvery:    3,
	})
	require.ErrorIs(t, err, context.Canceled)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Equal(t, []string{"index", "time", "response_code"}, rows[0])
	require.GreaterOrEqual(t, len(rows), 7)
	codes := []string{rows[1][2], rows[2][2], rows[3][2], rows[4][2]}
	require.Equal(t, []string{"200", "503", "429", "200"}, codes)
	require.Equal(t, "0", rows[1][0])
}

func TestMonitorSampleCodes(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:poller")
	defer cleanup()

	for _, test := range []struct {
		name   string
		api    *fakeAPI
		expect string
	}{
		{
			name: "undecodable body",
			api: &fakeAPI{
				responses: map[string][]storeapi.ItemInfoResponse{"A": {{Status: http.StatusOK}}},
				bodyErrs:  map[string]error{"A": errors.New("decode item info: unexpected end of JSON input")},
			},
			expect: "200",
		},
		{
			name: "transport failure",
			api: &fakeAPI{
				errs: map[string]error{"A": errors.New("connection reset by peer")},
			},
			expect: "0",
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			p := New(test.api, testSession(t), testOptions)
			path := filepath.Join(t.TempDir(), "requests_results.csv")
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			sink := &countingSink{CSVSink: CSVSink{Path: path}, onWrite: func(n int) {
				cancel()
			}}

			err := p.Monitor(ctx, catalog.Item{Code: "A"}, sink, MonitorOptions{
				SuccessDelay:  time.Millisecond,
				OverloadDelay: time.Millisecond,
				ThrottleDelay: time.Millisecond,
				FlushEvery:    2,
			})
			require.ErrorIs(t, err, context.Canceled)

			f, err := os.Open(path)
			require.NoError(t, err)
			defer f.Close()
			rows, err := csv.NewReader(f).ReadAll()
			require.NoError(t, err)
			require.GreaterOrEqual(t, len(rows), 3)
			require.Equal(t, test.expect, rows[1][2])
			require.Equal(t, test.expect, rows[2][2])
		})
	}
}

type countingSink struct {
	CSVSink
	onWrite func(n int)
}

func (s *countingSink) WriteSamples(samples []Sample) error {
	err := s.CSVSink.WriteSamples(samples)
	s.onWrite(len(samples))
	return err
}
