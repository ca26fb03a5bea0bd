package storeapi

import (
	"context"
	"dropcarter/lib/restyutil"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// status codes the storefront answers with
const (
	StatusSuccess        = http.StatusOK
	StatusUnavailable    = http.StatusBadRequest
	StatusThrottled      = http.StatusTooManyRequests
	StatusTooMuchTraffic = http.StatusServiceUnavailable
)

type Options struct {
	ItemInfoUrl string
	CartUrl     string
	Headers     map[string]string
	// session cookies copied out of the browser
	Jar http.CookieJar
	// dumps every request/response pair when debug logging is on, can be nil
	InstrumentOutput restyutil.InstrumentOutput
	Timeout          time.Duration
	// disables the cloudflare fingerprint transport, used against test servers
	PlainTransport bool
}

type Client struct {
	http        *resty.Client
	itemInfoUrl string
	cartUrl     string
}

func NewClient(opts Options) *Client {
	client := resty.New()
	if opts.Jar != nil {
		client.SetCookieJar(opts.Jar)
	}
	if !opts.PlainTransport {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}
	client.SetHeaders(opts.Headers)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Second * 30
	}
	client.SetTimeout(timeout)

	restyutil.InstrumentClient(client, tracer, opts.InstrumentOutput)

	return &Client{
		http:        client,
		itemInfoUrl: opts.ItemInfoUrl,
		cartUrl:     opts.CartUrl,
	}
}

type ItemQuery struct {
	Gcode string
	Lang  string
	Ransu string
}

// ItemInfo is the subset of the `item` object the bot reads.
type ItemInfo struct {
	// nil when the field is absent from the response
	CartType *int   `json:"cart_type"`
	Gname    string `json:"gname"`
}

type ItemInfoResponse struct {
	Status int
	// only set on a 200 response with a decodable `item` object
	Item *ItemInfo
}

// ItemInfo queries the status of a single item. a non-200 answer is not an
// error, the caller decides what each status means.
func (c *Client) ItemInfo(ctx context.Context, query ItemQuery) (ItemInfoResponse, error) {
	ctx, span := tracer.Start(ctx, "client:ItemInfo")
	defer span.End()
	span.SetAttributes(attribute.String("gcode", query.Gcode))

	lang := query.Lang
	if lang == "" {
		lang = "eng"
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"lang":  lang,
			"gcode": query.Gcode,
			"ransu": query.Ransu,
		}).
		Get(c.itemInfoUrl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch item info")
		return ItemInfoResponse{}, err
	}

	out := ItemInfoResponse{Status: res.StatusCode()}
	if res.StatusCode() != StatusSuccess {
		return out, nil
	}

	var body struct {
		Item *ItemInfo `json:"item"`
	}
	err = json.Unmarshal(res.Body(), &body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to decode item info")
		return out, fmt.Errorf("decode item info: %w", err)
	}
	out.Item = body.Item
	return out, nil
}

// CartRequest is the body of an add-to-cart submission. Base holds the
// site's static request fields, the named fields are laid over it.
type CartRequest struct {
	Base    map[string]any
	Scode   string
	Amount  int
	Ransu   string
	Mcode   string
	Eparams []any
}

func (r CartRequest) Body() map[string]any {
	body := make(map[string]any, len(r.Base)+5)
	for k, v := range r.Base {
		body[k] = v
	}
	body["scode"] = r.Scode
	body["amount"] = r.Amount
	body["ransu"] = r.Ransu
	body["mcode"] = r.Mcode
	body["eparams"] = r.Eparams
	return body
}

// AddToCart submits a cart request and returns the status code, which alone
// decides whether the item was reserved.
func (c *Client) AddToCart(ctx context.Context, req CartRequest) (int, error) {
	ctx, span := tracer.Start(ctx, "client:AddToCart")
	defer span.End()
	span.SetAttributes(attribute.String("scode", req.Scode))

	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req.Body()).
		Post(c.cartUrl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to submit cart request")
		return 0, err
	}
	span.SetAttributes(attribute.Int("status", res.StatusCode()))
	return res.StatusCode(), nil
}
