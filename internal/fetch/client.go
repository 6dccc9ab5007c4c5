package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/ruslan-bikkinin/vscode-react-native/internal/resilience"
)

// Result is the outcome of a conditional GET.
type Result struct {
	Body string
	Code int
	Etag string
}

// NotModified reports whether the server revalidated the cached copy.
func (r *Result) NotModified() bool {
	return r.Code == 304
}

// Client wraps resty with rate limiting and a transport circuit breaker.
type Client struct {
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
}

// NewClient creates the bridge HTTP client.
//
// The retryablehttp client contributes only its tuned transport; its retry
// loop is not engaged. Download retries are a caller decision.
func NewClient() *Client {
	transportClient := retryablehttp.NewClient()
	transportClient.RetryMax = 0
	transportClient.Logger = nil

	restyClient := resty.New()
	restyClient.
		SetTimeout(30 * time.Second).
		SetHeader("User-Agent", "vscode-react-native-debugger/1.0").
		SetTransport(transportClient.HTTPClient.Transport)

	breaker := resilience.New("packager-http", resilience.Settings{
		FailureThreshold: 10,
		Cooldown:         30 * time.Second,
	})

	return &Client{
		resty:   restyClient,
		limiter: rate.NewLimiter(rate.Inf, 0), // Unlimited by default
		breaker: breaker,
	}
}

// SetTimeout configures the per-request timeout.
func (c *Client) SetTimeout(d time.Duration) {
	c.resty.SetTimeout(d)
}

// SetRateLimit configures request rate limiting (requests per second).
func (c *Client) SetRateLimit(rps float64) {
	if rps <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
	} else {
		c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps))
	}
}

// BreakerState returns the transport breaker state.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

// RequestWithEtag issues a GET, attaching If-None-Match when etag is
// non-empty. Statuses 200 and 304 are success; any other status is an error
// whose message is the response body.
func (c *Client) RequestWithEtag(ctx context.Context, url, etag string) (*Result, error) {
	req, err := c.newRequest(ctx)
	if err != nil {
		return nil, err
	}
	if etag != "" {
		req.SetHeader("If-None-Match", etag)
	}

	resp, err := c.execute(req, url)
	if err != nil {
		return nil, err
	}

	code := resp.StatusCode()
	if code != 200 && code != 304 {
		return nil, fmt.Errorf("%s", resp.String())
	}

	return &Result{
		Body: resp.String(),
		Code: code,
		Etag: resp.Header().Get("ETag"),
	}, nil
}

// Request issues a plain GET returning the body as text. When expectOK is
// set, any status other than 200 is an error carrying the response body.
func (c *Client) Request(ctx context.Context, url string, expectOK bool) (string, error) {
	req, err := c.newRequest(ctx)
	if err != nil {
		return "", err
	}

	resp, err := c.execute(req, url)
	if err != nil {
		return "", err
	}

	if expectOK && resp.StatusCode() != 200 {
		return "", fmt.Errorf("%s", resp.String())
	}
	return resp.String(), nil
}

// newRequest builds a request after the rate limiter admits it.
func (c *Client) newRequest(ctx context.Context) (*resty.Request, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}
	return c.resty.R().SetContext(ctx), nil
}

// execute runs the GET under the breaker. Only transport faults count as
// breaker failures; any HTTP response is a breaker success.
func (c *Client) execute(req *resty.Request, url string) (*resty.Response, error) {
	var resp *resty.Response
	err := c.breaker.Execute(func() error {
		var execErr error
		resp, execErr = req.Get(url)
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", url, err)
	}
	return resp, nil
}
