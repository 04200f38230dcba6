// Package httpfetch performs single HTTP exchanges for source adapters using Colly.
package httpfetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

const defaultTimeout = 20 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// RequestsPerSecond is applied per host; zero disables limiting.
	RequestsPerSecond float64
	Burst             int
	// MaxBodySize caps the response body in bytes; zero keeps Colly's default.
	MaxBodySize int
}

// Request describes one GET or form POST.
type Request struct {
	URL     string
	Method  string
	Form    map[string]string
	Headers http.Header
}

// Response is the raw outcome of a request. Non-2xx responses are returned, not errors.
type Response struct {
	URL         string
	StatusCode  int
	Headers     http.Header
	Body        []byte
	ContentType string
	Duration    time.Duration
}

// Client issues requests through a shared base collector.
type Client struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       *Limiter
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	if cfg.MaxBodySize > 0 {
		c.MaxBodySize = cfg.MaxBodySize
	}
	c.WithTransport(newHTTPTransport())
	return &Client{
		cfg:           cfg,
		baseCollector: c,
		limiter:       NewLimiter(cfg.RequestsPerSecond, cfg.Burst),
	}
}

// Do executes req and waits for the response or ctx cancellation.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	if req.URL == "" {
		return Response{}, fmt.Errorf("request url is required")
	}
	if err := c.limiter.Wait(ctx, req.URL); err != nil {
		return Response{}, err
	}
	var (
		result   Response
		fetchErr error
	)
	collector := c.buildCollector(ctx)
	configureHooks(collector, req, time.Now(), &result, &fetchErr)
	if err := runCollector(ctx, collector, req, &fetchErr); err != nil {
		return Response{}, err
	}
	if result.StatusCode == 0 {
		return Response{}, fmt.Errorf("no response from %s", req.URL)
	}
	return result, nil
}

func (c *Client) buildCollector(ctx context.Context) *colly.Collector {
	collector := c.baseCollector.Clone()
	collector.Context = ctx
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	collector.SetRequestTimeout(c.cfg.Timeout)
	return collector
}

func configureHooks(hooks collectorHooks, req Request, start time.Time, result *Response, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range req.Headers {
			r.Headers.Del(key)
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = Response{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			Headers:     headers,
			Body:        append([]byte(nil), r.Body...),
			ContentType: headers.Get("Content-Type"),
			Duration:    time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, req Request, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		if req.Method == http.MethodPost {
			done <- collector.Post(req.URL, req.Form)
			return
		}
		done <- collector.Visit(req.URL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly request failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
