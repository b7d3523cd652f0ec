// Package httpexec implements the HTTP Executor (C5): a single pooled
// fasthttp.Client shared across every virtual user, with per-request
// timeout, outcome classification, and manual redirect following.
package httpexec

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/blackcoderx/loadgen/internal/loadmodel"
	"github.com/blackcoderx/loadgen/internal/request"
	"github.com/blackcoderx/loadgen/internal/validate"
)

// Executor wraps a fasthttp.Client configured once per run (§4.5, §5
// "the HTTP client (safe for concurrent use)").
type Executor struct {
	client          *fasthttp.Client
	requestTimeout  time.Duration
	followRedirects bool
	maxRedirects    int
}

// Options configures the shared client; derived from RunConfig and the
// GlobalSuccessCriteria redirect/TLS fields (SPEC_FULL Supplemented
// Features).
type Options struct {
	RequestTimeoutMs int
	MaxConnsPerHost  int
	IgnoreSslErrors  bool
	FollowRedirects  bool
	MaxRedirects     int
}

// New builds the process-wide Executor.
func New(opts Options) *Executor {
	maxConns := opts.MaxConnsPerHost
	if maxConns <= 0 {
		maxConns = 512
	}
	client := &fasthttp.Client{
		MaxConnsPerHost:               maxConns,
		ReadTimeout:                   time.Duration(opts.RequestTimeoutMs) * time.Millisecond,
		WriteTimeout:                  time.Duration(opts.RequestTimeoutMs) * time.Millisecond,
		DisableHeaderNamesNormalizing: false,
	}
	if opts.IgnoreSslErrors {
		client.TLSConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- operator opt-in via IgnoreSslErrors
	}

	maxRedirects := opts.MaxRedirects
	if maxRedirects <= 0 && opts.FollowRedirects {
		maxRedirects = 10
	}

	return &Executor{
		client:          client,
		requestTimeout:  time.Duration(opts.RequestTimeoutMs) * time.Millisecond,
		followRedirects: opts.FollowRedirects,
		maxRedirects:    maxRedirects,
	}
}

// Execute sends a prepared request and classifies the outcome per §4.5.
// The stopwatch starts immediately before send and stops once the full
// body has been read into memory. The decoded body text is returned
// alongside the result so the Script Interpreter (C4) can parse it —
// ExecutionResult itself stays the immutable §3 shape with no raw body.
func (e *Executor) Execute(ctx context.Context, p request.Prepared, stepName string, criteria loadmodel.SuccessCriteria) (loadmodel.ExecutionResult, string) {
	start := time.Now()
	capturedAt := start.UTC()

	statusCode, body, headers, err := e.doWithRedirects(ctx, p)
	elapsed := time.Since(start)

	result := loadmodel.ExecutionResult{
		StepName:     stepName,
		Method:       p.Method,
		URL:          p.URL,
		ResponseTime: elapsed,
		CapturedAt:   capturedAt,
	}

	if err != nil {
		if ctx.Err() != nil || err == fasthttp.ErrTimeout {
			result.StatusCode = 408
			result.ErrorMessage = fmt.Sprintf("request timeout after %v: %v", elapsed, err)
		} else {
			result.StatusCode = 0
			result.ErrorMessage = fmt.Sprintf("transport failure: %v", err)
		}
		result.IsSuccess = false
		result.Verdict = loadmodel.ValidationVerdict{OK: false, Reasons: []string{result.ErrorMessage}}
		return result, ""
	}

	result.StatusCode = statusCode
	result.ResponseBytes = len(body)
	bodyText := string(body)

	verdict := validate.Evaluate(validate.ResponseHead{StatusCode: statusCode, Headers: headers}, bodyText, elapsed, criteria)
	result.Verdict = verdict
	result.IsSuccess = statusCode >= 200 && statusCode < 300 && verdict.OK

	return result, bodyText
}

func (e *Executor) doWithRedirects(ctx context.Context, p request.Prepared) (int, []byte, map[string]string, error) {
	targetURL := p.URL
	var lastStatus int
	var lastBody []byte
	var lastHeaders map[string]string

	for hop := 0; ; hop++ {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()

		req.SetRequestURI(targetURL)
		req.Header.SetMethod(string(p.Method))
		for _, h := range p.Headers {
			req.Header.Set(h.Key, h.Value)
		}
		if p.ContentType != "" {
			req.Header.SetContentType(p.ContentType)
		}
		if len(p.Body) > 0 {
			req.SetBody(p.Body)
		}

		timeout := e.requestTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining < timeout {
				timeout = remaining
			}
		}

		err := e.client.DoTimeout(req, resp, timeout)

		if err == nil {
			lastStatus = resp.StatusCode()
			lastBody = append([]byte(nil), resp.Body()...)
			lastHeaders = collectHeaders(resp)
		}

		fasthttp.ReleaseRequest(req)
		if err != nil {
			fasthttp.ReleaseResponse(resp)
			return 0, nil, nil, err
		}

		if !e.followRedirects || lastStatus < 300 || lastStatus >= 400 {
			fasthttp.ReleaseResponse(resp)
			return lastStatus, lastBody, lastHeaders, nil
		}

		location := string(resp.Header.Peek("Location"))
		fasthttp.ReleaseResponse(resp)
		if location == "" {
			return lastStatus, lastBody, lastHeaders, nil
		}
		if hop >= e.maxRedirects {
			return 0, nil, nil, fmt.Errorf("too many redirects (max %d)", e.maxRedirects)
		}
		targetURL = resolveRedirect(targetURL, location)

		select {
		case <-ctx.Done():
			return 0, nil, nil, ctx.Err()
		default:
		}
	}
}

func collectHeaders(resp *fasthttp.Response) map[string]string {
	headers := make(map[string]string)
	resp.Header.VisitAll(func(key, value []byte) {
		headers[string(key)] = string(value)
	})
	return headers
}

func resolveRedirect(base, location string) string {
	// Absolute redirect targets are the common case; a Location starting
	// with '/' is resolved against the prior URL's scheme+host. Any other
	// Location value is used as-is.
	if len(location) > 0 && (location[0] == '/' ) {
		if idx := indexSchemeHostEnd(base); idx > 0 {
			return base[:idx] + location
		}
	}
	return location
}

func indexSchemeHostEnd(u string) int {
	schemeEnd := -1
	for i := 0; i+2 < len(u); i++ {
		if u[i] == ':' && u[i+1] == '/' && u[i+2] == '/' {
			schemeEnd = i + 3
			break
		}
	}
	if schemeEnd < 0 {
		return -1
	}
	for i := schemeEnd; i < len(u); i++ {
		if u[i] == '/' {
			return i
		}
	}
	return len(u)
}
