package fetcher

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
)

// HTTPEngine fetches via a single HTTP GET, conditional on ETag/
// If-Modified-Since, with SSRF validation on the initial request and
// every redirect hop (spec.md §4.2).
type HTTPEngine struct {
	client   *http.Client
	validate URLValidator
	ua       string
}

// NewHTTPEngine builds an HTTPEngine. validate defaults to ValidateURL
// when nil.
func NewHTTPEngine(validate URLValidator) *HTTPEngine {
	if validate == nil {
		validate = ValidateURL
	}
	return &HTTPEngine{
		client: &http.Client{
			Timeout: defaultTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				return validate(req.URL.String())
			},
		},
		validate: validate,
		ua:       defaultUA,
	}
}

func (e *HTTPEngine) Fetch(ctx context.Context, req Request) (*Result, error) {
	if err := e.validate(req.URL); err != nil {
		return nil, &FetchError{Kind: ErrTransport, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, &FetchError{Kind: ErrTransport, Err: err}
	}
	httpReq.Header.Set("User-Agent", e.ua)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml,application/rss+xml;q=0.9,*/*;q=0.8")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.ETag != "" {
		httpReq.Header.Set("If-None-Match", req.ETag)
	}
	if req.LastModified != "" {
		httpReq.Header.Set("If-Modified-Since", req.LastModified)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		var dnsErr *net.DNSError
		var netErr net.Error
		switch {
		case errors.As(err, &dnsErr):
			return nil, &FetchError{Kind: ErrDNS, Err: err}
		case errors.As(err, &netErr) && netErr.Timeout():
			return nil, &FetchError{Kind: ErrTimeout, Err: err}
		default:
			return nil, &FetchError{Kind: ErrTransport, Err: err}
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return &Result{StatusCode: resp.StatusCode, NotModified: true,
			ETag: resp.Header.Get("ETag"), LastMod: resp.Header.Get("Last-Modified")}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return nil, &FetchError{Kind: ErrHTTP, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status")}
	}

	body, err := readCapped(resp.Body, maxBodyBytes)
	if err != nil {
		if fe, ok := err.(*FetchError); ok {
			return nil, fe
		}
		return nil, &FetchError{Kind: ErrTransport, Err: err}
	}

	return &Result{
		Body:        body,
		ContentType: baseContentType(resp.Header.Get("Content-Type")),
		ContentHash: hashBody(body),
		StatusCode:  resp.StatusCode,
		ETag:        resp.Header.Get("ETag"),
		LastMod:     resp.Header.Get("Last-Modified"),
	}, nil
}

// baseContentType strips parameters (e.g. "; charset=utf-8") from a
// Content-Type header, returning "" for anything unparseable.
func baseContentType(header string) string {
	if header == "" {
		return ""
	}
	base, _, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return base
}

