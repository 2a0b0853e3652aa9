package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// Deliverer posts webhook payloads. Zero value is not usable, use NewDeliverer.
type Deliverer struct {
	client    *http.Client
	userAgent string
}

func NewDeliverer(opts ...Option) *Deliverer {
	d := &Deliverer{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		userAgent: "estatecrm-webhook/1.0",
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deliver makes exactly one POST of payload to endpoint. A nil error means
// the endpoint answered 2xx. Any other outcome returns an error wrapping
// ErrUnexpectedStatus, ErrTimeout or ErrTemporaryFailure alongside the result.
func (d *Deliverer) Deliver(ctx context.Context, endpoint string, payload []byte, opts ...SendOption) (DeliveryResult, error) {
	if err := validate(endpoint, payload); err != nil {
		return DeliveryResult{}, err
	}

	options := defaultSendOptions()
	for _, opt := range opts {
		opt(options)
	}

	reqCtx, cancel := context.WithTimeout(ctx, options.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return DeliveryResult{}, errors.Join(ErrInvalidURL, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.userAgent)
	for k, v := range options.headers {
		req.Header.Set(k, v)
	}

	if options.signatureSecret != "" {
		sig, err := SignPayload(options.signatureSecret, options.eventID, payload)
		if err != nil {
			return DeliveryResult{}, err
		}
		for k, v := range sig.Headers() {
			req.Header.Set(k, v)
		}
	} else if options.eventID != "" {
		req.Header.Set(HeaderID, options.eventID)
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	result := DeliveryResult{Duration: time.Since(start)}
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return result, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return result, fmt.Errorf("%w: %w", ErrTemporaryFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	result.StatusCode = resp.StatusCode
	result.Success = resp.StatusCode >= 200 && resp.StatusCode < 300

	// 64KB is plenty for an error excerpt
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	result.Body = excerpt(body)

	if !result.Success {
		return result, fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, result.Body)
	}
	return result, nil
}

func validate(endpoint string, payload []byte) error {
	if endpoint == "" {
		return fmt.Errorf("%w: URL is required", ErrInvalidURL)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: only http and https schemes are supported", ErrInvalidURL)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidURL)
	}
	if len(payload) == 0 {
		return fmt.Errorf("%w: payload cannot be empty", ErrInvalidPayload)
	}
	return nil
}

const maxExcerpt = 200

// excerpt flattens and truncates a response body for log-safe storage.
// The result is valid UTF-8 and free of NUL bytes, so it fits a TEXT column.
func excerpt(body []byte) string {
	s := Sanitize(string(body))
	s = strings.ReplaceAll(strings.TrimSpace(s), "\n", " ")
	if len(s) <= maxExcerpt {
		return s
	}
	cut := maxExcerpt
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// Sanitize replaces invalid UTF-8 sequences and drops NUL bytes.
func Sanitize(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	return strings.ReplaceAll(s, "\x00", "")
}
