package webhook

import (
	"net/http"
	"time"
)

// DeliveryResult describes one delivery attempt.
type DeliveryResult struct {
	Success    bool
	StatusCode int // 0 when the request never got a response
	Duration   time.Duration
	Body       string // truncated response body, for operator logs
}

type sendOptions struct {
	timeout         time.Duration
	headers         map[string]string
	signatureSecret string
	eventID         string
}

// SendOption configures a single Deliver call.
type SendOption func(*sendOptions)

// DefaultTimeout bounds a single attempt so shutdown never waits on a slow endpoint.
const DefaultTimeout = 30 * time.Second

func defaultSendOptions() *sendOptions {
	return &sendOptions{
		timeout: DefaultTimeout,
		headers: make(map[string]string),
	}
}

func WithTimeout(timeout time.Duration) SendOption {
	return func(o *sendOptions) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

func WithHeader(key, value string) SendOption {
	return func(o *sendOptions) {
		if key != "" && value != "" {
			o.headers[key] = value
		}
	}
}

// WithSignature signs the payload and adds the X-Webhook-* signature headers.
func WithSignature(secret string) SendOption {
	return func(o *sendOptions) {
		o.signatureSecret = secret
	}
}

// WithEventID sets X-Webhook-ID so receivers can deduplicate redeliveries.
func WithEventID(id string) SendOption {
	return func(o *sendOptions) {
		o.eventID = id
	}
}

// Option configures a Deliverer.
type Option func(*Deliverer)

func WithHTTPClient(client *http.Client) Option {
	return func(d *Deliverer) {
		if client != nil {
			d.client = client
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(d *Deliverer) {
		if ua != "" {
			d.userAgent = ua
		}
	}
}
