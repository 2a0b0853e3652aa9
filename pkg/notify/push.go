package notify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

type messagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

type messagingFactory func(ctx context.Context) (messagingClient, error)

// FCMPush sends push notifications through Firebase Cloud Messaging.
// The Firebase app is created on first use, once per process, and torn down
// by Close.
type FCMPush struct {
	factory messagingFactory

	ready  atomic.Bool
	mu     sync.Mutex
	client messagingClient
}

// NewFCMPush returns a lazily initialised push sender.
func NewFCMPush(cfg Config) (*FCMPush, error) {
	if !cfg.PushEnabled() {
		return nil, fmt.Errorf("%w: firebase credentials file is required", ErrMissingCredentials)
	}

	var fbCfg *firebase.Config
	if cfg.FirebaseProjectID != "" {
		fbCfg = &firebase.Config{ProjectID: cfg.FirebaseProjectID}
	}
	credentials := cfg.FirebaseCredentialsFile

	return newFCMPush(func(ctx context.Context) (messagingClient, error) {
		app, err := firebase.NewApp(ctx, fbCfg, option.WithCredentialsFile(credentials))
		if err != nil {
			return nil, err
		}
		return app.Messaging(ctx)
	}), nil
}

func newFCMPush(factory messagingFactory) *FCMPush {
	return &FCMPush{factory: factory}
}

func (p *FCMPush) messaging(ctx context.Context) (messagingClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}

	client, err := p.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase messaging: %w", err)
	}
	p.client = client
	p.ready.Store(true)
	return client, nil
}

// SendPush delivers a single notification to token.
func (p *FCMPush) SendPush(ctx context.Context, token, title, body string, data map[string]string) error {
	client, err := p.messaging(ctx)
	if err != nil {
		return err
	}

	_, err = client.Send(ctx, &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
	})
	return err
}

// Close drops the Firebase client. A later SendPush initialises a new one.
func (p *FCMPush) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.client = nil
	p.ready.Store(false)
	return nil
}

// Initialized reports whether the Firebase client has been created.
func (p *FCMPush) Initialized() bool {
	return p.ready.Load()
}
