package idp

import (
	"context"

	"github.com/bullishbrief/briefauth/identity"
)

// Transport runs a Provider in-process behind identity.Transport. A
// successful verify is published to the session store.
type Transport struct {
	provider *Provider
	sessions identity.SessionPublisher
}

var _ identity.Transport = (*Transport)(nil)

func NewTransport(provider *Provider, sessions identity.SessionPublisher) *Transport {
	return &Transport{provider: provider, sessions: sessions}
}

func (t *Transport) SendOTP(ctx context.Context, req identity.SendRequest) error {
	if t == nil || t.provider == nil {
		return identity.ErrNotConfigured
	}
	return t.provider.SendOTP(ctx, req)
}

func (t *Transport) VerifyOTP(ctx context.Context, req identity.VerifyRequest) error {
	if t == nil || t.provider == nil {
		return identity.ErrNotConfigured
	}
	session, err := t.provider.VerifyOTP(ctx, req)
	if err != nil {
		return err
	}
	if t.sessions != nil {
		t.sessions.Publish(session)
	}
	return nil
}
