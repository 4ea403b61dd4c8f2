// Package session reacts to authentication token changes. It owns neither
// the token nor the queue: it watches the externally supplied token stream
// and decides whether the queue must be reset, restored from a snapshot, or
// left alone.
package session

// Token is an opaque server credential. The empty token means
// unauthenticated; expiry is only ever observed as a token change.
type Token string

// Valid reports whether the token represents an authenticated session.
func (t Token) Valid() bool {
	return t != ""
}

// Provider supplies the session token stream and the session policy.
type Provider interface {
	// Tokens emits the current token on every change. The channel is
	// closed when the provider shuts down.
	Tokens() <-chan Token

	// ResetOnNewSession reports whether a fresh session should discard the
	// queue instead of restoring it.
	ResetOnNewSession() bool
}

// ChannelProvider is a Provider fed through an explicit channel. Used by
// hosts that refresh tokens themselves, and by tests.
type ChannelProvider struct {
	tokens  chan Token
	resetOn bool
}

// NewChannelProvider creates a provider with a small emission buffer.
func NewChannelProvider(resetOnNewSession bool) *ChannelProvider {
	return &ChannelProvider{
		tokens:  make(chan Token, 8),
		resetOn: resetOnNewSession,
	}
}

// Emit publishes a token change.
func (p *ChannelProvider) Emit(t Token) {
	p.tokens <- t
}

// Close closes the token stream.
func (p *ChannelProvider) Close() {
	close(p.tokens)
}

func (p *ChannelProvider) Tokens() <-chan Token {
	return p.tokens
}

func (p *ChannelProvider) ResetOnNewSession() bool {
	return p.resetOn
}
