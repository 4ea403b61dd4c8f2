package subsonic

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lantier/resona/internal/session"
)

const defaultPingInterval = 30 * time.Second

// SessionWatcher verifies the session token against the server and feeds the
// token provider: a confirmed token is emitted as valid, a rejected one is
// rotated and re-verified, and a token the server keeps rejecting is emitted
// as invalid.
type SessionWatcher struct {
	client   *Client
	provider *session.ChannelProvider
	interval time.Duration
}

// NewSessionWatcher creates a watcher. interval <= 0 selects the default.
func NewSessionWatcher(client *Client, provider *session.ChannelProvider, interval time.Duration) *SessionWatcher {
	if interval <= 0 {
		interval = defaultPingInterval
	}
	return &SessionWatcher{client: client, provider: provider, interval: interval}
}

// Run verifies the token immediately and then on every interval tick, until
// ctx is cancelled.
func (w *SessionWatcher) Run(ctx context.Context) {
	w.check(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

func (w *SessionWatcher) check(ctx context.Context) {
	err := w.client.Ping(ctx)
	if err == nil {
		w.provider.Emit(session.Token(w.client.Token()))
		return
	}

	if !IsAuthError(err) {
		// The server is unreachable; that says nothing about the token.
		log.Warn().Err(err).Msg("Server ping failed")
		return
	}

	log.Info().Msg("Session token rejected, rotating")
	w.client.RotateToken()
	if err := w.client.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("Re-authentication failed")
		w.provider.Emit("")
		return
	}
	w.provider.Emit(session.Token(w.client.Token()))
}
