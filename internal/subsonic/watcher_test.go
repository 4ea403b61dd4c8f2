package subsonic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/lantier/resona/internal/session"
)

func TestWatcher_EmitsConfirmedToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		okResponse(w)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "alice", "secret", "resona")
	provider := session.NewChannelProvider(false)
	w := NewSessionWatcher(c, provider, 0)

	w.check(context.Background())

	select {
	case tok := <-provider.Tokens():
		if string(tok) != c.Token() {
			t.Errorf("emitted %q, want current token %q", tok, c.Token())
		}
	default:
		t.Fatal("no token emitted")
	}
}

func TestWatcher_RotatesOnRejectedToken(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			authFailure(w)
			return
		}
		okResponse(w)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "alice", "secret", "resona")
	stale := c.Token()
	provider := session.NewChannelProvider(false)
	w := NewSessionWatcher(c, provider, 0)

	w.check(context.Background())

	select {
	case tok := <-provider.Tokens():
		if !tok.Valid() {
			t.Fatal("rotated token must be valid")
		}
		if string(tok) == stale {
			t.Error("watcher must emit the rotated token, not the rejected one")
		}
	default:
		t.Fatal("no token emitted")
	}
}

func TestWatcher_EmitsInvalidWhenReauthFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authFailure(w)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "alice", "wrong-password", "resona")
	provider := session.NewChannelProvider(false)
	w := NewSessionWatcher(c, provider, 0)

	w.check(context.Background())

	select {
	case tok := <-provider.Tokens():
		if tok.Valid() {
			t.Errorf("emitted %q, want invalid token", tok)
		}
	default:
		t.Fatal("no token emitted")
	}
}

func TestWatcher_StaysQuietOnTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "alice", "secret", "resona")
	provider := session.NewChannelProvider(false)
	w := NewSessionWatcher(c, provider, 0)

	w.check(context.Background())

	select {
	case tok := <-provider.Tokens():
		t.Errorf("unexpected emission %q on a transport failure", tok)
	default:
	}
}
