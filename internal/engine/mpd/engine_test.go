package mpd

import (
	"errors"
	"testing"
	"time"

	"github.com/fhs/gompd/v2/mpd"

	"github.com/lantier/resona/internal/engine"
	"github.com/lantier/resona/internal/resolver"
)

func TestEngineState(t *testing.T) {
	tests := []struct {
		mpdState string
		want     engine.State
	}{
		{"play", engine.StateReady},
		{"pause", engine.StateReady},
		{"stop", engine.StateIdle},
		{"", engine.StateIdle},
	}
	for _, tt := range tests {
		if got := engineState(tt.mpdState); got != tt.want {
			t.Errorf("engineState(%q) = %v, want %v", tt.mpdState, got, tt.want)
		}
	}
}

func TestRepeatFlags(t *testing.T) {
	tests := []struct {
		mode           engine.RepeatMode
		repeat, single bool
	}{
		{engine.RepeatOff, false, false},
		{engine.RepeatOne, true, true},
		{engine.RepeatAll, true, false},
	}
	for _, tt := range tests {
		repeat, single := repeatFlags(tt.mode)
		if repeat != tt.repeat || single != tt.single {
			t.Errorf("repeatFlags(%v) = (%v, %v), want (%v, %v)",
				tt.mode, repeat, single, tt.repeat, tt.single)
		}
	}
}

func TestClassifyPlayError(t *testing.T) {
	stale := classifyPlayError(errors.New("Failed to open \"https://srv/rest/stream?id=1\""))
	if !errors.Is(stale, resolver.ErrStaleSource) {
		t.Errorf("open failure should map to a stale source, got %v", stale)
	}

	denied := classifyPlayError(errors.New("access denied"))
	if !errors.Is(denied, resolver.ErrStaleSource) {
		t.Errorf("access denial should map to a stale source, got %v", denied)
	}

	other := classifyPlayError(errors.New("connection refused"))
	if errors.Is(other, resolver.ErrStaleSource) {
		t.Error("a dead server must not look like a stale source")
	}
	if classifyPlayError(nil) != nil {
		t.Error("nil error must stay nil")
	}
}

func TestAttrHelpers(t *testing.T) {
	attrs := mpd.Attrs{"elapsed": "12.5", "song": "3"}

	if got := attrSeconds(attrs, "elapsed"); got != 12500*time.Millisecond {
		t.Errorf("attrSeconds = %v", got)
	}
	if got := attrSeconds(attrs, "missing"); got != 0 {
		t.Errorf("attrSeconds on missing key = %v, want 0", got)
	}
	if got := attrInt(attrs, "song", -1); got != 3 {
		t.Errorf("attrInt = %d", got)
	}
	if got := attrInt(attrs, "missing", -1); got != -1 {
		t.Errorf("attrInt fallback = %d, want -1", got)
	}
}
