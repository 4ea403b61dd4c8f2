// Package main is the entry point for the resona playback daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/adrg/xdg"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lantier/resona/internal/config"
	"github.com/lantier/resona/internal/download"
	"github.com/lantier/resona/internal/engine"
	enginempd "github.com/lantier/resona/internal/engine/mpd"
	"github.com/lantier/resona/internal/orchestrator"
	"github.com/lantier/resona/internal/queue"
	"github.com/lantier/resona/internal/resolver"
	"github.com/lantier/resona/internal/scrobble"
	"github.com/lantier/resona/internal/session"
	"github.com/lantier/resona/internal/song"
	"github.com/lantier/resona/internal/state"
	"github.com/lantier/resona/internal/subsonic"
)

func main() {
	debug := flag.Bool("debug", false, "Enable debug logging")
	lastfmAuth := flag.Bool("lastfm-auth", false, "Run the Last.fm authorization flow and exit")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if *lastfmAuth {
		if err := runLastfmAuth(cfg); err != nil {
			log.Fatal().Err(err).Msg("Last.fm authorization failed")
		}
		return
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("Daemon failed")
	}
}

func run(cfg *config.Config) error {
	if cfg.Server.URL == "" || cfg.Server.Username == "" {
		return fmt.Errorf("server url and username must be configured")
	}
	password := os.Getenv("RESONA_PASSWORD")
	if password == "" {
		return fmt.Errorf("RESONA_PASSWORD is not set")
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = filepath.Join(xdg.DataHome, "resona")
	}
	downloadDir := filepath.Join(dataDir, "downloads")
	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}

	st, err := state.OpenAt(filepath.Join(dataDir, "resona.db"))
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer st.Close()

	client := subsonic.NewClient(cfg.Server.URL, cfg.Server.Username, password, cfg.Server.ClientName)

	qm := queue.NewManager()
	defer qm.Close()

	downloads := download.New(st.DB(), downloadDir, client, func(s song.Song) (string, error) {
		return resolver.StampURL(s.SongURL, client.Token(), cfg.Server.ClientName)
	})
	res := resolver.New(downloads, cfg.Server.ClientName)

	eng, err := enginempd.New(cfg.Mpd.Address, cfg.Mpd.Password)
	if err != nil {
		return fmt.Errorf("connect playback engine: %w", err)
	}
	defer eng.Close()

	pb := cfg.GetPlaybackConfig()
	adapter := engine.NewAdapter(eng, qm, pb.ProgressInterval())

	orch := orchestrator.New(orchestrator.Deps{
		Queue:     qm,
		Adapter:   adapter,
		Resolver:  res,
		Downloads: downloads,
		Scrobbler: newScrobbler(cfg),
		Ratings:   client,
	}, orchestrator.Config{
		PlaybackErrorRetries: pb.ErrorRetries,
		StopDebounce:         pb.StopDebounce(),
		SearchDebounce:       pb.SearchDebounce(),
	})

	provider := session.NewChannelProvider(cfg.ResetOnNewSession())
	syn := session.NewSynchronizer(qm, provider, st, orch.SessionHooks())
	orch.AttachSession(syn)
	syn.Restore()

	watcher := subsonic.NewSessionWatcher(client, provider, 0)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go adapter.Run(ctx)
	go syn.Run(ctx)
	go orch.Run(ctx)
	go watcher.Run(ctx)

	log.Info().
		Str("server", cfg.Server.URL).
		Str("mpd", cfg.Mpd.Address).
		Str("data_dir", dataDir).
		Msg("Resona running")

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	orch.Close()
	return nil
}

// newScrobbler returns a ready Last.fm client, or nil when scrobbling is not
// fully configured.
func newScrobbler(cfg *config.Config) orchestrator.Scrobbler {
	if !cfg.HasLastfmConfig() || cfg.Lastfm.SessionKey == "" {
		return nil
	}
	c := scrobble.New(cfg.Lastfm.APIKey, cfg.Lastfm.APISecret)
	c.SetSessionKey(cfg.Lastfm.SessionKey)
	return c
}

// runLastfmAuth walks the desktop authorization flow and prints the session
// key to store under [lastfm] session_key.
func runLastfmAuth(cfg *config.Config) error {
	if !cfg.HasLastfmConfig() {
		return fmt.Errorf("lastfm api_key and api_secret must be configured")
	}
	c := scrobble.New(cfg.Lastfm.APIKey, cfg.Lastfm.APISecret)

	token, err := c.GetToken()
	if err != nil {
		return err
	}

	srv, err := scrobble.StartAuthServer()
	if err != nil {
		return err
	}
	defer srv.Shutdown()

	authURL := c.GetAuthURL(token)
	fmt.Printf("Authorize resona in your browser:\n  %s\n", authURL)
	if err := scrobble.OpenBrowser(authURL); err != nil {
		log.Warn().Err(err).Msg("Could not open browser, use the URL above")
	}

	select {
	case <-srv.TokenChan():
	case <-time.After(5 * time.Minute):
		return fmt.Errorf("authorization timed out")
	}

	username, sessionKey, err := c.GetSession(token)
	if err != nil {
		return err
	}
	fmt.Printf("Authorized as %s.\nAdd to your config.toml:\n\n[lastfm]\nsession_key = %q\n", username, sessionKey)
	return nil
}
