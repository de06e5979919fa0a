// Package main provides the entry point for the ChatFlow backend. The server
// exposes the chat streaming, OAuth, model discovery, session tree, and sync
// endpoints consumed by the ChatFlow UI.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/chatflow-app/chatflow/internal/api"
	"github.com/chatflow-app/chatflow/internal/auth"
	agauth "github.com/chatflow-app/chatflow/internal/auth/antigravity"
	geminiauth "github.com/chatflow-app/chatflow/internal/auth/gemini"
	"github.com/chatflow-app/chatflow/internal/config"
	"github.com/chatflow-app/chatflow/internal/logging"
	"github.com/chatflow-app/chatflow/internal/store"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// geminiLoginScopes covers the Cloud Code API plus basic profile info.
var geminiLoginScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

const stateDBName = "state.db"

const persistInterval = 30 * time.Second

func main() {
	fmt.Printf("ChatFlow Server Version: %s, Commit: %s, BuiltAt: %s\n", Version, Commit, BuildDate)

	var configPath string
	var geminiLogin bool
	var antigravityLogin bool
	var noBrowser bool
	var showVersion bool

	flag.StringVar(&configPath, "config", "config.yaml", "Configure File Path")
	flag.BoolVar(&geminiLogin, "gemini-login", false, "Login to Gemini using OAuth")
	flag.BoolVar(&antigravityLogin, "antigravity-login", false, "Login to Antigravity using OAuth")
	flag.BoolVar(&noBrowser, "no-browser", false, "Don't open browser automatically for OAuth")
	flag.BoolVar(&showVersion, "version", false, "Show ChatFlow version and exit")
	flag.Parse()

	if showVersion {
		return
	}

	wd, err := os.Getwd()
	if err != nil {
		log.Errorf("failed to get working directory: %v", err)
		return
	}

	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		return
	}

	logsDir := cfg.LogsDir
	if cfg.LoggingToFile && logsDir == "" {
		logsDir = filepath.Join(wd, "logs")
	}
	if !cfg.LoggingToFile {
		logsDir = ""
	}
	if errSetup := logging.Setup(cfg.Debug, logsDir); errSetup != nil {
		log.Errorf("failed to set up logging: %v", errSetup)
		return
	}

	geminiTokens := geminiauth.NewManager()
	geminiTokens.SetCredentials(cfg.OAuth.GeminiClientID, cfg.OAuth.GeminiClientSecret)
	antigravityTokens := agauth.NewManager()
	antigravityTokens.SetCredentials(cfg.OAuth.AntigravityClientID, cfg.OAuth.AntigravityClientSecret)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if geminiLogin {
		runGeminiLogin(ctx, geminiTokens, noBrowser)
		return
	}
	if antigravityLogin {
		runAntigravityLogin(ctx, antigravityTokens, noBrowser)
		return
	}

	stateDir, err := cfg.ResolveStateDir()
	if err != nil {
		log.Errorf("failed to prepare state directory: %v", err)
		return
	}
	persister, err := store.OpenPersister(filepath.Join(stateDir, stateDBName))
	if err != nil {
		log.Errorf("failed to open state database: %v", err)
		return
	}
	defer func() {
		if errClose := persister.Close(); errClose != nil {
			log.Errorf("failed to close state database: %v", errClose)
		}
	}()

	st := store.New()
	if state, found, errLoad := persister.Load(ctx); errLoad != nil {
		log.Errorf("failed to load persisted state: %v", errLoad)
	} else if found {
		st.Restore(state)
		log.Infof("restored %d sessions from local state", len(st.Sessions()))
	}

	server := api.NewServer(cfg, st, geminiTokens, antigravityTokens)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return server.Start()
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Stop(shutdownCtx)
	})

	// Flush working state to disk periodically and once more on shutdown.
	group.Go(func() error {
		ticker := time.NewTicker(persistInterval)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if errSave := persister.Save(saveCtx, st.Snapshot()); errSave != nil {
					log.Errorf("failed to persist state on shutdown: %v", errSave)
				}
				return nil
			case <-ticker.C:
				if errSave := persister.Save(groupCtx, st.Snapshot()); errSave != nil {
					log.Errorf("failed to persist state: %v", errSave)
				}
			}
		}
	})

	group.Go(func() error {
		errWatch := config.Watch(groupCtx, configPath, func(next *config.Config) {
			geminiTokens.SetCredentials(next.OAuth.GeminiClientID, next.OAuth.GeminiClientSecret)
			antigravityTokens.SetCredentials(next.OAuth.AntigravityClientID, next.OAuth.AntigravityClientSecret)
			log.Info("configuration reloaded")
		})
		if errWatch != nil && !errors.Is(errWatch, context.Canceled) {
			log.Warnf("config watcher disabled: %v", errWatch)
		}
		return nil
	})

	log.Infof("ChatFlow server listening on port %d", cfg.Port)
	if errWait := group.Wait(); errWait != nil && !errors.Is(errWait, context.Canceled) {
		log.Errorf("server exited with error: %v", errWait)
	}
}

func runGeminiLogin(ctx context.Context, manager *geminiauth.Manager, noBrowser bool) {
	clientID, clientSecret := manager.Credentials()
	token, err := auth.RunLoginFlow(ctx, auth.LoginOptions{
		Provider:     "Gemini",
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       geminiLoginScopes,
		NoBrowser:    noBrowser,
	})
	if err != nil {
		log.Errorf("Gemini login failed: %v", err)
		return
	}
	manager.SaveTokens(token)
	log.Info("Gemini login successful, tokens saved")
}

func runAntigravityLogin(ctx context.Context, manager *agauth.Manager, noBrowser bool) {
	clientID, clientSecret := manager.Credentials()
	token, err := auth.RunLoginFlow(ctx, auth.LoginOptions{
		Provider:     "Antigravity",
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       agauth.OAuthScopes,
		NoBrowser:    noBrowser,
	})
	if err != nil {
		log.Errorf("Antigravity login failed: %v", err)
		return
	}
	manager.SaveRefreshToken(token.RefreshToken)
	log.Info("Antigravity login successful, refresh token saved")
}
