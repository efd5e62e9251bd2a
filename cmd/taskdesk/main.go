package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/nhle/taskdesk/internal/api"
	"github.com/nhle/taskdesk/internal/app"
	"github.com/nhle/taskdesk/internal/credential"
	"github.com/nhle/taskdesk/internal/guard"
	"github.com/nhle/taskdesk/internal/logger"
	"github.com/nhle/taskdesk/internal/metrics"
	"github.com/nhle/taskdesk/internal/model"
	"github.com/nhle/taskdesk/internal/session"
	"github.com/nhle/taskdesk/internal/store"
	appsync "github.com/nhle/taskdesk/internal/sync"
	"github.com/nhle/taskdesk/internal/theme"
)

// startupCheckTimeout bounds the session restore before the UI opens.
const startupCheckTimeout = 10 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "taskdesk: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	// A missing .env file is fine.
	_ = godotenv.Load()

	flags := pflag.NewFlagSet("taskdesk", pflag.ContinueOnError)
	configPath := flags.String("config", model.DefaultConfigPath(), "path to the YAML config file")
	flags.String("base-url", "", "web application base URL (server.base_url)")
	flags.String("log-level", "", "log level: debug, info, warn, error (log.level)")
	flags.String("credential-backend", "", "token store: keyring or redis (auth.credential_backend)")
	flags.Int("poll-interval", 0, "unread counter refresh in seconds (notifications.poll_interval_sec)")
	flags.String("metrics-listen", "", "serve /metrics on this address (metrics.listen)")
	writeConfig := flags.Bool("write-config", false, "write the effective config to --config and exit")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	v := model.NewViper()
	for key, flag := range map[string]string{
		"server.base_url":                 "base-url",
		"log.level":                       "log-level",
		"auth.credential_backend":         "credential-backend",
		"notifications.poll_interval_sec": "poll-interval",
		"metrics.listen":                  "metrics-listen",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("binding flag %s: %w", flag, err)
		}
	}

	cfg, err := model.LoadConfigWith(v, *configPath)
	if err != nil {
		return err
	}

	if *writeConfig {
		if err := model.SaveConfig(*configPath, cfg); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", *configPath)
		return nil
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	theme.Apply(cfg.Display.Theme)

	log.Info("starting",
		zap.String("base_url", cfg.Server.BaseURL),
		zap.String("credential_backend", cfg.Auth.CredentialBackend))

	creds, closeCreds, err := openCredentials(cfg.Auth)
	if err != nil {
		return err
	}
	defer closeCreds()

	if err := os.MkdirAll(filepath.Dir(cfg.Cache.Path), 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	cache, err := store.NewSQLiteStore(cfg.Cache.Path)
	if err != nil {
		return fmt.Errorf("opening notification cache: %w", err)
	}
	defer cache.Close()

	collector := metrics.New()
	if cfg.Metrics.Listen != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           metricsMux(collector),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server stopped", zap.Error(err))
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
		log.Info("serving metrics", zap.String("listen", cfg.Metrics.Listen))
	}

	client, err := api.New(api.Options{
		BaseURL:   cfg.Server.BaseURL,
		APIPrefix: cfg.Server.APIPrefix,
		Timeout:   time.Duration(cfg.Server.TimeoutSec) * time.Second,
		Logger:    log,
		Metrics:   collector,
	})
	if err != nil {
		return err
	}

	router := guard.NewRouter(guard.RouteNotifications)
	sess := session.New(session.Options{
		Credentials: creds,
		API:         client,
		Navigator:   router,
		Cookies:     client,
		Logger:      log,
		LoginRoute:  guard.RouteLogin,
		StorageKey:  cfg.Auth.StorageKey,
	})
	client.Bind(sess, sess.HandleUnauthorized)

	g := guard.New(guard.Options{
		Router:  router,
		Session: sess,
		Policies: map[string]guard.Policy{
			guard.RouteSettings: guard.RequireRoles(matchMode(cfg.Access), cfg.Access.SettingsRoles...),
		},
		LoginRoute:   guard.RouteLogin,
		LandingRoute: guard.RouteNotifications,
		Logger:       log,
	})
	stopGuard := g.Watch()
	defer stopGuard()

	poller := appsync.New(client, appsync.Options{
		Interval: time.Duration(cfg.Notifications.PollIntervalSec) * time.Second,
		Store:    cache,
		Logger:   log,
		Metrics:  collector,
	})
	poller.BindSession(sess)
	defer poller.Close()

	ctx, cancel := context.WithTimeout(context.Background(), startupCheckTimeout)
	if err := sess.CheckAuth(ctx); err != nil {
		log.Info("no session restored", zap.Error(err))
	}
	cancel()

	root := app.New(app.Deps{
		Session:  sess,
		Router:   router,
		Guard:    g,
		Poller:   poller,
		Settings: client,
		Logger:   log,
	})

	p := tea.NewProgram(root, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running UI: %w", err)
	}
	return nil
}

// openCredentials opens the configured durable token store.
func openCredentials(cfg model.AuthConfig) (credential.Store, func(), error) {
	switch cfg.CredentialBackend {
	case model.CredentialBackendRedis:
		rs, err := credential.OpenRedis(context.Background(), cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return rs, func() { _ = rs.Close() }, nil
	default:
		ks, err := credential.OpenKeyring()
		if err != nil {
			return nil, nil, err
		}
		return ks, func() {}, nil
	}
}

func matchMode(cfg model.AccessConfig) guard.MatchMode {
	if cfg.CaseInsensitiveRoles {
		return guard.MatchFold
	}
	return guard.MatchExact
}

func metricsMux(c *metrics.Collector) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	return mux
}
