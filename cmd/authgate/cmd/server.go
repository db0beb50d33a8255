package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.etcd.io/bbolt"

	"github.com/moodmash/authgate/api"
	"github.com/moodmash/authgate/challenge"
	"github.com/moodmash/authgate/limiter"
	bboltstorage "github.com/moodmash/authgate/storage/bbolt"
)

var (
	port           int
	dataDir        string
	redisURL       string
	appURL         string
	rpID           string
	trustedProxies string
	idleTimeout    time.Duration
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the authentication service server",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

		if redisURL == "" {
			redisURL = os.Getenv("AUTHGATE_REDIS_URL")
		}
		if appURL == "" {
			appURL = os.Getenv("AUTHGATE_APP_URL")
		}
		if appURL == "" {
			appURL = "http://localhost:3000"
		}
		parsedApp, err := url.Parse(appURL)
		if err != nil {
			return fmt.Errorf("invalid app URL %q: %w", appURL, err)
		}
		if rpID == "" {
			rpID = parsedApp.Hostname()
		}
		if rpID == "" {
			rpID = "localhost"
		}

		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		db, err := bbolt.Open(filepath.Join(dataDir, "authgate.db"), 0o600,
			&bbolt.Options{Timeout: time.Second})
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		repo, err := bboltstorage.NewRepository(db)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}

		sessions, err := api.NewBoltSessionStore(db, idleTimeout)
		if err != nil {
			return fmt.Errorf("failed to initialize session store: %w", err)
		}
		defer sessions.Close()

		// Redis shares rate-limit counters and ceremony state across
		// instances; without it both live in process memory.
		var (
			counters   limiter.CounterStore
			challenges challenge.Store
		)
		if redisURL != "" {
			opts, err := redis.ParseURL(redisURL)
			if err != nil {
				return fmt.Errorf("invalid redis URL: %w", err)
			}
			client := redis.NewClient(opts)
			defer client.Close()
			if err := client.Ping(cmd.Context()).Err(); err != nil {
				return fmt.Errorf("failed to reach redis: %w", err)
			}
			counters = limiter.NewRedisStore(client)
			challenges = challenge.NewRedisStore(client)
			logger.Info("using redis for rate limits and ceremony state")
		} else {
			counters = limiter.NewMemoryStore()
			challenges = challenge.NewMemoryStore()
			logger.Info("using in-memory rate limits and ceremony state; single instance only")
		}

		wa, err := api.NewWebAuthn(rpID, "MoodMash",
			[]string{parsedApp.Scheme + "://" + parsedApp.Host})
		if err != nil {
			return fmt.Errorf("failed to configure webauthn: %w", err)
		}

		opts := []api.Option{
			api.WithLogger(logger),
			api.WithSessionStore(sessions),
			api.WithAlertFunc(func(ev api.AlertEvent) {
				logger.Warn("anomaly detected",
					slog.String("type", string(ev.Type)),
					slog.String("message", ev.Message),
					slog.Int("count", ev.Count),
					slog.Int("threshold", ev.Threshold))
			}),
		}
		if trustedProxies != "" {
			prefixes, err := api.ParseTrustedProxies(trustedProxies)
			if err != nil {
				return fmt.Errorf("invalid trusted proxies: %w", err)
			}
			opts = append(opts, api.WithTrustedProxies(prefixes))
		}

		a := api.New(repo, limiter.New(counters, logger), challenges, wa, opts...)

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		r.Mount("/api/v1", a.Router())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		logger.Info("server started",
			slog.Int("port", port),
			slog.String("data_dir", dataDir),
			slog.String("rp_id", rpID))

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("shutting down", slog.String("signal", sig.String()))
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	serverCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for persistent data")
	serverCmd.Flags().StringVar(&redisURL, "redis-url", "", "Redis URL for shared rate limits and ceremony state (env AUTHGATE_REDIS_URL)")
	serverCmd.Flags().StringVar(&appURL, "app-url", "", "Public application URL, used as the WebAuthn origin (env AUTHGATE_APP_URL)")
	serverCmd.Flags().StringVar(&rpID, "rp-id", "", "WebAuthn relying party ID (defaults to the app URL hostname)")
	serverCmd.Flags().StringVar(&trustedProxies, "trusted-proxies", "", "Comma-separated CIDRs allowed to set forwarded-for headers")
	serverCmd.Flags().DurationVar(&idleTimeout, "session-idle-timeout", 0, "Idle timeout for sessions (0 disables)")
}
