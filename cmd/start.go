/*
Copyright © 2024 xeBook
*/
package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"

	"github.com/xebook/readium-encrypt/api"
	"github.com/xebook/readium-encrypt/api/middleware/auth"
	"github.com/xebook/readium-encrypt/internal/conf"
)

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the encryption HTTP service",
	RunE:  start,
}

func init() {
	rootCmd.AddCommand(startCmd)

	startCmd.Flags().String("addr", "", "listen address (default from server.addr)")
}

func start(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	comp, err := buildPipeline(ctx, cfg, true)
	if err != nil {
		slog.Error("could not build encryption pipeline", slog.String("error", err.Error()))
		return err
	}
	defer func() { _ = comp.Close() }()

	r, err := newRouter(ctx, cfg, comp)
	if err != nil {
		return err
	}

	for _, route := range r.Routes() {
		slog.Info("Loaded Root route", slog.String("pattern", route.Pattern))

		if route.SubRoutes != nil {
			for _, subRoute := range route.SubRoutes.Routes() {
				slog.Info("Loaded Subroute route", slog.String("pattern", subRoute.Pattern))
			}
		}
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stopChan := make(chan os.Signal, 1)

	signal.Notify(stopChan, os.Interrupt, syscall.SIGTERM)

	// Start the HTTP server in a goroutine
	go func() {
		// If ListenAndServe returns an error and it's not a server closed error,
		// then log it as a fatal error.
		slog.Info("Starting server", slog.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ListenAndServe()", slog.String("error", err.Error()))
			stopChan <- syscall.SIGTERM
		}
	}()

	<-stopChan
	slog.Info("Shutting down server...")

	// Create a context with a 15-second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	// Make sure to cancel the context when done
	defer cancel()

	// Initiate graceful shutdown
	// If it doesn't complete in 15 seconds, it will be forcefully stopped
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server Shutdown Failed", slog.String("error", err.Error()))
		return err
	}
	slog.Info("Server stopped gracefully")
	return nil
}

func newRouter(ctx context.Context, c *conf.Config, comp *components) (chi.Router, error) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: c.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Job-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	var lister api.ResourceLister
	if comp.db != nil {
		lister = comp.db
	}
	routes := api.LoadEncryptRoutes(comp.pipeline, lister, c.Server.SourceDir, slog.Default())

	if c.Server.OIDCIssuer == "" {
		r.Mount("/api", routes)
		return r, nil
	}
	verifier, err := auth.NewVerifier(ctx, c.Server.OIDCIssuer, c.Server.OIDCClientID)
	if err != nil {
		return nil, err
	}
	r.Group(func(r chi.Router) {
		r.Use(auth.OidcAuth(verifier))
		r.Mount("/api", routes)
	})
	return r, nil
}
