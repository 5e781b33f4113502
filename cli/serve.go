package cli

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/lead-engine/api"
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 0, "HTTP server port; overrides config")
	serveCmd.Flags().Bool("no-sweeper", false, "Do not start the background expiry sweep")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the expiry sweeper",
	Long: `Start the HTTP API. On SIGINT/SIGTERM the server stops accepting
connections, waits up to 30s for active requests, stops the sweeper and
closes the database.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}
	if off, _ := cmd.Flags().GetBool("no-sweeper"); off {
		cfg.Sweeper.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	engine, store, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	handler := api.NewHandler(engine, store, cfg.Marketplace.MinCancelReason)
	router := api.NewRouter(handler, cfg.Server.CORSOrigins)

	scheduler := api.NewExpiryScheduler(engine)
	scheduler.CheckInterval = cfg.SweepInterval()
	scheduler.Enabled = cfg.Sweeper.Enabled
	scheduler.Start()
	defer scheduler.Stop()

	readTimeout, writeTimeout := cfg.Timeouts()
	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("[Server] Listening on %s (db=%s, max_claims=%d)",
			cfg.Addr(), cfg.Database.Path, cfg.Marketplace.MaxClaims)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return err
	case <-quit:
	}

	log.Println("[Server] Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return err
	}

	log.Println("[Server] Stopped")
	return nil
}
