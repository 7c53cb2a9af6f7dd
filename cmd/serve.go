package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/campus-attendance/internal/config"
	"github.com/kozaktomas/campus-attendance/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the Campus Attendance HTTP API.
The API serves check-in kiosks (biometric and self marks), face registration
and the administrative endpoints for corrections, sessions and the audit log.
Administrative requests must carry the X-Actor-ID header set by the
authenticating proxy in front of this service.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
	serveCmd.Flags().Bool("warm-cache", true, "Load registered faces before accepting requests")
}

// resolveServeHostPort applies flag overrides on top of the environment.
func resolveServeHostPort(cmd *cobra.Command, cfg *config.Config) {
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	resolveServeHostPort(cmd, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Printf("Connecting to %s database...\n", cfg.Database.Driver)
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if mustGetBool(cmd, "warm-cache") {
		snap, err := a.cache.Snapshot(ctx, "")
		if err != nil {
			fmt.Printf("Warning: failed to load registered faces: %v\n", err)
		} else {
			fmt.Printf("Loaded %d registered faces\n", snap.Len())
		}
	}

	server := web.NewServer(cfg, web.Deps{
		Store:      a.store,
		Faces:      a.registrar,
		Attendance: a.attendance,
		Sessions:   a.attendance,
		Matching:   a.detector,
	}, nil)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Campus Attendance API on http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
