// Command echokit-demo serves a demonstration voice skill: a hello-world
// intent plus an audio playlist, backed by a selectable stream-state
// cache.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/echokit/echokit/ask"
	"github.com/echokit/echokit/streamcache"
	"github.com/echokit/echokit/streamcache/drivers"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "echokit-demo",
		Short:         "Demonstration voice skill server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd := &cobra.Command{
		Use:           "serve",
		Short:         "Serve the demo skill webhook",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	serveCmd.Flags().String("addr", ":8080", "Listen address")
	serveCmd.Flags().String("route", "/", "Webhook POST route")
	serveCmd.Flags().StringSlice("app-id", nil, "Allowed application ids (repeatable)")
	serveCmd.Flags().Bool("no-verify", false, "Disable request verification (local testing only)")
	serveCmd.Flags().Bool("no-timestamp-check", false, "Keep signature checks but skip the timestamp gate")
	serveCmd.Flags().String("cache", "memory", "Stream cache backend: memory, sqlite, redis")
	serveCmd.Flags().String("sqlite-path", "streams.db", "SQLite database path for --cache=sqlite")
	serveCmd.Flags().String("redis-addr", "localhost:6379", "Redis address for --cache=redis")
	serveCmd.Flags().String("templates", "", "Optional YAML file with speech templates")
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	addr, _ := flags.GetString("addr")
	route, _ := flags.GetString("route")
	appIDs, _ := flags.GetStringSlice("app-id")
	noVerify, _ := flags.GetBool("no-verify")
	noTimestamp, _ := flags.GetBool("no-timestamp-check")
	templatesPath, _ := flags.GetString("templates")

	logger := log.New(os.Stderr, "", log.LstdFlags)

	cache, cleanup, err := openCache(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	opts := []ask.Option{
		ask.WithRoute(route),
		ask.WithStreamCache(cache),
		ask.WithLogger(logger),
	}
	if len(appIDs) > 0 {
		opts = append(opts, ask.WithApplicationIDs(appIDs...))
	}
	if noVerify {
		opts = append(opts, ask.WithoutVerification())
	}
	if noTimestamp {
		opts = append(opts, ask.WithoutTimestampCheck())
	}

	skill := ask.New(opts...)
	if err := registerDemo(skill, templatesPath, logger); err != nil {
		return err
	}

	mux := http.NewServeMux()
	skill.Register(mux)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()
	logger.Printf("[Demo] serving on %s%s", addr, route)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		logger.Printf("[Demo] received %v, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

// openCache builds the stream cache selected by --cache and returns a
// cleanup for backends holding resources.
func openCache(cmd *cobra.Command) (streamcache.Store, func(), error) {
	backend, _ := cmd.Flags().GetString("cache")
	switch backend {
	case "memory":
		return drivers.NewMemory(), func() {}, nil
	case "sqlite":
		path, _ := cmd.Flags().GetString("sqlite-path")
		store, err := drivers.OpenSQLite(cmd.Context(), path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite cache: %w", err)
		}
		return store, func() { store.Close() }, nil
	case "redis":
		addr, _ := cmd.Flags().GetString("redis-addr")
		client := redis.NewClient(&redis.Options{Addr: addr})
		store := drivers.NewRedis(client, 24*time.Hour)
		return store, func() { client.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown cache backend %q", backend)
}
