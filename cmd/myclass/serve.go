package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/myclass/attendsync/internal/auth"
	"github.com/myclass/attendsync/internal/server"
	"github.com/myclass/attendsync/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "server",
	Short:   "Run the remote session service",
	Long: `Run the HTTP session service that myclass clients sync to.

Storage is in memory (server.store = memory) or Postgres
(server.store = postgres with server.database_url). When
server.jwt_signing_key is set, requests need a bearer token whose subject
matches the markedBy of the sessions they touch; see 'myclass token'.

Requests are rate limited per client address, shared across instances
through Redis when server.redis_addr is set.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := logSink.Logger("[server] ")
		repo, err := server.OpenRepository(ctx, server.Kind(cfg.Server.Store), cfg.Server.DatabaseURL)
		if err != nil {
			fatalf("opening %s store: %v", cfg.Server.Store, err)
		}

		var limiter server.Limiter
		switch perMin := cfg.Server.RateLimitPerMin; {
		case perMin <= 0:
		case cfg.Server.RedisAddr != "":
			limiter = server.NewRedisWindow(server.NewRedisClient(cfg.Server.RedisAddr), perMin)
		default:
			limiter = server.NewTokenBucket(perMin, perMin)
		}
		if cfg.Server.JWTSigningKey == "" {
			logger.Println("Warning: server.jwt_signing_key is empty; requests are not authenticated")
		}

		srv := server.New(server.Config{
			Addr:       cfg.Server.Addr,
			Repository: repo,
			SigningKey: cfg.Server.JWTSigningKey,
			Issuer:     cfg.Server.JWTIssuer,
			Limiter:    limiter,
			Logger:     logger,
		})
		if err := srv.Start(); err != nil {
			_ = repo.Close()
			fatalf("%v", err)
		}

		fmt.Printf("%s Session service on http://%s (%s store)\n", ui.RenderAccent("🚀"), srv.Addr(), cfg.Server.Store)
		fmt.Printf("   Metrics: http://%s/metrics\n", srv.Addr())
		fmt.Println("\nPress Ctrl+C to stop")

		<-ctx.Done()
		fmt.Println("\nShutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			fatalf("shutdown: %v", err)
		}
	},
}

var tokenCmd = &cobra.Command{
	Use:     "token",
	GroupID: "server",
	Short:   "Issue a bearer token for a staff member",
	Long: `Issue a signed bearer token for the session service. The token subject is
the owner the holder may read and write sessions for. Clients that set
remote.token and no owner use the token subject as their owner.`,
	Run: func(cmd *cobra.Command, args []string) {
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if !cmd.Flags().Changed("ttl") {
			ttl = cfg.Server.TokenTTL
		}
		owner := cfg.Owner
		if owner == "" {
			fatalf("--owner is required")
		}

		token, expires, err := auth.Issue(owner, auth.RoleStaff, cfg.Server.JWTIssuer, cfg.Server.JWTSigningKey, ttl)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Println(token)
		fmt.Fprintf(os.Stderr, "%s Token for %s, expires %s\n", ui.RenderPass("✓"), owner, expires.Format(time.RFC3339))
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default server.addr)")
	serveCmd.Flags().String("store", "", "session store: memory or postgres (default server.store)")
	_ = v.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	_ = v.BindPFlag("server.store", serveCmd.Flags().Lookup("store"))

	tokenCmd.Flags().Duration("ttl", 0, "token lifetime (default server.token_ttl)")

	rootCmd.AddCommand(serveCmd, tokenCmd)
}
