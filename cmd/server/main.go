package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bizdir/internal/config"
	"bizdir/internal/factory"
	"bizdir/internal/handler"
	"bizdir/internal/util"
)

func main() {
	// Initialize factory (which loads config and initializes all clients)
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	cfg := f.Config()

	// Background workers: expired-registration sweeper and the scheduled
	// deletion service.
	f.RegStore().StartSweeper(cfg.Registration.SweepInterval)
	cleanup := f.ServiceFactory().CleanupService()
	cleanup.Start(context.Background())

	router := setupRouter(f)

	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if cfg.Server.EnableTLS {
		util.Info("Starting HTTPS server",
			util.String("environment", cfg.Environment),
			util.String("address", server.Addr),
		)
	} else {
		util.Warn("Starting HTTP server - TLS is disabled",
			util.String("environment", cfg.Environment),
			util.String("address", server.Addr),
		)
	}

	startServer(f, server, cfg)
}

// setupRouter creates the HTTP router with all handlers using Chi
func setupRouter(f *factory.Factory) http.Handler {
	serviceFactory := f.ServiceFactory()

	authHandler := handler.NewAuthHandler(
		serviceFactory.AuthService(),
		serviceFactory.VerificationService(),
		util.Get(),
	)
	accountHandler := handler.NewAccountHandler(
		serviceFactory.AccountService(),
		serviceFactory.VerificationService(),
		f.Issuer(),
		util.Get(),
	)
	adminHandler := handler.NewAdminHandler(
		serviceFactory.CleanupService(),
		f.Issuer(),
		util.Get(),
	)

	return handler.NewRouter(authHandler, accountHandler, adminHandler, f.HealthCheck, util.Get())
}

func startServer(f *factory.Factory, server *http.Server, cfg *config.Config) {
	go func() {
		var err error
		if cfg.Server.EnableTLS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			util.Fatal("Server failed to start", util.ErrorField(err))
		}
	}()

	util.Info("Server started successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.String("address", server.Addr),
	)

	waitForShutdown(f, server)
}

func waitForShutdown(f *factory.Factory, server *http.Server) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-signalChan
	util.Info("Received shutdown signal", util.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		util.Error("Server shutdown failed", util.ErrorField(err))
	} else {
		util.Info("Server shutdown completed")
	}

	if err := f.Close(); err != nil {
		util.Error("Factory close failed", util.ErrorField(err))
	}
}
