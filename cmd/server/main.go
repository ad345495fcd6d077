package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"

	"github.com/jrsteele09/go-identity-broker/auth"
	"github.com/jrsteele09/go-identity-broker/claims"
	"github.com/jrsteele09/go-identity-broker/credentials"
	"github.com/jrsteele09/go-identity-broker/deviceauth"
	"github.com/jrsteele09/go-identity-broker/internal/config"
	"github.com/jrsteele09/go-identity-broker/providers"
	"github.com/jrsteele09/go-identity-broker/server"
	"github.com/jrsteele09/go-identity-broker/store/sqlite"
	"github.com/jrsteele09/go-identity-broker/tokenvault"
	"github.com/jrsteele09/go-identity-broker/vault"
)

const cleanupInterval = 5 * time.Minute

func main() {
	for {
		if err := run(); err != nil {
			log.Fatalf("Error running server: %s\n", err)
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Printf("Server stopped\n")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	displayAppname(c.GetAppName())

	httpServer, shutdownJobs, err := buildServer(c)
	if err != nil {
		return err
	}
	defer shutdownJobs()

	go listenAndServe(httpServer)
	waitForStopSignal()
	returnError = shutdown(httpServer)
	return returnError
}

// buildServer wires the full broker: store, crypto, providers, services,
// HTTP surface, and the background jobs.
func buildServer(c config.Config) (*http.Server, func(), error) {
	// Tokens at rest are sealed; refusing to start without a key beats
	// silently persisting plaintext.
	if c.GetEncryptionKey() == "" {
		return nil, nil, errors.New("ENCRYPTION_KEY is required")
	}
	crypto, err := vault.New(c.GetEncryptionKey(), c.GetEncryptionKeyID())
	if err != nil {
		return nil, nil, fmt.Errorf("vault.New: %w", err)
	}

	signer, err := buildSigner(c)
	if err != nil {
		return nil, nil, err
	}
	codec, err := claims.NewCodec(signer, claims.WithExpiry(c.GetSessionExpiry()))
	if err != nil {
		return nil, nil, fmt.Errorf("claims.NewCodec: %w", err)
	}

	store, err := sqlite.Open(c.GetDatabasePath())
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite.Open: %w", err)
	}

	jobsCtx, stopJobs := context.WithCancel(context.Background())
	go store.RunCheckpointer(jobsCtx)

	adapter := providers.NewAdapter()
	resolver := credentials.NewResolver(store.OAuthCredentials(), crypto,
		c.GetProviderCredentials(), c.GetElevatedCredentials())

	tokens := tokenvault.New(store.Identities(), store.Users(), store.RefreshLocks(), resolver, adapter, crypto)
	go tokens.RunSweeper(jobsCtx, tokenvault.DefaultSweepInterval, tokenvault.DefaultSweepLookahead)

	writer := deviceauth.NewBatchWriter(store.DeviceCodes())
	go writer.Run(jobsCtx)

	deviceService := deviceauth.NewService(deviceauth.Repos{
		DeviceCodes:   store.DeviceCodes(),
		Users:         store.Users(),
		Organizations: store.Organizations(),
		Services:      store.Services(),
		Sessions:      store.Sessions(),
	}, writer, codec)
	go deviceService.RunCleanup(jobsCtx, cleanupInterval)

	authService := auth.NewService(auth.Repos{
		States:        store.OAuthStates(),
		Users:         store.Users(),
		Identities:    store.Identities(),
		Organizations: store.Organizations(),
		Services:      store.Services(),
		Sessions:      store.Sessions(),
	}, adapter, resolver, tokens, codec, deviceService)
	go authService.RunStateCleanup(jobsCtx, cleanupInterval)

	srv, err := server.New(c, server.Repos{
		Users:         store.Users(),
		Sessions:      store.Sessions(),
		Organizations: store.Organizations(),
		TokenGrants:   store.TokenGrants(),
	}, authService, deviceService, tokens, codec)
	if err != nil {
		stopJobs()
		_ = store.Close()
		return nil, nil, fmt.Errorf("server.New: %w", err)
	}

	if err := srv.BootstrapPlatformOwner(); err != nil {
		stopJobs()
		_ = store.Close()
		return nil, nil, fmt.Errorf("bootstrap: %w", err)
	}

	shutdownJobs := func() {
		stopJobs()
		_ = store.Close()
	}
	return &http.Server{Addr: c.GetPort(), Handler: srv}, shutdownJobs, nil
}

// buildSigner prefers the RSA key pair when configured, otherwise falls back
// to the symmetric secret.
func buildSigner(c config.Config) (claims.Signer, error) {
	if pem := c.GetJWTPrivateKey(); pem != "" {
		signer, err := claims.NewKeyPairSignerFromPEM(c.GetJWTKeyID(), pem)
		if err != nil {
			return nil, fmt.Errorf("claims.NewKeyPairSignerFromPEM: %w", err)
		}
		return signer, nil
	}
	if secret := c.GetJWTSecret(); secret != "" {
		return claims.NewHMACSigner(secret), nil
	}
	return nil, errors.New("JWT_SECRET or JWT_PRIVATE_KEY is required")
}

func listenAndServe(server *http.Server) error {
	log.Printf("Server listening on %s\n", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
