package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	gfshutdown "github.com/gelmium/graceful-shutdown"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/presence"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/store"
)

// backingConfig holds the settings for the services the chat server talks to.
type backingConfig struct {
	DatabaseURL string `env:"DATABASE_URL" envDefault:"sqlite::memory:"`
	Auth        auth.Config
	Presence    presence.Config
}

const startupTimeout = 15 * time.Second

func main() {
	fmt.Println("Starting RoomChat Server...")

	config, err := server.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load server configuration: %v", err)
	}
	backing, err := env.ParseAs[backingConfig]()
	if err != nil {
		log.Fatalf("Failed to load backing service configuration: %v", err)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	messages, err := store.Open(startCtx, backing.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open message store: %v", err)
	}

	verifier, err := auth.NewVerifier(backing.Auth)
	if err != nil {
		log.Fatalf("Failed to create token verifier: %v", err)
	}

	deps := server.Deps{Verifier: verifier, Messages: messages}

	var tracker *presence.Tracker
	if backing.Presence.Enabled() {
		tracker, err = presence.NewFromConfig(startCtx, backing.Presence)
		if err != nil {
			log.Fatalf("Failed to connect to Redis at %s: %v", backing.Presence.Addr, err)
		}
		deps.Presence = tracker
		if config.PresenceRefresh >= backing.Presence.TTL {
			log.Printf("Warning: PRESENCE_REFRESH_INTERVAL (%s) is not shorter than PRESENCE_TTL (%s); rooms may expire while occupied",
				config.PresenceRefresh, backing.Presence.TTL)
		}
		log.Printf("Presence tracking enabled via Redis at %s", backing.Presence.Addr)
	}

	srv, err := server.New(*config, deps)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	log.Printf("WebSocket endpoint available at ws://%s/ws", config.Addr())
	log.Println("Press Ctrl+C to shutdown")

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		config.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"chat-server": func(ctx context.Context) error {
				if err := srv.Shutdown(ctx); err != nil {
					log.Printf("Chat server shutdown error: %v", err)
				}
				if tracker != nil {
					if err := tracker.Close(); err != nil {
						log.Printf("Error closing presence tracker: %v", err)
					}
				}
				return messages.Close()
			},
		},
	)

	exitCode := <-wait
	log.Printf("Server exited with code: %d", exitCode)
	os.Exit(exitCode)
}
