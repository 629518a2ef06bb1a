package main

import (
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Maarij07/smart-wristband/internal/presence"
	"github.com/Maarij07/smart-wristband/internal/protocol"
	"github.com/Maarij07/smart-wristband/internal/ratelimit"
	"github.com/Maarij07/smart-wristband/internal/relay"
	"github.com/Maarij07/smart-wristband/internal/ws"
)

func main() {
	config := ws.DefaultServerConfig()

	// PORT mirrors the original deployment contract; LISTEN_ADDR wins if
	// both are set.
	if port := os.Getenv("PORT"); port != "" {
		config.ListenAddr = ":" + port
	}
	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("MAX_FRAME_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			config.MaxFrameBytes = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	// --- Redis (optional) ---
	// An empty REDIS_ADDR runs the relay purely in-memory: no presence
	// mirror, no rate limiting. Routing behaves identically either way.
	var (
		mirror  *presence.Store
		limiter *ratelimit.Limiter
	)
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		var err error
		mirror, err = presence.NewStore(redisAddr)
		if err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		limiter = ratelimit.NewLimiter(mirror.Client())
	}

	log.Printf("Wristband relay server starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  max_frame_bytes: %d", config.MaxFrameBytes)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	if mirror != nil {
		log.Printf("  redis_addr:      %s", os.Getenv("REDIS_ADDR"))
	} else {
		log.Printf("  redis:           disabled")
	}

	registry := relay.NewRegistry()
	router := relay.NewRouter(registry, mirror, limiter)

	dispatcher := ws.NewMessageDispatcher()

	// -----------------------------------------------------------------------
	// auth — bind the claimed identity to this connection
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeAuth, func(conn *ws.Connection, msg interface{}) {
		authMsg, ok := msg.(protocol.AuthMsg)
		if !ok {
			return
		}
		router.HandleAuth(conn, authMsg)
	})

	// -----------------------------------------------------------------------
	// message — direct message: echo to sender, forward to recipient
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeMessage, func(conn *ws.Connection, msg interface{}) {
		chatMsg, ok := msg.(protocol.ChatMsg)
		if !ok {
			return
		}
		router.HandleMessage(conn, chatMsg)
	})

	// -----------------------------------------------------------------------
	// typing — relay the indicator to its one recipient
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeTyping, func(conn *ws.Connection, msg interface{}) {
		typingMsg, ok := msg.(protocol.TypingMsg)
		if !ok {
			return
		}
		router.HandleTyping(conn, typingMsg)
	})

	// -----------------------------------------------------------------------
	// status — explicit presence change, broadcast to everyone
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeStatus, func(conn *ws.Connection, msg interface{}) {
		statusMsg, ok := msg.(protocol.StatusMsg)
		if !ok {
			return
		}
		router.HandleStatus(conn, statusMsg)
	})

	server := ws.NewServer(config, dispatcher.Dispatch)
	server.SetConnectLimiter(limiter)
	server.SetRegistryLen(registry.Len)

	// A closed transport unbinds its identity (only if it still owns it)
	// and announces the user offline.
	server.SetOnDisconnect(func(conn *ws.Connection) {
		router.HandleDisconnect(conn)
	})

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if mirror != nil {
			if err := mirror.Close(); err != nil {
				log.Printf("presence store close error: %v", err)
			}
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
