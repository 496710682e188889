package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/glimpse/video-chat/internal/hub"
	"github.com/glimpse/video-chat/internal/match"
	"github.com/glimpse/video-chat/internal/messaging"
	"github.com/glimpse/video-chat/internal/protocol"
	"github.com/glimpse/video-chat/internal/ratelimit"
	"github.com/glimpse/video-chat/internal/relay"
	"github.com/glimpse/video-chat/internal/report"
	"github.com/glimpse/video-chat/internal/session"
	"github.com/glimpse/video-chat/internal/ws"
)

// natsNotifier publishes hub events to NATS so they reach the participant's
// socket regardless of which server instance holds it.
type natsNotifier struct {
	nc *messaging.NATSClient
}

func (n natsNotifier) Notify(handle string, data []byte) error {
	return n.nc.PublishNotify(handle, data)
}

func (n natsNotifier) Signal(handle string, data []byte) error {
	return n.nc.PublishSignal(handle, data)
}

func main() {
	config := ws.DefaultServerConfig()

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

	hubConfig := hub.DefaultConfig()
	if v := os.Getenv("WAIT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			hubConfig.WaitTimeout = d
		}
	}

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig.URL = natsURL
	}
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Redis ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	serverName, _ := os.Hostname()
	if v := os.Getenv("SERVER_NAME"); v != "" {
		serverName = v
	}
	if serverName == "" {
		serverName = "vc-1"
	}

	sessionStore, err := session.NewStore(redisAddr, serverName)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}

	limiter := ratelimit.NewLimiter(sessionStore.Client())

	// --- Postgres (report persistence, optional) ---
	var reporter hub.Reporter
	var db *sql.DB
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		db, err = sql.Open("postgres", dsn)
		if err != nil {
			log.Fatalf("failed to open Postgres: %v", err)
		}
		if err := db.Ping(); err != nil {
			log.Fatalf("failed to reach Postgres: %v", err)
		}
		if err := report.Migrate(db); err != nil {
			log.Fatalf("failed to run report migrations: %v", err)
		}
		reporter = report.NewStore(db)
	} else {
		log.Printf("POSTGRES_DSN not set; reports will tear down pairings without persistence")
	}

	log.Printf("Glimpse video-chat server starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  wait_timeout:    %s", hubConfig.WaitTimeout)
	log.Printf("  nats_url:        %s", natsConfig.URL)
	log.Printf("  redis_addr:      %s", redisAddr)
	log.Printf("  server_name:     %s", serverName)

	pairingHub := hub.New(hubConfig, natsNotifier{natsClient}, sessionStore, sessionStore, reporter)

	// Declare server early so closures can capture it.
	var server *ws.Server

	dispatcher := ws.NewMessageDispatcher(nil)

	// -----------------------------------------------------------------------
	// join_queue — enter the waiting pool (or match immediately)
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeJoinQueue, func(conn *ws.Connection, msg interface{}) {
		joinMsg, ok := msg.(protocol.JoinQueueMsg)
		if !ok {
			return
		}
		handle := conn.Handle
		ctx := context.Background()

		allowed, err := limiter.Allow(ctx, handle, ratelimit.RuleJoin)
		if err != nil {
			log.Printf("join_queue rate limit check handle=%s: %v", handle, err)
		}
		if !allowed {
			dispatcher.SendError(conn, "rate_limited", "too many join requests")
			return
		}

		p := match.Participant{
			Handle:   handle,
			UserID:   joinMsg.UserID,
			Profile:  joinMsg.Criteria.UserProfile,
			Criteria: joinMsg.Criteria.Criteria(),
		}
		if err := pairingHub.Join(ctx, p); err != nil {
			switch {
			case err == hub.ErrAlreadyPaired:
				dispatcher.SendError(conn, "already_paired", "end the current pairing before searching")
			case err == match.ErrAlreadyQueued:
				dispatcher.SendError(conn, "already_queued", "already waiting for a partner")
			default:
				dispatcher.SendError(conn, "join_failed", "could not join the queue")
			}
			return
		}

		log.Printf("join_queue from handle=%s user=%s", handle, joinMsg.UserID)
	})

	// -----------------------------------------------------------------------
	// leave_queue — withdraw from the waiting pool
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeLeaveQueue, func(conn *ws.Connection, msg interface{}) {
		pairingHub.Leave(context.Background(), conn.Handle)
		log.Printf("leave_queue from handle=%s", conn.Handle)
	})

	// -----------------------------------------------------------------------
	// end_pairing — tear down the active pairing
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeEndPairing, func(conn *ws.Connection, msg interface{}) {
		pairingHub.End(context.Background(), conn.Handle)
		log.Printf("end_pairing from handle=%s", conn.Handle)
	})

	// -----------------------------------------------------------------------
	// relay — forward a negotiation payload to the paired partner
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeRelay, func(conn *ws.Connection, msg interface{}) {
		relayMsg, ok := msg.(protocol.RelayMsg)
		if !ok {
			return
		}
		handle := conn.Handle
		ctx := context.Background()

		allowed, err := limiter.Allow(ctx, handle, ratelimit.RuleRelay)
		if err != nil {
			log.Printf("relay rate limit check handle=%s: %v", handle, err)
		}
		if !allowed {
			dispatcher.SendError(conn, "rate_limited", "too many relay requests")
			return
		}

		if err := pairingHub.RelaySignal(ctx, handle, relayMsg); err != nil {
			switch {
			case err == relay.ErrNotPaired:
				dispatcher.SendError(conn, "not_paired", "no active pairing")
			case err == relay.ErrPeerMismatch:
				dispatcher.SendError(conn, "peer_mismatch", "target is not your registered partner")
			case err == relay.ErrTargetGone:
				dispatcher.SendError(conn, "target_gone", "partner is no longer connected")
			default:
				dispatcher.SendError(conn, "relay_failed", "could not deliver the payload")
			}
			return
		}
	})

	// -----------------------------------------------------------------------
	// pair_ack — the client started negotiating its pairing
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypePairAck, func(conn *ws.Connection, msg interface{}) {
		ackMsg, ok := msg.(protocol.PairAckMsg)
		if !ok {
			return
		}
		pairingHub.Ack(context.Background(), conn.Handle, ackMsg.PairingID)
	})

	// -----------------------------------------------------------------------
	// report — report the current partner and end the pairing
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeReport, func(conn *ws.Connection, msg interface{}) {
		reportMsg, ok := msg.(protocol.ReportMsg)
		if !ok {
			return
		}
		handle := conn.Handle
		ctx := context.Background()

		allowed, err := limiter.Allow(ctx, handle, ratelimit.RuleReport)
		if err != nil {
			log.Printf("report rate limit check handle=%s: %v", handle, err)
		}
		if !allowed {
			dispatcher.SendError(conn, "rate_limited", "too many reports")
			return
		}

		pairingHub.Report(ctx, handle, reportMsg.Reason)
		log.Printf("report from handle=%s reason=%s", handle, reportMsg.Reason)
	})

	server = ws.NewServer(config, sessionStore, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	// Each connection subscribes to its own notify and signal subjects so
	// frames published by any instance reach the socket that owns the handle.
	server.SetOnConnect(func(handle string) {
		if err := natsClient.SubscribeNotify(handle, func(data []byte) {
			if err := server.SendMessage(handle, data); err != nil {
				log.Printf("[notify-sub] send to handle=%s failed: %v", handle, err)
			}
		}); err != nil {
			log.Printf("[notify-sub] subscribe handle=%s FAILED: %v", handle, err)
		}
		if err := natsClient.SubscribeSignal(handle, func(data []byte) {
			if err := server.SendMessage(handle, data); err != nil {
				log.Printf("[signal-sub] send to handle=%s failed: %v", handle, err)
			}
		}); err != nil {
			log.Printf("[signal-sub] subscribe handle=%s FAILED: %v", handle, err)
		}
	})

	// On disconnect, clear matching state so the partner hears peer_gone and
	// the handle never lingers in the pool or the registry.
	server.SetOnDisconnect(func(handle string) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		pairingHub.Disconnect(ctx, handle)
		_ = natsClient.UnsubscribeNotify(handle)
		_ = natsClient.UnsubscribeSignal(handle)

		log.Printf("disconnect cleanup for handle=%s", handle)
	})

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		natsClient.Close()
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := sessionStore.Close(); err != nil {
			log.Printf("session store close error: %v", err)
		}
		if db != nil {
			if err := db.Close(); err != nil {
				log.Printf("postgres close error: %v", err)
			}
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
