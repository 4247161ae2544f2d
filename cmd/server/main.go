// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"sealwire/internal/auth"
	"sealwire/internal/delivery"
	"sealwire/internal/domain"
	"sealwire/internal/identity"
	"sealwire/internal/message"
	"sealwire/internal/object"
	"sealwire/internal/platform/config"
	"sealwire/internal/platform/httpserver"
	"sealwire/internal/platform/logger"
	"sealwire/internal/platform/metrics"
	"sealwire/internal/platform/middleware"
	"sealwire/internal/platform/redis"
	"sealwire/internal/provider"
	"sealwire/internal/seal"
	"sealwire/internal/seal/fakechain"
	"sealwire/internal/signing"
	httptransport "sealwire/internal/transport/http"
	"sealwire/migrations"
	"sealwire/pkg/platform/audit"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	key, err := nodeKey(cfg.NodeKeySeed)
	if err != nil {
		return fmt.Errorf("node key: %w", err)
	}

	// Stores. Postgres when configured, in-memory otherwise.
	var (
		identityStore identity.Store
		messageStore  message.Store
		sealStore     seal.Store
	)
	if cfg.PostgresDSN != "" {
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer db.Close()
		if err := migrations.Up(db); err != nil {
			return err
		}
		identityStore = identity.NewPostgres(db)
		messageStore = message.NewPostgres(db)
		sealStore = seal.NewPostgres(db)
	} else {
		identityStore = identity.NewMemoryStore()
		messageStore = message.NewMemoryStore()
		sealStore = seal.NewMemoryStore()
	}

	var objects object.Store
	if cfg.S3Bucket != "" {
		s3Store, err := object.NewS3Store(ctx, cfg.S3Bucket, cfg.S3Region)
		if err != nil {
			return fmt.Errorf("s3 object store: %w", err)
		}
		objects = s3Store
	} else {
		objects = object.NewMemoryStore()
	}

	var sessionStore auth.Store = auth.NewMemoryStore()
	redisClient, err := redis.New(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		sessionStore = auth.NewRedisStore(redisClient, 24*time.Hour)
	}

	resolver := identity.NewResolver(log, identityStore)

	nodeIdentity, err := registerNodeIdentity(ctx, key, resolver)
	if err != nil {
		return fmt.Errorf("node identity: %w", err)
	}
	log.InfoContext(ctx, "node identity ready",
		"permalink", nodeIdentity.Permalink,
		"pubkey", key.Pub.String(),
	)

	// Audit pipeline.
	trail := audit.NewTrail(log, 1024, m.AuditDropped)
	var publisher audit.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := audit.NewKafkaPublisher(ctx, cfg.KafkaBrokers, cfg.AuditTopic)
		if err != nil {
			return fmt.Errorf("kafka publisher: %w", err)
		}
		publisher = kafka
	} else {
		publisher = audit.NewLogPublisher(log)
	}
	defer publisher.Close()
	auditWorker := audit.NewWorker(log, trail.Events(), publisher)
	go func() {
		if err := auditWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.ErrorContext(ctx, "audit worker stopped", "error", err)
		}
	}()

	// Seal pipeline against the development chain.
	chain := fakechain.New(seal.Network{
		Blockchain:    cfg.Blockchain,
		Name:          cfg.BlockchainNetwork,
		Confirmations: cfg.RequiredConfirmations,
	})
	sealKey := key.Pub.String()
	chain.Fund(sealKey, 1_000_000)
	seals := seal.NewManager(log, sealStore, chain, messageStore, m, sealKey)

	// Delivery.
	liveTransport := delivery.NewLiveTransport(log)
	sessions := auth.NewManager(log, sessionStore, resolver, messageStore, m, trail, []byte(cfg.JWTSigningKey), cfg.HandshakeTimeout)
	webhookTransport := delivery.NewWebhookTransport(log, resolver, cfg.WebhookTimeout)
	router := delivery.NewRouter(log, messageStore, sessions, resolver, liveTransport, webhookTransport, nil, m)

	node := provider.New(provider.Config{
		Log:        log,
		Key:        key,
		Permalink:  nodeIdentity.Permalink,
		Objects:    objects,
		Identities: resolver,
		Messages:   messageStore,
		Seals:      seals,
		Router:     router,
		Sessions:   sessions,
		Metrics:    m,
		Trail:      trail,

		SealBasePub:    sealKey,
		SealBlockchain: cfg.Blockchain,
		SealNetwork:    cfg.BlockchainNetwork,
	})

	go reconcileLoop(ctx, log, seals, cfg)

	validator := middleware.NewValidator([]byte(cfg.JWTSigningKey))
	ws := httptransport.NewWSHandler(log, liveTransport, sessions, node, router, validator, cfg.DeliveryBatchSize, cfg.DeliveryBudget)
	handler := httptransport.NewRouter(log, m, ws,
		httptransport.NewMessagesHandler(log, node, router, validator, cfg.DeliveryBatchSize, cfg.DeliveryBudget),
		httptransport.NewAuthHandler(log, sessions),
		httptransport.NewNodeHandler(log, resolver, seals, validator, cfg.SealBatchLimit, cfg.SealGracePeriod),
	)

	srv := httpserver.New(cfg.Addr, handler)
	log.InfoContext(ctx, "starting sealwire node", "addr", cfg.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func nodeKey(seed string) (*signing.Key, error) {
	if seed == "" {
		return signing.Generate()
	}
	raw, err := hex.DecodeString(seed)
	if err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	return signing.FromSeed(raw)
}

// registerNodeIdentity publishes the node's own identity document so inbound
// peers can resolve its signing key.
func registerNodeIdentity(ctx context.Context, key *signing.Key, resolver *identity.Resolver) (*domain.Identity, error) {
	doc := map[string]any{
		"_t":      domain.TypeIdentity,
		"name":    "sealwire node",
		"pubkeys": []string{key.Pub.String()},
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	sig, err := key.Sign(raw)
	if err != nil {
		return nil, err
	}
	doc["_s"] = sig
	signed, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}

	var obj domain.SignedObject
	if err := json.Unmarshal(signed, &obj); err != nil {
		return nil, err
	}
	return resolver.AddContact(ctx, &obj)
}

// reconcileLoop drives the three seal sweeps on a fixed cadence: broadcast
// pending writes, sync confirmations, then requeue or cancel stale records.
func reconcileLoop(ctx context.Context, log *slog.Logger, seals *seal.Manager, cfg config.Node) {
	ticker := time.NewTicker(cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if n, err := seals.SealPending(ctx, cfg.SealBatchLimit); err != nil {
			log.WarnContext(ctx, "seal sweep failed", "error", err)
		} else if n > 0 {
			log.InfoContext(ctx, "seals written", "count", n)
		}
		if n, err := seals.SyncUnconfirmed(ctx, cfg.SealBatchLimit); err != nil {
			log.WarnContext(ctx, "confirmation sync failed", "error", err)
		} else if n > 0 {
			log.InfoContext(ctx, "seals advanced", "count", n)
		}
		if err := seals.HandleFailures(ctx, cfg.SealGracePeriod); err != nil {
			log.WarnContext(ctx, "failure handling failed", "error", err)
		}
	}
}
