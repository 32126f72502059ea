// relaybridge bridges a social-media publishing network and an
// on-chain smart-contract gateway: it builds post-inclusion and
// DID-history proof payloads from signed AT Protocol data and drives
// them through a filesystem-backed queue to on-chain submission.
//
// It reads configuration from config.json in the working directory,
// connects to PostgreSQL for subscription/cursor bookkeeping, opens
// the filesystem queue, and runs the cooperative sweep loop and
// operator HTTP API until interrupted.
//
// Usage:
//
//	./relaybridge              # reads ./config.json, starts the pipeline
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/primal-host/relaybridge/internal/adminserver"
	"github.com/primal-host/relaybridge/internal/audit"
	"github.com/primal-host/relaybridge/internal/botconfig"
	"github.com/primal-host/relaybridge/internal/chain"
	"github.com/primal-host/relaybridge/internal/config"
	"github.com/primal-host/relaybridge/internal/identity"
	"github.com/primal-host/relaybridge/internal/queue"
	"github.com/primal-host/relaybridge/internal/social"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("relaybridge starting...")

	cfg, err := config.Load("config.json")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (admin=%s db=%s/%s)", cfg.AdminListenAddr, cfg.DBConn, cfg.DBName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received %v, shutting down...", sig)
		cancel()
	}()

	auditDB, err := audit.Open(ctx, cfg.ConnString())
	if err != nil {
		log.Fatalf("Failed to connect to audit database: %v", err)
	}
	defer auditDB.Close()
	log.Println("Audit database connected, schema bootstrapped")

	postQ, err := queue.Open(cfg.QueueRoot+"/post", queue.PostStatuses)
	if err != nil {
		log.Fatalf("Failed to open post queue: %v", err)
	}
	didQ, err := queue.Open(cfg.QueueRoot+"/did", queue.DIDStatuses)
	if err != nil {
		log.Fatalf("Failed to open did queue: %v", err)
	}

	bots, err := botconfig.Load(cfg.BotConfigPath)
	if err != nil {
		log.Fatalf("Failed to load bot configuration: %v", err)
	}
	log.Printf("Loaded %d bot configurations", len(bots))

	resolver := identity.NewResolver(cfg.PLCDirectory, cfg.CacheDir)
	socialClient := social.NewClient(cfg.SocialHost, cfg.SocialAccessJWT, cfg.SocialDID)

	gatewayABI, err := os.ReadFile(cfg.GatewayABIPath)
	if err != nil {
		log.Fatalf("Failed to read gateway abi: %v", err)
	}
	chainClient, err := chain.NewClient(ctx, chain.Config{
		RPCURL:      cfg.ChainRPCURL,
		ChainID:     cfg.ChainID,
		GatewayAddr: cfg.GatewayAddress,
		GatewayABI:  string(gatewayABI),
	})
	if err != nil {
		log.Fatalf("Failed to connect to chain RPC: %v", err)
	}

	var replyGen *social.ReplyGenerator
	if cfg.PayGatewayURL != "" {
		replyGen = &social.ReplyGenerator{Addresses: social.NewGatewayAddressResolver(cfg.PayGatewayURL)}
		log.Println("Payment-prompt reply generator enabled")
	}

	pipeline := &Pipeline{
		postQ:    postQ,
		didQ:     didQ,
		bots:     bots,
		resolver: resolver,
		social:   socialClient,
		chain:    chainClient,
		signer:   cfg.SubmitterKeyHex,
		audit:    auditDB,
		reply:    replyGen,
	}
	go pipeline.Run(ctx, 5*time.Second)

	admin := adminserver.New(adminserver.Config{
		ListenAddr: cfg.AdminListenAddr,
		AdminKey:   cfg.AdminKey,
	}, postQ, didQ, auditDB)

	if err := admin.Start(ctx); err != nil {
		log.Fatalf("Admin server error: %v", err)
	}

	log.Println("relaybridge stopped")
}
