package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"amana.org/internal/campaign"
	"amana.org/internal/governance"
	"amana.org/internal/httpapi"
	"amana.org/internal/obs"
	"amana.org/internal/orgs"
	"amana.org/internal/providers"
	"amana.org/internal/store/pg"
	"amana.org/internal/stream"
	"amana.org/internal/token"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	// Durable event archive (optional, enables /readyz DB ping and
	// /v1/events/archive).
	var archive *pg.Archive
	if dsn := os.Getenv("AMANA_PG_DSN"); dsn != "" {
		var err error
		archive, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
	}

	events := stream.New()
	orgReg := orgs.NewRegistry(orgs.WithEvents(events))
	gov := governance.NewEngine(governance.WithEvents(events))
	orgReg.SetReputationSource(gov)
	tokens := token.NewRegistry(token.WithEvents(events))
	providerReg := providers.NewRegistry(providers.WithEvents(events))

	ledger, err := campaign.NewLedger(orgReg, tokens, externalTransferor(),
		campaign.WithEvents(events),
		campaign.WithFee(feeBasisPoints(), os.Getenv("AMANA_FEE_COLLECTOR")))
	if err != nil {
		log.Fatalf("campaign ledger: %v", err)
	}

	cfg := httpapi.Config{
		Orgs:            orgReg,
		Governance:      gov,
		Campaigns:       ledger,
		Tokens:          tokens,
		Providers:       providerReg,
		Events:          events,
		Archive:         archive,
		Version:         version,
		OperatorKeyHash: os.Getenv("AMANA_OPERATOR_KEY_HASH"),
	}
	if archive != nil {
		cfg.ReadyProbe = httpapi.ReadyProbe{DB: archive.DB()}
		go archiveEvents(events, archive)
	}
	api := httpapi.New(cfg)

	handler := httpapi.RequestID(api.Handler())
	handler = httpapi.Logging(handler)
	handler = httpapi.SecurityHeaders(handler)
	handler = httpapi.CORS(handler)
	handler = httpapi.MaxBodyBytes(handler, 1<<20)
	handler = httpapi.RateLimit(handler, 50, 25)

	addr := os.Getenv("AMANA_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting amana-api %s on %s", version, srv.Addr)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if archive != nil {
		_ = archive.Close()
	}
	log.Println("Stopped")
}

// archiveEvents copies every published event into Postgres. Writes are
// best-effort: a failed insert is logged and the feed moves on.
func archiveEvents(events *stream.Stream, archive *pg.Archive) {
	ch := events.Subscribe(context.Background())
	for ev := range ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := archive.Record(ctx, ev); err != nil {
			log.Printf("archive event %d: %v", ev.Sequence, err)
		}
		cancel()
	}
}

// externalTransferor is where fund releases leave the system. Without a
// configured bank link the transfer is recorded in the log only.
func externalTransferor() campaign.Transferor {
	return campaign.TransferorFunc(func(ctx context.Context, recipient string, amount int64) error {
		log.Printf("transfer %d to %s", amount, recipient)
		return nil
	})
}

func feeBasisPoints() int64 {
	raw := os.Getenv("AMANA_FEE_BPS")
	if raw == "" {
		return 0
	}
	bps, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || bps < 0 {
		log.Fatalf("AMANA_FEE_BPS must be a non-negative integer")
	}
	return bps
}
