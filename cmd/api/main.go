package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"kidgate.dev/internal/audit"
	"kidgate.dev/internal/auth"
	"kidgate.dev/internal/chat"
	"kidgate.dev/internal/httpapi"
	"kidgate.dev/internal/identity"
	"kidgate.dev/internal/moderation"
	"kidgate.dev/internal/obs"
	"kidgate.dev/internal/provider"
	"kidgate.dev/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	// Postgres when a DSN is configured, in-memory otherwise.
	var (
		store identity.Store
		db    *sql.DB
	)
	if dsn := os.Getenv("KIDGATE_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
		db = pgStore.DB()
	} else {
		log.Println("KIDGATE_PG_DSN not set, using in-memory store")
		store = identity.NewInMemory()
	}

	recorder := audit.NewRecorder(store)

	var llm chat.Provider
	if key := os.Getenv("KIDGATE_LLM_API_KEY"); key != "" {
		llm = provider.New(provider.Config{
			BaseURL: os.Getenv("KIDGATE_LLM_BASE_URL"),
			APIKey:  key,
			Model:   os.Getenv("KIDGATE_LLM_MODEL"),
		})
	} else {
		log.Println("KIDGATE_LLM_API_KEY not set, using mock provider")
		llm = &provider.Mock{}
	}

	engine := moderation.NewEngine(moderation.DefaultLists(), recorder)
	verifier := auth.NewVerifier(store, recorder)
	issuer := auth.NewIssuer(store)

	var chatOpts []chat.OrchestratorOption
	if ok, _ := strconv.ParseBool(os.Getenv("KIDGATE_ALLOW_ANONYMOUS")); ok {
		log.Println("anonymous chat access enabled")
		chatOpts = append(chatOpts, chat.WithAnonymousAccess(true))
	}
	orch := chat.NewOrchestrator(store, engine, issuer, llm, recorder, chatOpts...)

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, store, verifier, issuer, orch, recorder)

	addr := os.Getenv("KIDGATE_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting kidgate-api %s on %s", version, srv.Addr)

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
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
