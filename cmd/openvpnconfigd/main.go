package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"openvpn-configd/internal/auth"
	"openvpn-configd/internal/journal"
	"openvpn-configd/internal/reconcile"
	"openvpn-configd/internal/request"
	"openvpn-configd/internal/server"
	"openvpn-configd/internal/settings"
	"openvpn-configd/internal/version"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8095", "listen address for the control API")
	dataDir := flag.String("data-dir", "/var/lib/openvpn-configd", "path to daemon state directory")
	unit := flag.String("unit", "openvpn@server", "default OpenVPN service unit")
	applyFile := flag.String("apply", "", "apply a request from the given JSON file and exit")
	showToken := flag.Bool("show-token", false, "print the API token and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Current().String())
		return
	}

	reconciler := reconcile.New()

	if *applyFile != "" {
		os.Exit(runOneShot(reconciler, *dataDir, *applyFile))
	}

	settingsManager := settings.NewManager(filepath.Join(*dataDir, "settings.json"))
	authManager := auth.NewManager(settingsManager)
	if err := authManager.EnsureDefaults(); err != nil {
		log.Fatalf("failed to initialise auth credentials: %v", err)
	}
	if *showToken {
		token, err := authManager.GetToken()
		if err != nil {
			log.Fatalf("failed to read API token: %v", err)
		}
		fmt.Println(token)
		return
	}

	db, err := journal.Open(filepath.Join(*dataDir, "journal.db"))
	if err != nil {
		log.Fatalf("failed to open journal: %v", err)
	}
	defer db.Close()
	store := journal.NewStore(db)

	stored, err := settingsManager.Get()
	if err != nil {
		log.Printf("warning: failed to load settings: %v", err)
	}
	listenAddr := *addr
	if stored.ListenAddress != "" {
		listenAddr = stored.ListenAddress
	}
	defaultUnit := *unit
	if stored.ServiceUnit != "" {
		defaultUnit = stored.ServiceUnit
	}

	retention := 30 * 24 * time.Hour
	if stored.JournalRetentionDays > 0 {
		retention = time.Duration(stored.JournalRetentionDays) * 24 * time.Hour
	}
	if err := store.Cleanup(retention); err != nil {
		log.Printf("warning: journal cleanup failed: %v", err)
	}

	srv := server.New(reconciler, store, authManager, defaultUnit)

	httpServer := &http.Server{
		Addr:         listenAddr,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // install + PKI generation can be slow
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("openvpn-configd listening on %s", listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	<-sigCh
	log.Println("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown error: %v", err)
	}
}

// runOneShot applies a single request file and prints the result as JSON,
// matching the process-per-invocation model an orchestrator expects.
// Returns the process exit code.
func runOneShot(reconciler *reconcile.Reconciler, dataDir, path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("failed to read request file: %v", err)
		return 1
	}
	req, err := request.Decode(data)
	if err != nil {
		log.Printf("failed to decode request: %v", err)
		return 1
	}

	started := time.Now().UTC()
	result, applyErr := reconciler.Apply(&req)

	if db, err := journal.Open(filepath.Join(dataDir, "journal.db")); err == nil {
		entry := journal.Entry{
			StartedAt: started,
			Action:    req.Action,
			Changed:   result.Changed,
			Message:   result.Message,
			Status:    result.Status,
			Failed:    result.Failed,
		}
		if err := journal.NewStore(db).Record(entry); err != nil {
			log.Printf("warning: journal record failed: %v", err)
		}
		db.Close()
	} else {
		log.Printf("warning: journal unavailable: %v", err)
	}

	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Printf("failed to encode result: %v", err)
		return 1
	}
	fmt.Println(string(encoded))

	if applyErr != nil {
		return 1
	}
	return 0
}
