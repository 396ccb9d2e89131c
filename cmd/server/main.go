/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the unit sales engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (optional) and parse command-line flags
  2. Initialize SQLite store
  3. Load tenant rules (lock durations, discount ceilings, tax rates,
     approval chains) from the JSON rules file
  4. Wire domain services
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080, or PORT env)
  -db      SQLite database path (default: sales.db, or DATABASE_PATH env)
           Use ":memory:" for an in-memory database
  -rules   Tenant rules JSON file (default: tenants.json, or RULES_PATH env)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/sales.db" -rules="./config/tenants.json"

  # Run with in-memory database
  ./server -db=":memory:"

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
  - factory/chain.go: Tenant rules loading
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/warp/sales-engine/api"
	"github.com/warp/sales-engine/factory"
	"github.com/warp/sales-engine/sales"
	"github.com/warp/sales-engine/store/sqlite"
)

func main() {
	// .env is optional; flags take precedence over environment defaults.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DATABASE_PATH", "sales.db"), "SQLite database path")
	rulesPath := flag.String("rules", envStr("RULES_PATH", "tenants.json"), "Tenant rules JSON file")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Load tenant rules
	rules := factory.New()
	if err := rules.LoadFile(*rulesPath); err != nil {
		log.Fatalf("Failed to load tenant rules from %s: %v", *rulesPath, err)
	}

	// Wire domain services
	clock := sales.SystemClock{}
	units := sales.NewUnitService(store, clock)
	approvals := sales.NewApprovalService(store, clock)
	pricing := &sales.PricingEngine{}
	bookings := &sales.BookingService{
		Bookings:  store,
		Leads:     store,
		Units:     units,
		Pricing:   pricing,
		Approvals: approvals,
		Chains:    rules,
		Config:    rules,
		Clock:     clock,
	}
	schedules := &sales.ScheduleService{
		Schedules: store,
		Templates: store,
		Bookings:  store,
		Approvals: approvals,
		Chains:    rules,
		Config:    rules,
		Clock:     clock,
	}
	templates := sales.NewTemplateService(store, clock)

	handler := api.NewHandler(units, bookings, approvals, schedules, templates, store, rules)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
