// main.go
// Lab Power Shutdown Assistant API
// Implements JWT authentication, Firestore persistence, and the shutdown gate

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"labpower/auth"
	"labpower/config"
	"labpower/db"
	"labpower/gate"
	"labpower/handlers"
	"labpower/ledger"
	"labpower/middleware"
	"labpower/models"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, using system environment variables")
	}

	// Load configuration
	cfg := config.Load()
	cfg.Validate()

	log.Printf("🚀 Starting Lab Power API Server")
	log.Printf("📍 Environment: %s", cfg.Server.Environment)
	log.Printf("🔧 Port: %s", cfg.Server.Port)

	ctx := context.Background()
	store := openStore(ctx, cfg)
	defer store.Close()

	// Initialize JWT Manager
	jwtManager := auth.NewJWTManager(
		cfg.JWT.Secret,
		cfg.JWT.Expiration,
		cfg.JWT.RefreshTokenExpiration,
	)
	log.Printf("🔐 JWT Manager initialized (expiration: %v)", cfg.JWT.Expiration)

	// Assignment ledger and shutdown gate
	assignments := ledger.New(store)
	powerGate := gate.New(store, store, store, assignments, gate.Delays{
		Shutdown:     cfg.Power.ShutdownDelay,
		Startup:      cfg.Power.StartupDelay,
		BatchStartup: cfg.Power.BatchStartupDelay,
	})
	log.Printf("⚡ Shutdown gate initialized (shutdown delay: %v)", cfg.Power.ShutdownDelay)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(store, jwtManager)
	deviceHandler := handlers.NewDeviceHandler(store, powerGate)
	checklistHandler := handlers.NewChecklistHandler(store)
	shutdownHandler := handlers.NewShutdownHandler(store, powerGate)
	logsHandler := handlers.NewLogsHandler(store)
	userHandler := handlers.NewUserHandler(store, assignments)
	log.Printf("✅ Handlers initialized")

	// Initialize rate limiter
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	rateLimiter.CleanupOldLimiters()
	log.Printf("🛡️  Rate limiter initialized (%d requests per %v)", cfg.RateLimit.Requests, cfg.RateLimit.Window)

	// Set up router
	mux := http.NewServeMux()

	// Public routes (no authentication required)
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)
	mux.HandleFunc("POST /api/v1/auth/refresh", authHandler.RefreshToken)

	// Protected routes (authentication required)
	authMiddleware := middleware.AuthMiddleware(jwtManager, store)
	adminOnly := middleware.RequireRole(models.RoleAdmin)

	// Profile endpoints
	mux.Handle("GET /api/v1/auth/me", authMiddleware(http.HandlerFunc(authHandler.Me)))
	mux.Handle("PUT /api/v1/auth/profile", authMiddleware(http.HandlerFunc(authHandler.UpdateProfile)))

	// Device endpoints
	mux.Handle("GET /api/v1/devices", authMiddleware(http.HandlerFunc(deviceHandler.List)))
	mux.Handle("POST /api/v1/devices", authMiddleware(adminOnly(http.HandlerFunc(deviceHandler.Create))))
	mux.Handle("GET /api/v1/devices/{deviceID}", authMiddleware(http.HandlerFunc(deviceHandler.Get)))
	mux.Handle("PUT /api/v1/devices/{deviceID}", authMiddleware(adminOnly(http.HandlerFunc(deviceHandler.Update))))
	mux.Handle("DELETE /api/v1/devices/{deviceID}", authMiddleware(adminOnly(http.HandlerFunc(deviceHandler.Delete))))
	mux.Handle("POST /api/v1/devices/start-all", authMiddleware(adminOnly(http.HandlerFunc(deviceHandler.StartAll))))
	mux.Handle("POST /api/v1/devices/start/{deviceID}", authMiddleware(adminOnly(http.HandlerFunc(deviceHandler.Start))))

	// Checklist endpoints
	mux.Handle("GET /api/v1/checklist", authMiddleware(http.HandlerFunc(checklistHandler.List)))
	mux.Handle("POST /api/v1/checklist", authMiddleware(adminOnly(http.HandlerFunc(checklistHandler.Create))))
	mux.Handle("GET /api/v1/checklist/{taskID}", authMiddleware(http.HandlerFunc(checklistHandler.Get)))
	mux.Handle("PUT /api/v1/checklist/{taskID}", authMiddleware(http.HandlerFunc(checklistHandler.Update)))
	mux.Handle("DELETE /api/v1/checklist/{taskID}", authMiddleware(adminOnly(http.HandlerFunc(checklistHandler.Delete))))

	// Shutdown gate endpoints
	mux.Handle("POST /api/v1/shutdown/validate-checklist", authMiddleware(http.HandlerFunc(shutdownHandler.ValidateChecklist)))
	mux.Handle("POST /api/v1/shutdown/initiate-all", authMiddleware(adminOnly(http.HandlerFunc(shutdownHandler.InitiateAll))))
	mux.Handle("POST /api/v1/shutdown/initiate/{deviceID}", authMiddleware(http.HandlerFunc(shutdownHandler.Initiate)))
	mux.Handle("GET /api/v1/shutdown/status/{deviceID}", authMiddleware(http.HandlerFunc(shutdownHandler.Status)))

	// Shutdown log endpoints
	mux.Handle("GET /api/v1/shutdown-logs", authMiddleware(http.HandlerFunc(logsHandler.List)))
	mux.Handle("GET /api/v1/shutdown-logs/export", authMiddleware(adminOnly(http.HandlerFunc(logsHandler.Export))))
	mux.Handle("GET /api/v1/shutdown-logs/{logID}", authMiddleware(http.HandlerFunc(logsHandler.Get)))

	// User management endpoints (admin only)
	mux.Handle("GET /api/v1/users", authMiddleware(adminOnly(http.HandlerFunc(userHandler.List))))
	mux.Handle("GET /api/v1/users/engineers/with-devices", authMiddleware(adminOnly(http.HandlerFunc(userHandler.EngineersWithDevices))))
	mux.Handle("GET /api/v1/users/{userID}", authMiddleware(adminOnly(http.HandlerFunc(userHandler.Get))))
	mux.Handle("PUT /api/v1/users/{userID}/assign-devices", authMiddleware(adminOnly(http.HandlerFunc(userHandler.AssignDevices))))
	mux.Handle("PUT /api/v1/users/{userID}/remove-devices", authMiddleware(adminOnly(http.HandlerFunc(userHandler.RemoveDevices))))

	// Apply global middleware
	handler := middleware.CORSMiddleware(cfg.CORS.AllowedOrigins)(mux)
	handler = rateLimiter.Middleware()(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("✅ Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server failed to start: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("❌ Server forced to shutdown: %v", err)
	}

	log.Println("✅ Server stopped gracefully")
}

// openStore connects to Firestore, or serves from a seeded in-memory store
// when DATABASE_MODE=memory or the Firestore connection cannot be established.
func openStore(ctx context.Context, cfg *config.Config) db.Store {
	if cfg.Database.Mode == config.ModeFirestore {
		firestoreDB, err := db.NewFirestoreDB(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsPath)
		if err == nil {
			if err = firestoreDB.Ping(ctx); err == nil {
				log.Printf("🔥 Firestore connected (project: %s)", cfg.Firebase.ProjectID)
				return firestoreDB
			}
			firestoreDB.Close()
		}
		log.Printf("⚠️  Firestore unavailable: %v", err)
		log.Printf("⚠️  Falling back to in-memory demo store (data will not persist)")
	}

	memStore := db.NewMemoryStore()
	if err := db.SeedDemoData(ctx, memStore); err != nil {
		log.Fatalf("❌ Failed to seed in-memory store: %v", err)
	}
	log.Printf("💾 In-memory store initialized with demo data")
	return memStore
}

// Health check endpoint
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":%d,"version":"1.0.0"}`, time.Now().Unix())
}
