package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/rifqiyafik/E-signApp/internal/audit"
	"github.com/rifqiyafik/E-signApp/internal/auth"
	"github.com/rifqiyafik/E-signApp/internal/config"
	"github.com/rifqiyafik/E-signApp/internal/documents"
	"github.com/rifqiyafik/E-signApp/internal/notifications"
	"github.com/rifqiyafik/E-signApp/internal/pki"
	"github.com/rifqiyafik/E-signApp/pkg/security"
	"github.com/rifqiyafik/E-signApp/pkg/storage"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	if os.Getenv("APP_ENV") == "development" {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig("config.json")
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Connect to database
	db, err := sqlx.Connect("postgres", cfg.Database.GetDatabaseURL())
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxConnections)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	// Blob storage backend
	var store storage.Client
	switch cfg.Storage.Driver {
	case "s3":
		store, err = storage.NewS3Client(context.Background(), cfg.Storage.S3Bucket, cfg.Storage.S3Region)
		if err != nil {
			logger.Fatal("Failed to initialize S3 storage", zap.Error(err))
		}
	default:
		store, err = storage.NewLocalClient(cfg.Storage.LocalRoot)
		if err != nil {
			logger.Fatal("Failed to initialize local storage", zap.Error(err))
		}
	}

	crypter, err := security.NewCrypter(cfg.App.Key)
	if err != nil {
		logger.Fatal("Failed to initialize crypter", zap.Error(err))
	}

	// PKI module
	rootCA := pki.NewRootCAService(store, crypter, logger)
	tsa := pki.NewTSAService(store, crypter, rootCA, logger)
	certRepo := pki.NewRepository(db)
	certService := pki.NewService(certRepo, rootCA, crypter, logger)
	pkiHandler := pki.NewHandler(certService, rootCA, logger)

	// Supporting sinks
	notifier := notifications.NewService(db, logger)
	auditor := audit.NewService(db, logger)

	// Documents module
	docRepo := documents.NewRepository(db)
	userDirectory := documents.NewSQLUserDirectory(db)
	stamper := documents.NewPDFStamper(logger)
	docService := documents.NewService(docRepo, userDirectory, store, stamper,
		certService, rootCA, tsa, notifier, auditor, cfg.App.BaseURL, logger)
	verifier := documents.NewVerifier(docRepo, store, certService, rootCA, tsa, cfg.App.BaseURL, logger)
	docHandler := documents.NewHandler(docService, verifier, logger)

	// Setup Router
	if os.Getenv("APP_ENV") != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	// CORS Middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, Idempotency-Key, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Register Routes
	public := router.Group("/api/v1")
	authed := router.Group("/api/v1")
	authed.Use(auth.Middleware(cfg.Security.JWTSecret))
	{
		pkiHandler.RegisterRoutes(public, authed)
		docHandler.RegisterRoutes(public, authed)
	}

	// Health Check
	router.GET("/health", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
		})
	})

	// Start Server
	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", srv.Addr))

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exiting")
}
