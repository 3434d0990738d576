package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"referral-tracking-system/handlers"
	"referral-tracking-system/middleware"
	"referral-tracking-system/models"
	"referral-tracking-system/services"
	"referral-tracking-system/utils"
	"referral-tracking-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Tenant{},
		&models.User{},
		&models.Referral{},
		&models.RewardLedgerEntry{},
		&models.DomainEvent{},
		&models.WebhookDelivery{},
		&models.RateLimitCounter{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	limiter := services.NewFixedWindowLimiter(db)
	ledgerService := services.NewLedgerService(db)
	eventService := services.NewEventService(db)
	webhookService := services.NewWebhookService(db, eventService)
	claimService := services.NewClaimService(db, ledgerService, eventService, limiter, webhookService)
	userService := services.NewUserService(db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dispatcher := workers.NewWebhookDispatcher(db, eventService)
	go dispatcher.Run(ctx)

	archiver := workers.NewEventArchiveWorker(db)
	sched, err := workers.StartHousekeeping(limiter, archiver)
	if err != nil {
		log.Fatal("failed to start housekeeping scheduler:", err)
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024, // claims and triggers are small JSON bodies
	})

	// 🔐 GLOBAL: every route is tenant-scoped; no exceptions
	app.Use(middleware.TenantAuthMiddleware(db))

	handlers.SetupClaimRoutes(app, claimService)
	handlers.SetupWebhookRoutes(app, webhookService)
	handlers.SetupUserRoutes(app, userService, ledgerService)

	port := os.Getenv("PORT")
	if port == "" {
		port = "5300"
	}

	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", port)
	log.Println("✅ Webhook dispatcher running")
	log.Println("✅ Housekeeping scheduler running")
	log.Println("✅ TenantAuthMiddleware enforced globally; all requests must carry X-Api-Key")

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := sched.Shutdown(); err != nil {
		log.Printf("scheduler shutdown error: %v", err)
	}
	if err := app.Shutdown(); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
}
