package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"invitation-service/handlers"
	"invitation-service/models"
	"invitation-service/services"
	"invitation-service/utils"
	"invitation-service/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		AppName: "invitation-service",
	})

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		log.Println("⚠️  ALLOWED_ORIGINS not set, using default: http://localhost:3000")
		allowedOrigins = "http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowedOrigins,
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Admin-User-ID, Stripe-Signature",
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	adminToken := os.Getenv("ADMIN_SERVICE_TOKEN")
	if adminToken == "" {
		log.Fatal("ADMIN_SERVICE_TOKEN environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Product{},
		&models.Member{},
		&models.Referral{},
		&models.InvitationRequest{},
		&models.InvitationCode{},
		&models.APIKey{},
		&models.AuditLog{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	if err := utils.InitR2(); err != nil {
		log.Printf("⚠️  R2 not available, report exports disabled: %v", err)
	}

	emailService := services.NewEmailService()
	auditService := services.NewAuditService(db)
	stripeService := services.NewStripeService()
	referralService := services.NewReferralService(db, stripeService, emailService)
	codeService := services.NewCodeService(db, emailService, auditService)
	requestService := services.NewRequestService(db, codeService, emailService, auditService)
	memberService := services.NewMemberService(db, auditService)
	productService := services.NewProductService(db, auditService)
	webhookService := services.NewWebhookService(db, stripeService, referralService)
	reportService := services.NewReportService(db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	referralService.StartRewardScheduler()

	reportWorker := workers.NewReportWorker(reportService)
	reportWorker.Start(ctx)

	handlers.SetupRoutes(app, db, adminToken, handlers.Services{
		Codes:    codeService,
		Requests: requestService,
		Members:  memberService,
		Products: productService,
		Webhooks: webhookService,
		Audit:    auditService,
	})

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
	log.Println("✅ Reward sweep scheduler running (daily)")
	log.Println("✅ Referral report worker running")

	<-ctx.Done()
	log.Println("Shutting down server...")
	_ = app.Shutdown()
}
