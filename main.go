package main

import (
	"log"
	"os"

	"loyalty-service/internal/database"
	"loyalty-service/internal/handlers"
	"loyalty-service/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found in current directory, trying parent")
		if err := godotenv.Load("../.env"); err != nil {
			log.Println("No .env file found, using system environment variables")
		}
	}

	if mode := os.Getenv("GIN_MODE"); mode != "" {
		gin.SetMode(mode)
	}

	// Initialize Database
	database.Connect()
	database.Migrate()
	db := database.DB

	// Credential Vault
	vault, err := services.NewVaultFromEnv()
	if err != nil {
		log.Fatalf("Failed to initialize credential vault: %v", err)
	}

	// Redis/Asynq Client
	redisAddr := os.Getenv("REDIS_URL")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	defer asynqClient.Close()

	// Services
	tokenCache := services.NewTokenCache()
	channelService := services.NewChannelService(db, vault, services.NewMpesaClientFactory(tokenCache))
	loyaltyService := services.NewLoyaltyService(db)
	ingestionService := services.NewIngestionService(db, channelService, loyaltyService, asynqClient)

	// Handlers
	webhookHandler := handlers.NewWebhookHandler(channelService, ingestionService, asynqClient)
	channelHandler := handlers.NewChannelHandler(channelService)
	loyaltyHandler := handlers.NewLoyaltyHandler(loyaltyService)

	// Initialize Gin
	r := gin.Default()

	// Ping endpoint
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "Welcome to the merchant loyalty service",
		})
	})

	// C2B webhook endpoints (registered with the network per channel)
	r.POST("/webhooks/c2b/:channelId/validation", webhookHandler.Validation)
	r.POST("/webhooks/c2b/:channelId/confirmation", webhookHandler.Confirmation)

	// Merchant management surface
	api := r.Group("/api/v1")
	{
		channels := api.Group("/merchants/:merchantId/channels")
		channels.POST("", channelHandler.Create)
		channels.GET("", channelHandler.List)
		channels.GET("/:id", channelHandler.Get)
		channels.PUT("/:id", channelHandler.Update)
		channels.DELETE("/:id", channelHandler.Delete)
		channels.POST("/:id/verify", channelHandler.Verify)
		channels.POST("/:id/register-urls", channelHandler.RegisterUrls)
		channels.POST("/:id/activate", channelHandler.Activate)
		channels.POST("/:id/deactivate", channelHandler.Deactivate)
		channels.GET("/:id/status", channelHandler.Status)
		channels.POST("/:id/simulate", channelHandler.Simulate)

		api.POST("/merchants/:merchantId/programs", loyaltyHandler.CreateProgram)
		api.GET("/merchants/:merchantId/programs/active", loyaltyHandler.GetActiveProgram)
		api.POST("/merchants/:merchantId/campaigns", loyaltyHandler.CreateCampaign)

		api.GET("/customers/:customerId/loyalty", loyaltyHandler.CustomerStatus)
		api.GET("/customers/:customerId/rewards", loyaltyHandler.ListRewards)
		api.POST("/customers/:customerId/rewards/:rewardId/redeem", loyaltyHandler.Redeem)
	}

	// Start Cron Schedulers
	ingestionService.StartScheduler()
	loyaltyService.StartScheduler()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("HTTP Server starting on port %s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatal("Failed to start server: ", err)
	}
}
