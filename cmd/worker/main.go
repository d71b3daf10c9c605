package main

import (
	"log"
	"os"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"loyalty-service/internal/consumers"
	"loyalty-service/internal/database"
	"loyalty-service/internal/services"
	"loyalty-service/internal/worker"
)

func main() {
	// Load env
	if err := godotenv.Load("../../.env"); err != nil {
		log.Println("No .env file found in ../../.env, trying .env")
		if err := godotenv.Load(".env"); err != nil {
			log.Println("No .env file found, using system env")
		}
	}

	// Connect DB
	database.Connect()
	db := database.DB

	// Credential Vault
	vault, err := services.NewVaultFromEnv()
	if err != nil {
		log.Fatalf("Failed to initialize credential vault: %v", err)
	}

	// Redis
	redisAddr := os.Getenv("REDIS_URL")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	redisOpt := asynq.RedisClientOpt{Addr: redisAddr}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	// Services
	tokenCache := services.NewTokenCache()
	channelService := services.NewChannelService(db, vault, services.NewMpesaClientFactory(tokenCache))
	loyaltyService := services.NewLoyaltyService(db)
	ingestionService := services.NewIngestionService(db, channelService, loyaltyService, asynqClient)

	// Processor
	processor := consumers.NewIngestProcessor(db, ingestionService, loyaltyService)

	log.Println("Starting Asynq Worker...")
	worker.StartWorker(redisOpt, processor)
}
