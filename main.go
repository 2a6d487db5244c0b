package main

import (
	"encoding/base64"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dietchat-service/internal/db"
	"dietchat-service/internal/handlers"
	"dietchat-service/internal/middleware"
	"dietchat-service/internal/observability"
	"dietchat-service/internal/rabbitmq"
	"dietchat-service/internal/repositories"
	"dietchat-service/internal/telemetry"
	"dietchat-service/internal/ws"
)

func main() {
	database, err := db.Connect()
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	signingKey, err := base64.StdEncoding.DecodeString(getEnv("JWT_SIGNING_KEY", ""))
	if err != nil || len(signingKey) == 0 {
		log.Fatalf("JWT_SIGNING_KEY must be a non-empty base64 value")
	}
	verifier := middleware.NewTokenVerifier(signingKey)

	amqpURL := getEnv("AMQP_URL", "")
	exchange := getEnv("AMQP_EXCHANGE", "dietchat.events")

	eventPublisher, err := observability.NewAMQPPublisher(amqpURL, exchange)
	if err != nil {
		log.Printf("event publisher disabled: %v", err)
	} else {
		observability.SetPublisher(eventPublisher)
		defer eventPublisher.Close()
	}

	auditPublisher := rabbitmq.NewPublisher(amqpURL, exchange)
	defer auditPublisher.Close()
	audit := telemetry.NewAuditEmitter(auditPublisher, "audit_log.dietchat", "dietchat-service", getEnv("ENVIRONMENT", "dev"))

	roomRepo := repositories.NewRoomRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	hub := ws.NewHub()

	uploadDir := getEnv("UPLOAD_DIR", "uploads")
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		log.Fatalf("failed to create upload dir: %v", err)
	}

	chatHandler := handlers.NewChatHandler(roomRepo, messageRepo, hub, audit, uploadDir)
	roomWS := ws.NewRoomWebSocketHandler(hub, roomRepo, verifier)

	router := gin.Default()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(verifier)

	router.GET("/api/chat/rooms/", authMiddleware, chatHandler.ListRooms)
	router.POST("/api/chat/rooms/", authMiddleware, chatHandler.CreateRoom)
	router.GET("/api/chat/rooms/:room_id/messages/", authMiddleware, chatHandler.ListMessages)
	router.POST("/api/chat/rooms/:room_id/messages/", authMiddleware, chatHandler.PostMessage)

	router.GET("/ws/chat/:room_id", roomWS.Handle)

	router.Static("/uploads", uploadDir)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.RegisterDebugRoutes(router, audit, getEnv("DEBUG_ROUTES", "") == "true")

	port := getEnv("PORT", "8083")
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
