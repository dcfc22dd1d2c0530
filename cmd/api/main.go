package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/trekmates/chat-api/internal/config"
	"github.com/trekmates/chat-api/internal/database"
	"github.com/trekmates/chat-api/internal/handler"
	"github.com/trekmates/chat-api/internal/middleware"
	"github.com/trekmates/chat-api/internal/models"
	"github.com/trekmates/chat-api/internal/repository"
	"github.com/trekmates/chat-api/internal/router"
	"github.com/trekmates/chat-api/internal/service"
	cloud "github.com/trekmates/chat-api/pkg/cloudinary"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&models.Room{}, &models.RoomMember{}, &models.ChatMessage{}, &models.Notification{}, &models.Attachment{}); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Drain()
	} else {
		logger.Warn().Msg("nats url missing, cross-node message fan-out disabled")
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	roomRepo := repository.NewRoomRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	attachmentRepo := repository.NewAttachmentRepository(db)

	directory := service.NewRoomDirectory(roomRepo, messageRepo, logger)
	notifications := service.NewNotificationService(notificationRepo, redisClient, cfg.ChannelBase, validate, logger)
	stream := service.NewMessageStream(messageRepo, directory, notifications, redisClient, cfg.ChannelBase, natsConn, validate, cfg.MaxMessageRunes, logger)

	backgroundCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	stream.Start(backgroundCtx)
	notifications.Start(backgroundCtx)

	chatHandler := handler.NewChatHandler(stream, directory, cfg.TypingTimeout, validate, logger)
	notificationHandler := handler.NewNotificationHandler(notifications, logger, cfg.NotificationKeepAlive)

	var attachmentHandler *handler.AttachmentHandler
	if cfg.CloudinaryCloudName != "" {
		uploader, err := cloud.New(cloud.Config{
			CloudName: cfg.CloudinaryCloudName,
			APIKey:    cfg.CloudinaryAPIKey,
			APISecret: cfg.CloudinaryAPISecret,
			Folder:    cfg.CloudinaryUploadFolder,
		}, logger)
		if err != nil {
			log.Fatalf("failed to create cloudinary client: %v", err)
		}
		attachmentService := service.NewAttachmentService(uploader, attachmentRepo, cfg.UploadMaxMB, logger)
		attachmentHandler = handler.NewAttachmentHandler(attachmentService, logger)
	} else {
		logger.Warn().Msg("cloudinary credentials missing, attachment uploads disabled")
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		ChatHandler:         chatHandler,
		AttachmentHandler:   attachmentHandler,
		NotificationHandler: notificationHandler,
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, stopBackground)
}

func waitForShutdown(app *fiber.App, stopBackground context.CancelFunc) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	stopBackground()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
