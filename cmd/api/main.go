package main

import (
	"context"
	"log"
	"time"

	config "github.com/kevinochieng254/giglink/configs"
	"github.com/kevinochieng254/giglink/database"
	"github.com/kevinochieng254/giglink/handlers"
	"github.com/kevinochieng254/giglink/jobs"
	"github.com/kevinochieng254/giglink/notifications"
	"github.com/kevinochieng254/giglink/routes"
	"github.com/kevinochieng254/giglink/services"
	"github.com/kevinochieng254/giglink/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/robfig/cron/v3"
)

func main() {
	database.ConnectDB()
	database.Migrate()
	database.ConnectRedis()
	notifications.InitEmailService()

	hub := websocket.NewHub()
	presence := services.NewPresence(database.Redis)
	limiter := services.NewRateLimiter(database.Redis)
	cache := services.NewConversationCache(
		services.NewRedisKV(database.Redis),
		services.NewGormConversationLoader(database.DB),
	)
	bridge := services.NewBridge(database.Redis, hub)
	chat := services.NewChatService(database.DB, cache, presence, hub, limiter, bridge)

	handlers.InitMessaging(hub, chat, cache, presence, bridge)

	// Every process subscribes to the fanout channel; emits reach sockets
	// on any instance.
	go bridge.Run(context.Background(), database.Redis)

	c := cron.New()
	c.AddFunc("* * * * *", jobs.SweepStalePresence(presence, bridge))
	go c.Start()
	log.Println("✅ Cron job for presence sweep scheduled successfully.")

	app := fiber.New(fiber.Config{
		Prefork:           false,
		AppName:           "GigLink Marketplace",
		CaseSensitive:     true,
		StrictRouting:     true,
		EnablePrintRoutes: true,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}

			log.Printf("[ERROR] %v | Path: %s | Method: %s", err, c.Path(), c.Method())
			return c.Status(code).JSON(fiber.Map{
				"status":  "error",
				"code":    code,
				"message": err.Error(),
			})
		},
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowMethods:  "GET, POST, PUT, PATCH, DELETE, OPTIONS",
		ExposeHeaders: "Content-Length, Authorization",
		MaxAge:        86400,
	}))

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		TimeFormat: "2006-01-02 15:04:05",
		Format:     "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "success",
			"message": "Welcome to GigLink API",
		})
	})

	routes.AuthRoutes(app)
	routes.ProposalRoutes(app)
	routes.MessagingRoutes(app)
	routes.UploadRoutes(app)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
		})
	})

	port := config.ConfigOr("PORT", "8080")
	log.Printf("✅ Server is running on port %s", port)
	if err := app.Listen(":" + port); err != nil {
		log.Fatalf("🔥 Server failed to start: %v", err)
	}
}
