package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	html "github.com/gofiber/template/html/v2"
	flags "github.com/jessevdk/go-flags"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"dealerchat/internal/assistant"
	"dealerchat/internal/config"
	"dealerchat/internal/http/handlers"
	applog "dealerchat/internal/log"
	"dealerchat/internal/metrics"
	"dealerchat/internal/repos"
)

func main() {
	opts, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(2)
	}
	cfg := config.Load(opts)

	// Optional file logging
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Printf("[warn] could not open log file %s: %v", cfg.LogFile, err)
		} else {
			log.SetOutput(io.MultiWriter(os.Stdout, f))
		}
	}

	if cfg.TraceStdout {
		tp, err := initTracer()
		if err != nil {
			log.Fatal(err)
		}
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	if cfg.OpenAIKey == "" || cfg.AssistantID == "" {
		log.Printf("[warn] OPENAI_API_KEY or OPENAI_ASSISTANT_ID not set; chat turns will fail")
	}

	m, err := metrics.NewTurnMetrics()
	if err != nil {
		log.Fatal(err)
	}

	db, err := repos.OpenDB(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	gw := assistant.NewOpenAIGateway(cfg.OpenAIKey, cfg.AssistantID)
	deps := handlers.NewDeps(db, cfg, gw, m)

	// Templates & app
	engine := html.New("./web/templates", ".html")

	app := fiber.New(fiber.Config{
		Views:        engine,
		ErrorHandler: handlers.ErrorHandler,
	})
	app.Server().MaxRequestBodySize = 64 << 10

	// ---------- Middlewares ----------
	app.Use(requestid.New())
	app.Use(logger.New())
	app.Use(helmet.New())

	app.Static("/static", "./web/static")

	// ---------- Routes ----------
	app.Get("/", deps.PageHandler.Index)
	app.Post("/chat", limiter.New(limiter.Config{
		Max:        20,
		Expiration: time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.chat.hit", nil)
			c.Set(fiber.HeaderRetryAfter, "60")
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "Твърде много заявки. Моля, опитайте по-късно."})
		},
	}), deps.ChatHandler.Turn)

	api := app.Group("/api/v1/sessions")
	api.Get("/:id/messages", deps.SessionHandler.Messages)
	api.Get("/:id/takeover", deps.SessionHandler.GetTakeover)
	api.Put("/:id/takeover", deps.SessionHandler.SetTakeover)

	// Health & 404
	app.Get("/healthz", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"ok": true}) })
	app.Use(deps.PageHandler.NotFound)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down")
	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		log.Printf("[warn] forced shutdown: %v", err)
	}
}

func initTracer() (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("stdout trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return tp, nil
}
