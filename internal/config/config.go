package config

import (
	"log"
	"os"
	"strconv"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

const DefaultFeedURL = "https://sale.peugeot.bg/ecommerce/fb/product_feed.xml"

type Config struct {
	Port     string
	DBDriver string // sqlite | pgx
	DBDSN    string
	LogFile  string

	OpenAIKey   string
	AssistantID string

	FeedURL     string
	FeedTimeout time.Duration
	FeedTTL     time.Duration

	PollInterval time.Duration
	MaxPolls     int

	TraceStdout bool
}

// Options are the command-line overrides applied on top of the environment.
type Options struct {
	Port    string `short:"p" long:"port" description:"HTTP listen port (overrides PORT)"`
	EnvFile string `long:"env-file" default:".env" description:"dotenv file loaded before reading the environment"`
}

// ParseFlags parses os.Args into Options.
func ParseFlags(args []string) (Options, error) {
	var opts Options
	_, err := flags.ParseArgs(&opts, args)
	return opts, err
}

func Load(opts Options) Config {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !os.IsNotExist(err) {
			log.Printf("[config] could not load %s: %v", opts.EnvFile, err)
		}
	}

	cfg := Config{
		Port:         env("PORT", "8080"),
		DBDriver:     env("DB_DRIVER", "sqlite"),
		DBDSN:        env("DB_DSN", "dealerchat.db"), // sqlite file in project root
		LogFile:      os.Getenv("LOG_FILE"),
		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
		AssistantID:  os.Getenv("OPENAI_ASSISTANT_ID"),
		FeedURL:      env("FEED_URL", DefaultFeedURL),
		FeedTimeout:  duration("FEED_TIMEOUT", 15*time.Second),
		FeedTTL:      duration("FEED_TTL", 300*time.Second),
		PollInterval: duration("RUN_POLL_INTERVAL", time.Second),
		MaxPolls:     integer("RUN_MAX_POLLS", 30),
		TraceStdout:  os.Getenv("TRACE_STDOUT") == "true",
	}
	if opts.Port != "" {
		cfg.Port = opts.Port
	}

	log.Printf("[config] PORT=%s DB_DRIVER=%s DB_DSN=%s LOG_FILE=%s FEED_URL=%s FEED_TTL=%s RUN_MAX_POLLS=%d ASSISTANT_ID=%s",
		cfg.Port, cfg.DBDriver, cfg.DBDSN, cfg.LogFile, cfg.FeedURL, cfg.FeedTTL, cfg.MaxPolls, cfg.AssistantID)
	if cfg.OpenAIKey == "" {
		log.Printf("[config] OPENAI_API_KEY is empty; chat turns will fail")
	}
	return cfg
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		log.Printf("[config] bad %s=%q, using %s", key, v, def)
		return def
	}
	return d
}

func integer(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		log.Printf("[config] bad %s=%q, using %d", key, v, def)
		return def
	}
	return n
}
