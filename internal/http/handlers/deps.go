package handlers

import (
	"time"

	"dealerchat/internal/assistant"
	"dealerchat/internal/config"
	"dealerchat/internal/feed"
	"dealerchat/internal/metrics"
	"dealerchat/internal/repos"
	"dealerchat/internal/services"

	"github.com/jmoiron/sqlx"
)

type Deps struct {
	PageHandler    *PageHandler
	ChatHandler    *ChatHandler
	SessionHandler *SessionHandler
}

func NewDeps(db *sqlx.DB, cfg config.Config, gw assistant.Gateway, m *metrics.TurnMetrics) *Deps {
	transcripts := repos.NewTranscriptRepo(db)

	fetcher := feed.NewFetcher(cfg.FeedURL, cfg.FeedTimeout)
	fetcher.OnFetch(m.RecordFeedFetch)
	cache := feed.NewCache(fetcher, cfg.FeedTTL)

	invSvc := services.NewInventoryService(cache)
	orch := services.NewRunOrchestrator(gw, invSvc)
	orch.Metrics = m
	orch.PollInterval = cfg.PollInterval
	if cfg.MaxPolls > 0 {
		orch.MaxPolls = cfg.MaxPolls
	}

	// a turn cannot outlive its polling budget plus slack for the remote calls
	maxTurn := time.Duration(orch.MaxPolls)*orch.PollInterval + 30*time.Second
	chatSvc := services.NewChatService(gw, orch, transcripts, assistant.NewInflightGuard(maxTurn), m)

	return &Deps{
		PageHandler:    &PageHandler{},
		ChatHandler:    &ChatHandler{Chat: chatSvc},
		SessionHandler: &SessionHandler{Transcripts: transcripts},
	}
}
