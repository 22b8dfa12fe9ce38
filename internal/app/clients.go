package app

import (
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	redisclient "github.com/bandforge/ielts-backend/internal/clients/redis"
	"github.com/bandforge/ielts-backend/internal/platform/logger"
	"github.com/bandforge/ielts-backend/internal/platform/openai"
)

type Clients struct {
	Redis    *goredis.Client
	Sessions redisclient.SessionStore
	Handoff  redisclient.HandoffTokenStore
	OpenAI   openai.Client
}

func wireClients(log *logger.Logger) (Clients, error) {
	log.Info("Wiring clients...")

	rdb, err := redisclient.NewClient()
	if err != nil {
		return Clients{}, fmt.Errorf("init redis: %w", err)
	}

	ai, err := openai.NewClient(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init openai: %w", err)
	}

	return Clients{
		Redis:    rdb,
		Sessions: redisclient.NewSessionStore(rdb, log),
		Handoff:  redisclient.NewHandoffTokenStore(rdb, log),
		OpenAI:   ai,
	}, nil
}
