package app

import (
	"os"
	"strings"

	"github.com/procurelabs/vendorgate-backend/internal/events"
	"github.com/procurelabs/vendorgate-backend/internal/pkg/logger"
)

type Clients struct {
	// Streams serves as both the publish side (events.Bus) and the
	// consumer side (events.Consumer). Nil when REDIS_ADDR is unset; the
	// app then runs without the event pipeline.
	Streams *events.RedisStreams
}

func wireClients(log *logger.Logger) (Clients, error) {
	log.Info("Wiring clients...")

	var streams *events.RedisStreams
	if strings.TrimSpace(os.Getenv("REDIS_ADDR")) != "" {
		s, err := events.NewRedisStreams(log)
		if err != nil {
			return Clients{}, err
		}
		streams = s
	} else {
		log.Warn("REDIS_ADDR not set, event bus and processor disabled")
	}

	return Clients{Streams: streams}, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Streams != nil {
		_ = c.Streams.Close()
	}
}
