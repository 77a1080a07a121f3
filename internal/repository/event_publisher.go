package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-examclient/internal/config"
	"github.com/stemsi/exstem-examclient/internal/model"
)

const publishTimeout = 2 * time.Second

// EventPublisher pushes session events onto the student's Redis PubSub
// channel, where the WebSocket stream picks them up.
type EventPublisher struct {
	rdb     *redis.Client
	channel string
	log     zerolog.Logger
}

// NewEventPublisher creates a publisher bound to one student's exam channel.
func NewEventPublisher(rdb *redis.Client, examID string, studentID int, log zerolog.Logger) *EventPublisher {
	return &EventPublisher{
		rdb:     rdb,
		channel: config.StorageKey.SessionEventsChannel(examID, studentID),
		log:     log.With().Str("component", "event_publisher").Logger(),
	}
}

// Publish sends ev. Delivery is best effort: a UI that is not connected
// re-reads the full snapshot on its next mount.
func (p *EventPublisher) Publish(ev model.SessionEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Error().Err(err).Str("event", string(ev.Type)).Msg("Marshal session event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := p.rdb.Publish(ctx, p.channel, data).Err(); err != nil {
		p.log.Warn().Err(err).Str("event", string(ev.Type)).Msg("Publish session event failed")
	}
}

// SubscribeEvents opens the PubSub subscription the stream handler reads from.
func SubscribeEvents(ctx context.Context, rdb *redis.Client, examID string, studentID int) *redis.PubSub {
	return rdb.Subscribe(ctx, config.StorageKey.SessionEventsChannel(examID, studentID))
}
