package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rithikrice/bondMatchPlus/logging"
	"github.com/rithikrice/bondMatchPlus/metrics"
	"github.com/rithikrice/bondMatchPlus/models"
)

const (
	channelPrefix  = "auction:"
	channelSuffix  = ":deltas"
	channelPattern = channelPrefix + "*" + channelSuffix

	publishTimeout = 2 * time.Second
)

func Channel(auctionID string) string {
	return channelPrefix + auctionID + channelSuffix
}

// RedisPublisher forwards deltas to Redis pub/sub so every API instance can
// relay them. Publish only enqueues; Run does the network I/O.
type RedisPublisher struct {
	client *redis.Client
	queue  chan models.Delta
	log    *logging.Logger
}

func NewRedisPublisher(client *redis.Client, buffer int, log *logging.Logger) *RedisPublisher {
	if buffer <= 0 {
		buffer = 1024
	}
	if log == nil {
		log = logging.NewTestLogger()
	}
	return &RedisPublisher{
		client: client,
		queue:  make(chan models.Delta, buffer),
		log:    log.Named("redis-publisher"),
	}
}

func (p *RedisPublisher) Publish(d models.Delta) {
	select {
	case p.queue <- d:
	default:
		metrics.DroppedDeltas.WithLabelValues("redis").Inc()
	}
}

// Run drains the queue until ctx is done.
func (p *RedisPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-p.queue:
			if err := p.send(ctx, d); err != nil {
				p.log.Warn("⚠️ delta publish failed",
					zap.String("auction_id", d.AuctionID),
					zap.Uint64("version", d.Version),
					zap.Error(err))
			}
		}
	}
}

func (p *RedisPublisher) send(ctx context.Context, d models.Delta) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode delta: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return p.client.Publish(ctx, Channel(d.AuctionID), string(payload)).Err()
}

// Relay pattern-subscribes to every auction channel and hands decoded deltas
// to sink. It returns when ctx is done or the subscription closes.
func Relay(ctx context.Context, sub *redis.Client, sink Publisher, log *logging.Logger) error {
	if log == nil {
		log = logging.NewTestLogger()
	}
	log = log.Named("redis-relay")

	pubsub := sub.PSubscribe(ctx, channelPattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channelPattern, err)
	}
	log.Info("📡 relaying auction deltas", zap.String("pattern", channelPattern))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			d, err := decodeDelta(msg.Channel, msg.Payload)
			if err != nil {
				log.Warn("⚠️ dropping malformed delta", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			sink.Publish(d)
		}
	}
}

func decodeDelta(channel, payload string) (models.Delta, error) {
	var d models.Delta
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		return d, err
	}
	id := strings.TrimSuffix(strings.TrimPrefix(channel, channelPrefix), channelSuffix)
	if d.AuctionID != id {
		return d, fmt.Errorf("delta for %q on channel of %q", d.AuctionID, id)
	}
	return d, nil
}
