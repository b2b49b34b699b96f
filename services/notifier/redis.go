package notifier

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math/rand/v2"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// AlertStreamSuffix names the stream operator alerts are published to
const AlertStreamSuffix = ":alerts"

// RedisTransport publishes messages to Redis streams
type RedisTransport struct {
	client          *redis.Client
	streamPrefix    string
	streamCount     int
	streamMaxLength int
}

// NewRedisTransport creates a new Redis stream transport
func NewRedisTransport(addr string, db int, streamPrefix string, streamCount int, streamMaxLength int) *RedisTransport {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	if streamCount < 1 {
		streamCount = 1
	}

	return &RedisTransport{
		client:          client,
		streamPrefix:    streamPrefix,
		streamCount:     streamCount,
		streamMaxLength: streamMaxLength,
	}
}

func (*RedisTransport) transport() {}

// Send publishes the message to a Redis stream.
// The JSON payload is base64 encoded and keyed by the source id.
func (r *RedisTransport) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	encoded := base64.StdEncoding.EncodeToString(payload)

	// random shard by streamCount
	// if streamCount is 3, stream name will be bcfinder:0 ~ bcfinder:2
	stream := r.streamPrefix + ":" + strconv.Itoa(rand.IntN(r.streamCount))

	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			msg.SourceID: encoded,
		},
	}).Err()
}

// Alert publishes an operator alert to the alert stream
func (r *RedisTransport) Alert(ctx context.Context, text string) error {
	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.streamPrefix + AlertStreamSuffix,
		Values: map[string]interface{}{
			"alert": text,
		},
	}).Err()
}

// Trim trims all streams to the configured maximum length
func (r *RedisTransport) Trim(ctx context.Context) error {
	streams, err := r.client.Keys(ctx, r.streamPrefix+":*").Result()
	if err != nil {
		return err
	}

	for _, stream := range streams {
		if err := r.client.XTrimMaxLen(ctx, stream, int64(r.streamMaxLength)).Err(); err != nil {
			return err
		}
	}

	return nil
}

// Close closes the Redis connection
func (r *RedisTransport) Close() error {
	return r.client.Close()
}
