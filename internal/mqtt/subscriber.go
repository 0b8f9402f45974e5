package mqtt

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/paho"
)

const (
	// commandRateLimit caps inbound command messages per interval. A
	// misbehaving automation pressing identify in a loop is dropped.
	commandRateLimit    = 20
	commandRateInterval = time.Second
)

// IdentifyFunc handles an identify request for a sensor ID.
type IdentifyFunc func(sensorID string) error

// commandHandler returns the paho publish hook that routes identify
// button presses under base to identify.
func commandHandler(base string, limiter *messageRateLimiter, identify IdentifyFunc, logger *slog.Logger) func(paho.PublishReceived) (bool, error) {
	return func(pr paho.PublishReceived) (bool, error) {
		if pr.Packet == nil {
			return false, nil
		}
		id, ok := parseIdentifyTopic(base, pr.Packet.Topic)
		if !ok {
			return false, nil
		}
		if !limiter.allow() {
			return true, nil
		}

		if err := identify(id); err != nil {
			logger.Warn("mqtt identify command failed", "topic", pr.Packet.Topic, "error", err)
			return true, nil
		}
		logger.Debug("mqtt identify command handled", "sensor_id", id, "payload", string(pr.Packet.Payload))
		return true, nil
	}
}

// parseIdentifyTopic extracts the sensor ID from
// "<base>/motion/<id>/identify".
func parseIdentifyTopic(base, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, base+"/motion/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/identify")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// messageRateLimiter tracks inbound message rates and drops messages
// when the rate exceeds the configured threshold. It uses atomic
// counters for lock-free operation on the hot path.
type messageRateLimiter struct {
	count    atomic.Int64
	dropped  atomic.Int64
	limit    int64
	interval time.Duration
	logger   *slog.Logger
}

func newMessageRateLimiter(limit int64, interval time.Duration, logger *slog.Logger) *messageRateLimiter {
	return &messageRateLimiter{
		limit:    limit,
		interval: interval,
		logger:   logger,
	}
}

// start runs the periodic counter reset loop. It blocks until ctx is
// cancelled and warns once per interval if anything was dropped.
func (r *messageRateLimiter) start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count := r.count.Swap(0)
			dropped := r.dropped.Swap(0)
			if dropped > 0 {
				r.logger.Warn("mqtt messages dropped due to rate limit",
					"received", count,
					"dropped", dropped,
					"interval", r.interval.String(),
					"limit", r.limit,
				)
			}
		}
	}
}

// allow increments the message counter and returns true if the
// current count is within the limit.
func (r *messageRateLimiter) allow() bool {
	n := r.count.Add(1)
	if n > r.limit {
		r.dropped.Add(1)
		return false
	}
	return true
}
