package notify

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ekaya-inc/ekaya-monitor/pkg/config"
	"github.com/ekaya-inc/ekaya-monitor/pkg/models"
)

const (
	breakerFailures = 3
	breakerTimeout  = time.Minute
)

// SlackDelivery posts digests to a Slack incoming webhook. Posts share one
// rate limiter; each channel has its own circuit breaker so a channel that
// keeps failing stops being tried for a while.
type SlackDelivery struct {
	webhookURL string
	client     *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

var _ ChatSender = (*SlackDelivery)(nil)

// NewSlackDelivery creates a webhook delivery. It returns nil when no webhook
// URL is configured, which disables chat.
func NewSlackDelivery(cfg config.SlackConfig, client *http.Client, logger *zap.Logger) *SlackDelivery {
	if cfg.WebhookURL == "" {
		return nil
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	limit := rate.Limit(cfg.RatePerSecond)
	if cfg.RatePerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &SlackDelivery{
		webhookURL: cfg.WebhookURL,
		client:     client,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger.Named("slack"),
		breakers:   make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
}

func (d *SlackDelivery) SendFailingChecksChat(ctx context.Context, channel string, checks []models.Check) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	msg := &slack.WebhookMessage{Channel: channel, Text: Text(checks)}
	_, err := d.breaker(channel).Execute(func() (struct{}, error) {
		return struct{}{}, slack.PostWebhookCustomHTTPContext(ctx, d.webhookURL, d.client, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to post to %s: %w", channel, err)
	}

	d.logger.Info("sent failing checks message",
		zap.String("channel", channel),
		zap.Int("checks", len(checks)))
	return nil
}

func (d *SlackDelivery) breaker(channel string) *gobreaker.CircuitBreaker[struct{}] {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cb, ok := d.breakers[channel]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "slack " + channel,
		Timeout: breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	d.breakers[channel] = cb
	return cb
}
