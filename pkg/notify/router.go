package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-monitor/pkg/metrics"
	"github.com/ekaya-inc/ekaya-monitor/pkg/models"
)

const defaultParallelism = 8

// Report summarizes one Route call. Failures are keyed by "email:<addr>" or "chat:<channel>".
type Report struct {
	Sent     int
	Failures map[string]error
}

// Router fans digests out to recipients. Each send is isolated: a failure or
// panic for one recipient never affects the others.
type Router struct {
	delivery    Delivery
	metrics     *metrics.Metrics
	parallelism int
	logger      *zap.Logger
}

// NewRouter creates a router over delivery.
func NewRouter(delivery Delivery, m *metrics.Metrics, logger *zap.Logger) *Router {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Router{
		delivery:    delivery,
		metrics:     m,
		parallelism: defaultParallelism,
		logger:      logger.Named("notify"),
	}
}

type group struct {
	key     string
	channel string
	target  string
	checks  []models.Check
	send    func(ctx context.Context, target string, checks []models.Check) error
}

// Route groups checks by email address and chat channel and sends one
// digest per recipient.
func (r *Router) Route(ctx context.Context, checks []models.Check) Report {
	groups := r.group(checks)
	report := Report{Failures: make(map[string]error)}
	if len(groups) == 0 {
		return report
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(r.parallelism)

	for _, grp := range groups {
		g.Go(func() error {
			err := r.send(ctx, grp)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failures[grp.key] = err
				return nil
			}
			report.Sent++
			return nil
		})
	}
	_ = g.Wait()

	if len(report.Failures) > 0 {
		r.logger.Warn("some notifications failed",
			zap.Int("sent", report.Sent),
			zap.Int("failed", len(report.Failures)))
	}
	return report
}

func (r *Router) send(ctx context.Context, grp group) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("delivery panicked: %v", p)
		}
		outcome := "sent"
		if err != nil {
			outcome = "failed"
			r.logger.Error("notification failed",
				zap.String("recipient", grp.key),
				zap.Int("checks", len(grp.checks)),
				zap.Error(err))
		}
		r.metrics.Notifications.WithLabelValues(grp.channel, outcome).Inc()
	}()

	return grp.send(ctx, grp.target, grp.checks)
}

// group builds one group per distinct recipient with each check at most once,
// in a stable order.
func (r *Router) group(checks []models.Check) []group {
	byKey := make(map[string]*group)
	seen := make(map[string]map[uuid.UUID]bool)

	add := func(channel, target string, c models.Check, send func(context.Context, string, []models.Check) error) {
		key := channel + ":" + target
		g, ok := byKey[key]
		if !ok {
			g = &group{key: key, channel: channel, target: target, send: send}
			byKey[key] = g
			seen[key] = make(map[uuid.UUID]bool)
		}
		if seen[key][c.ID] {
			return
		}
		seen[key][c.ID] = true
		g.checks = append(g.checks, c)
	}

	for _, c := range checks {
		for _, email := range c.Recipients() {
			add("email", email, c, r.delivery.SendFailingChecksEmail)
		}
		for _, channel := range c.Channels() {
			add("chat", channel, c, r.delivery.SendFailingChecksChat)
		}
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]group, len(keys))
	for i, k := range keys {
		out[i] = *byKey[k]
	}
	return out
}
