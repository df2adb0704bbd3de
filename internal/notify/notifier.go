// Package notify implements core.Notifier: a fire-and-forget dispatcher
// over a fixed set of alert sinks (Slack, Telegram), grounded on
// internal/alert/alert.go's AlertManager/AlertChannel fan-out. Adapted to
// the spec's single Notify(level, title, body) call shape and dispatched
// through pkg/concurrency.WorkerPool instead of a bare goroutine-per-send,
// so a slow or hung webhook cannot leak goroutines unbounded.
package notify

import (
	"context"
	"time"

	"arbmaker/internal/alert"
	"arbmaker/internal/core"
	"arbmaker/pkg/concurrency"
)

// Dispatcher implements core.Notifier by fanning each call out to every
// registered alert.AlertChannel on a bounded worker pool. Per spec.md §9,
// notification delivery never blocks the trading path: Notify returns as
// soon as the send is queued, not once it's delivered.
type Dispatcher struct {
	channels []alert.AlertChannel
	pool     *concurrency.WorkerPool
	logger   core.ILogger
}

// New builds a Dispatcher. channels may be empty, in which case Notify is a
// no-op (matching alert.AlertManager's behavior with zero registered sinks).
func New(logger core.ILogger, channels ...alert.AlertChannel) *Dispatcher {
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "notify",
		MaxWorkers:  4,
		MaxCapacity: 256,
		NonBlocking: true,
	}, logger)
	return &Dispatcher{
		channels: channels,
		pool:     pool,
		logger:   logger.WithField("component", "notify"),
	}
}

// NewFromConfig wires the Slack/Telegram channels spec.md's NotifyConfig
// enables, mirroring internal/alert's constructors.
func NewFromConfig(logger core.ILogger, slackWebhookURL string, slackEnabled bool, telegramBotToken, telegramChatID string, telegramEnabled bool) *Dispatcher {
	var channels []alert.AlertChannel
	if slackEnabled {
		channels = append(channels, alert.NewSlackChannel(slackWebhookURL))
	}
	if telegramEnabled {
		channels = append(channels, alert.NewTelegramChannel(telegramBotToken, telegramChatID))
	}
	return New(logger, channels...)
}

// Notify implements core.Notifier. level mirrors alert.AlertLevel's string
// values ("INFO", "WARNING", "ERROR", "CRITICAL"); an unrecognized level is
// passed through to the sink as-is rather than rejected.
func (d *Dispatcher) Notify(ctx context.Context, level string, title, body string) {
	if len(d.channels) == 0 {
		return
	}
	payload := alert.AlertPayload{
		Level:     alert.AlertLevel(level),
		Title:     title,
		Message:   body,
		Timestamp: time.Now(),
	}
	for _, ch := range d.channels {
		ch := ch
		err := d.pool.Submit(func() {
			sendCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := ch.Send(sendCtx, payload); err != nil {
				d.logger.Error("failed to send notification", "channel", ch.Name(), "error", err)
			}
		})
		if err != nil {
			d.logger.Warn("notify pool full, dropping notification", "channel", ch.Name(), "title", title)
		}
	}
}

// Stop drains the worker pool, waiting for in-flight sends to finish.
func (d *Dispatcher) Stop() {
	d.pool.Stop()
}
