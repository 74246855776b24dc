package consumer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Metrics message counters of one consumer
type Metrics struct {
	mu sync.RWMutex

	MessagesProcessed int64
	MessagesSucceeded int64
	MessagesFailed    int64
	MessagesSkipped   int64 // unknown device, no dispatcher match

	ErrorsParse    int64
	ErrorsDispatch int64

	TotalProcessingTime time.Duration
	LastProcessTime     time.Time
	StartTime           time.Time
}

// NewMetrics starts the uptime clock
func NewMetrics() *Metrics {
	return &Metrics{StartTime: time.Now()}
}

// GetSnapshot copy safe to read without the lock
func (m *Metrics) GetSnapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		MessagesProcessed:   m.MessagesProcessed,
		MessagesSucceeded:   m.MessagesSucceeded,
		MessagesFailed:      m.MessagesFailed,
		MessagesSkipped:     m.MessagesSkipped,
		ErrorsParse:         m.ErrorsParse,
		ErrorsDispatch:      m.ErrorsDispatch,
		TotalProcessingTime: m.TotalProcessingTime,
		LastProcessTime:     m.LastProcessTime,
		StartTime:           m.StartTime,
	}
}

func (m *Metrics) incrementProcessed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesProcessed++
}

func (m *Metrics) incrementSucceeded(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesSucceeded++
	m.TotalProcessingTime += d
	m.LastProcessTime = time.Now()
}

func (m *Metrics) incrementFailed(errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesFailed++
	switch errorType {
	case "parse":
		m.ErrorsParse++
	case "dispatch":
		m.ErrorsDispatch++
	}
}

func (m *Metrics) incrementSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesSkipped++
}

// report logs a snapshot every interval until ctx is done
func (m *Metrics) report(ctx context.Context, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := m.GetSnapshot()

			var avg time.Duration
			if s.MessagesSucceeded > 0 {
				avg = s.TotalProcessingTime / time.Duration(s.MessagesSucceeded)
			}
			logger.Info("Metrics report",
				zap.Int64("messages_processed", s.MessagesProcessed),
				zap.Int64("messages_succeeded", s.MessagesSucceeded),
				zap.Int64("messages_failed", s.MessagesFailed),
				zap.Int64("messages_skipped", s.MessagesSkipped),
				zap.Int64("errors_parse", s.ErrorsParse),
				zap.Int64("errors_dispatch", s.ErrorsDispatch),
				zap.Duration("avg_processing_time", avg),
				zap.Duration("uptime", time.Since(s.StartTime)),
			)
		}
	}
}
