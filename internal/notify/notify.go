// Package notify delivers crawl failure alerts.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/terrasignum-crawler/internal/crawl"
)

// Subject is the alert headline.
func Subject(alert crawl.Alert) string {
	return fmt.Sprintf("Crawl failure: %s (%s)", alert.SourceID, alert.ProjectID)
}

// Body is the human-readable alert text.
func Body(alert crawl.Alert) string {
	body := fmt.Sprintf("Source %s in project %s finished with status %q at %s.",
		alert.SourceID, alert.ProjectID, alert.Status, alert.At.UTC().Format("2006-01-02 15:04:05Z"))
	if alert.Detail != "" {
		body += " Detail: " + alert.Detail
	}
	return body
}

// LogNotifier writes alerts to a zap logger.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier builds a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("alerts")}
}

// Notify implements crawl.AlertNotifier.
func (n *LogNotifier) Notify(_ context.Context, alert crawl.Alert) error {
	n.logger.Warn(Subject(alert),
		zap.String("project_id", alert.ProjectID),
		zap.String("source_id", alert.SourceID),
		zap.String("status", string(alert.Status)),
		zap.String("detail", alert.Detail),
		zap.Time("at", alert.At),
	)
	return nil
}

// Multi fans an alert out to every notifier and joins their errors.
type Multi []crawl.AlertNotifier

// Notify implements crawl.AlertNotifier.
func (m Multi) Notify(ctx context.Context, alert crawl.Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps alerts in memory.
type Recorder struct {
	mu     sync.Mutex
	alerts []crawl.Alert
	err    error
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// FailWith makes later Notify calls return err after recording.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Notify implements crawl.AlertNotifier.
func (r *Recorder) Notify(_ context.Context, alert crawl.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return r.err
}

// Alerts returns a copy of the recorded alerts.
func (r *Recorder) Alerts() []crawl.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]crawl.Alert(nil), r.alerts...)
}
