package notifier

import (
	"log/slog"

	"github.com/amishk599/jobpipe/internal/model"
)

// Ensure LogNotifier implements model.Notifier.
var _ model.Notifier = (*LogNotifier)(nil)

// LogNotifier writes review items to the given logger as structured messages.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a notifier that logs each review item via slog.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs each item at warn level. It never fails.
func (n *LogNotifier) Notify(items []model.ReviewItem) error {
	for _, it := range items {
		args := []any{"kind", it.Kind, "detail", it.Detail}
		if it.JobHash != "" {
			args = append(args, "job_hash", it.JobHash, "employer", it.Employer, "title", it.Title, "url", it.URL)
		}
		n.logger.Warn("needs operator review", args...)
	}
	return nil
}
