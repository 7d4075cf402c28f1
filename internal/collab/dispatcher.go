package collab

import (
	"context"

	"go.uber.org/zap"

	"github.com/complyflow/policy-workflow/internal/application/port"
)

// LogDispatcher is the default NotificationDispatcher. It writes each
// notification to the structured log instead of an external channel, which
// keeps standalone deployments working until a real delivery integration is
// plugged in.
type LogDispatcher struct {
	logger *zap.Logger
}

// NewLogDispatcher creates a dispatcher that logs notifications
func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

// Notify records the notification in the log
func (d *LogDispatcher) Notify(ctx context.Context, recipientID, kind string, fields map[string]string) error {
	logFields := make([]zap.Field, 0, len(fields)+2)
	logFields = append(logFields,
		zap.String("recipient_id", recipientID),
		zap.String("kind", kind),
	)
	for k, v := range fields {
		logFields = append(logFields, zap.String(k, v))
	}
	d.logger.Info("Notification dispatched", logFields...)
	return nil
}

// Verify interface compliance
var _ port.NotificationDispatcher = (*LogDispatcher)(nil)
