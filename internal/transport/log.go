package transport

import (
	"context"

	"github.com/pitchtrail/pitchtrail-backend/pkg/logger"
)

// LogTransport only logs what would have been sent. Used in dev.
type LogTransport struct {
	templates *Templates
	logg      *logger.Logger
}

func NewLogTransport(templates *Templates, logg *logger.Logger) *LogTransport {
	return &LogTransport{templates: templates, logg: logg}
}

func (t *LogTransport) Send(ctx context.Context, delivery Delivery) error {
	fields := map[string]any{
		"recipient": logger.RedactEmail(delivery.Contact.Email),
		"kind":      delivery.Event.Kind,
	}
	if t.templates != nil {
		msg, err := t.templates.Render(delivery)
		if err != nil {
			return Permanent(err)
		}
		fields["subject"] = msg.Subject
	}
	t.logg.Info(t.logg.WithFields(ctx, fields), "follow-up delivery (log transport)")
	return nil
}
