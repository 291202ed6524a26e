package email

import (
	"context"

	"go.uber.org/zap"
)

type Provider interface {
	Send(ctx context.Context, to []string, subject string, htmlBody string) error
	SendTemplate(ctx context.Context, to []string, templateName string, data map[string]any) error
}

// NoOpProvider drops mail. It is used when no SMTP host is configured.
type NoOpProvider struct {
	log *zap.Logger
}

func (p *NoOpProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	if p.log != nil {
		p.log.Debug("email dropped", zap.String("subject", subject), zap.Int("recipients", len(to)))
	}
	return nil
}

func (p *NoOpProvider) SendTemplate(ctx context.Context, to []string, templateName string, data map[string]any) error {
	if _, err := render(templateName, data); err != nil {
		return err
	}
	return p.Send(ctx, to, subjectFor(templateName, data), "")
}
