// Package mail delivers transactional email through Amazon SES.
package mail

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/keeply/keeply-backend/pkg/config"
	"github.com/keeply/keeply-backend/pkg/logger"
)

// Sender delivers a single HTML message.
type Sender interface {
	Send(ctx context.Context, to, subject, html string) error
}

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender sends through the SES v2 API.
type SESSender struct {
	client sesAPI
	from   string
	logg   *logger.Logger
}

// NewSender returns an SES sender, or a logging no-op sender when no from address is set.
func NewSender(ctx context.Context, cfg config.MailConfig, logg *logger.Logger) (Sender, error) {
	if !cfg.Enabled() {
		if logg != nil {
			logg.Warn(ctx, "mail disabled: KEEPLY_MAIL_FROM_EMAIL not configured")
		}
		return &NoopSender{logg: logg}, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if logg != nil {
		logCtx := logg.WithFields(ctx, map[string]any{"region": cfg.Region, "from": cfg.FromEmail})
		logg.Info(logCtx, "mail sender ready")
	}
	return newSESSender(sesv2.NewFromConfig(awsCfg), cfg, logg), nil
}

func newSESSender(client sesAPI, cfg config.MailConfig, logg *logger.Logger) *SESSender {
	from := strings.TrimSpace(cfg.FromEmail)
	if name := strings.TrimSpace(cfg.FromName); name != "" {
		from = fmt.Sprintf("%s <%s>", name, from)
	}
	return &SESSender{client: client, from: from, logg: logg}
}

func (s *SESSender) Send(ctx context.Context, to, subject, html string) error {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(html), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if s.logg != nil {
		fields := map[string]any{"subject": subject}
		if out != nil && out.MessageId != nil {
			fields["message_id"] = *out.MessageId
		}
		s.logg.Info(s.logg.WithFields(ctx, fields), "mail.sent")
	}
	return nil
}

// NoopSender drops messages. Used when mail is not configured.
type NoopSender struct {
	logg *logger.Logger
}

func (n *NoopSender) Send(ctx context.Context, to, subject, _ string) error {
	if n.logg != nil {
		n.logg.Info(n.logg.WithField(ctx, "subject", subject), "mail.skipped")
	}
	return nil
}
