package mailer

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/mrz1836/postmark"
	"go.uber.org/zap"
)

type postmarkAPI interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// PostmarkTransport sends mail through the Postmark API.
type PostmarkTransport struct {
	client postmarkAPI
	tag    string
	logger *zap.Logger
}

type PostmarkConfig struct {
	ServerToken  string
	AccountToken string
	// Tag labels messages in the Postmark activity feed.
	Tag string
}

func NewPostmarkTransport(cfg PostmarkConfig, logger *zap.Logger) (*PostmarkTransport, error) {
	if cfg.ServerToken == "" {
		return nil, fmt.Errorf("postmark server token is required")
	}
	tag := cfg.Tag
	if tag == "" {
		tag = "waitlist-reminder"
	}
	return &PostmarkTransport{
		client: postmark.NewClient(cfg.ServerToken, cfg.AccountToken),
		tag:    tag,
		logger: logger,
	}, nil
}

// Send delivers email. A Postmark error code, either in the response or in an
// APIError, is a rejection. Any other error means Postmark was not reached.
func (p *PostmarkTransport) Send(ctx context.Context, email Email) (string, error) {
	if err := validate(email); err != nil {
		return "", err
	}

	res, err := p.client.SendEmail(ctx, postmark.Email{
		From:     email.From,
		To:       email.To,
		Subject:  email.Subject,
		TextBody: email.Text,
		HTMLBody: email.HTML,
		Tag:      p.tag,
	})
	if res.ErrorCode != 0 {
		return "", &RejectedError{
			Provider: "postmark",
			Code:     strconv.FormatInt(res.ErrorCode, 10),
			Message:  res.Message,
		}
	}
	var apiErr postmark.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode != 0 {
		return "", &RejectedError{
			Provider: "postmark",
			Code:     strconv.FormatInt(apiErr.ErrorCode, 10),
			Message:  apiErr.Message,
		}
	}
	if err != nil {
		return "", fmt.Errorf("postmark send failed: %w", err)
	}

	p.logger.Debug("email sent via Postmark",
		zap.String("to", email.To),
		zap.String("message_id", res.MessageID),
	)

	return res.MessageID, nil
}

func (p *PostmarkTransport) Name() string { return "postmark" }
