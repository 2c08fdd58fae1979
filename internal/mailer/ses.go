package mailer

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

// sesAPI is the subset of the SES client the transport uses.
type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SESTransport struct {
	client sesAPI
	logger *zap.Logger
}

type SESConfig struct {
	Region string
}

func NewSESTransport(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESTransport, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return &SESTransport{
		client: ses.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// Send sends an email via AWS SES. API errors returned by SES are
// reported as *RejectedError.
func (s *SESTransport) Send(ctx context.Context, email Email) (string, error) {
	if err := validate(email); err != nil {
		return "", err
	}

	body := &types.Body{
		Text: &types.Content{
			Data:    aws.String(email.Text),
			Charset: aws.String("UTF-8"),
		},
	}
	if email.HTML != "" {
		body.Html = &types.Content{
			Data:    aws.String(email.HTML),
			Charset: aws.String("UTF-8"),
		}
	}

	input := &ses.SendEmailInput{
		Source: aws.String(email.From),
		Destination: &types.Destination{
			ToAddresses: []string{email.To},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(email.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: body,
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		if rejected := sesRejection(err); rejected != nil {
			return "", rejected
		}
		return "", fmt.Errorf("ses send failed: %w", err)
	}

	messageID := aws.ToString(result.MessageId)
	s.logger.Debug("email sent via SES",
		zap.String("to", email.To),
		zap.String("message_id", messageID),
	)

	return messageID, nil
}

func (s *SESTransport) Name() string { return "ses" }

// sesThrottleCodes are API errors that report SES capacity, not a problem
// with the message.
var sesThrottleCodes = map[string]bool{
	"Throttling":             true,
	"ThrottlingException":    true,
	"TooManyRequests":        true,
	"MaxSendingRateExceeded": true,
}

// sesRejection returns a RejectedError when SES refused the message itself.
// Server-side faults and throttling return nil so they count as outages.
func sesRejection(err error) *RejectedError {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return nil
	}
	if apiErr.ErrorFault() == smithy.FaultServer || sesThrottleCodes[apiErr.ErrorCode()] {
		return nil
	}

	rejected := &RejectedError{
		Provider: "ses",
		Code:     apiErr.ErrorCode(),
		Message:  apiErr.ErrorMessage(),
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		if respErr.HTTPStatusCode() >= 500 {
			return nil
		}
		rejected.StatusCode = respErr.HTTPStatusCode()
	}
	return rejected
}
