package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"
	"github.com/go-playground/validator/v10"

	"github.com/pitchtrail/pitchtrail-backend/pkg/config"
	"github.com/pitchtrail/pitchtrail-backend/pkg/logger"
)

const charsetUTF8 = "UTF-8"

// SES error codes that no retry can fix.
var permanentSESCodes = map[string]struct{}{
	"MessageRejected":                    {},
	"MailFromDomainNotVerifiedException": {},
	"BadRequestException":                {},
	"NotFoundException":                  {},
	"AccountSuspendedException":          {},
}

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESParams wires the SES email transport.
type SESParams struct {
	Client    sesAPI
	Templates *Templates
	Config    config.TransportConfig
	Logger    *logger.Logger
}

// SESTransport sends email steps through Amazon SES v2.
type SESTransport struct {
	client    sesAPI
	templates *Templates
	from      string
	configSet string
	validate  *validator.Validate
	logg      *logger.Logger
}

// NewSESClient builds an SES v2 client from the default credential chain, or static keys when configured.
func NewSESClient(ctx context.Context, cfg config.AWSConfig) (*sesv2.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.HasStaticCredentials() {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return sesv2.NewFromConfig(awsCfg), nil
}

func NewSESTransport(params SESParams) (*SESTransport, error) {
	if params.Client == nil {
		return nil, errors.New("ses client required")
	}
	if params.Templates == nil {
		return nil, errors.New("templates required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Config.FromAddress == "" {
		return nil, errors.New("from address required")
	}
	from := params.Config.FromAddress
	if params.Config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", params.Config.FromName, params.Config.FromAddress)
	}
	return &SESTransport{
		client:    params.Client,
		templates: params.Templates,
		from:      from,
		configSet: params.Config.ConfigSet,
		validate:  validator.New(),
		logg:      params.Logger,
	}, nil
}

func (t *SESTransport) Send(ctx context.Context, delivery Delivery) error {
	recipient := strings.TrimSpace(delivery.Contact.Email)
	if err := t.validate.Var(recipient, "required,email"); err != nil {
		return Permanent(fmt.Errorf("invalid recipient address: %w", err))
	}

	msg, err := t.templates.Render(delivery)
	if err != nil {
		return Permanent(err)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(t.from),
		Destination:      &types.Destination{ToAddresses: []string{recipient}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String(charsetUTF8)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(msg.Body), Charset: aws.String(charsetUTF8)},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("cadence_event_id"), Value: aws.String(delivery.Event.ID.String())},
			{Name: aws.String("cadence_kind"), Value: aws.String(string(delivery.Event.Kind))},
		},
	}
	if t.configSet != "" {
		input.ConfigurationSetName = aws.String(t.configSet)
	}

	out, err := t.client.SendEmail(ctx, input)
	if err != nil {
		return classifySESError(err)
	}

	fields := map[string]any{"recipient": logger.RedactEmail(recipient)}
	if out != nil && out.MessageId != nil {
		fields["message_id"] = *out.MessageId
	}
	t.logg.Info(t.logg.WithFields(ctx, fields), "follow-up email sent")
	return nil
}

func classifySESError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Transient(err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if _, ok := permanentSESCodes[apiErr.ErrorCode()]; ok {
			return Permanent(err)
		}
	}
	return Transient(err)
}
