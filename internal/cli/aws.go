package cli

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/m-mizutani/goerr/v2"

	"socialplus-report/internal/apperr"
	"socialplus-report/internal/archive"
	"socialplus-report/internal/config"
	"socialplus-report/internal/notify"
)

// loadAWSConfig resolves credentials from the default chain. An empty region
// falls back to AWS_REGION and the shared config.
func loadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, goerr.Wrap(err, "failed to load AWS configuration",
			goerr.V("region", region),
			goerr.T(apperr.TagConfig))
	}
	return cfg, nil
}

func newMailer(ctx context.Context, cfg config.EmailConfig) (notify.Mailer, error) {
	if cfg.Transport != config.TransportSES {
		return notify.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SenderEmail, cfg.SenderPassword, cfg.Timeout), nil
	}
	awsCfg, err := loadAWSConfig(ctx, cfg.SESRegion)
	if err != nil {
		return nil, err
	}
	return notify.NewSESMailer(ses.NewFromConfig(awsCfg)), nil
}

func newArchiver(ctx context.Context, cfg config.ArchiveConfig) (*archive.S3Archiver, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg.Region)
	if err != nil {
		return nil, err
	}
	return archive.NewS3Archiver(s3.NewFromConfig(awsCfg), cfg.S3Bucket, cfg.S3Prefix), nil
}
