package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/ManuelReschke/PropNest/app/models"
	"github.com/ManuelReschke/PropNest/internal/pkg/config"
	"github.com/ManuelReschke/PropNest/internal/pkg/logger"
)

// Archiver stores an immutable snapshot of a paid invoice.
type Archiver interface {
	ArchiveInvoice(ctx context.Context, invoice *models.Invoice) error
}

// Noop is used when archiving is disabled.
type Noop struct{}

func (Noop) ArchiveInvoice(context.Context, *models.Invoice) error { return nil }

// PutObjectAPI is the part of the S3 client the archive needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes invoices to invoices/YYYY/MM/<invoice_no>.json.
type S3Archiver struct {
	client PutObjectAPI
	bucket string
	log    *zap.Logger
}

func NewS3Archiver(client PutObjectAPI, bucket string, log *zap.Logger) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, log: logger.OrNop(log)}
}

// New builds the archiver described by cfg. A disabled archive returns Noop.
func New(ctx context.Context, cfg config.ArchiveConfig, log *zap.Logger) (Archiver, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			// S3 compatible stores such as B2 or MinIO need path-style URLs
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
			o.UseAccelerate = false
		}
	})
	logger.OrNop(log).Info("invoice archive enabled", zap.String("bucket", cfg.BucketName))
	return NewS3Archiver(client, cfg.BucketName, log), nil
}

// ObjectKey returns where an invoice snapshot is stored.
func ObjectKey(invoice *models.Invoice) string {
	issued := invoice.CreatedAt.UTC()
	return fmt.Sprintf("invoices/%04d/%02d/%s.json", issued.Year(), int(issued.Month()), invoice.InvoiceNo)
}

func (a *S3Archiver) ArchiveInvoice(ctx context.Context, invoice *models.Invoice) error {
	body, err := json.Marshal(invoice)
	if err != nil {
		return fmt.Errorf("failed to encode invoice %s: %w", invoice.InvoiceNo, err)
	}

	key := ObjectKey(invoice)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", a.bucket, key, err)
	}

	a.log.Debug("invoice archived", zap.String("bucket", a.bucket), zap.String("key", key))
	return nil
}
