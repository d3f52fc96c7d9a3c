package sink

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"go.uber.org/zap"
)

// S3ArchiveConfig holds the archival sink's bucket and credential
// settings.
type S3ArchiveConfig struct {
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Prefix    string
}

// S3Archiver periodically uploads the sqlite snapshot file to S3 so a
// gateway can be restored on a fresh host after total disk loss.
type S3Archiver struct {
	client *s3.S3
	bucket string
	prefix string
	logger *zap.Logger
}

// NewS3Archiver creates an S3 client and verifies the bucket exists.
func NewS3Archiver(cfg S3ArchiveConfig, logger *zap.Logger) (*S3Archiver, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg := &aws.Config{Region: aws.String(region)}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("sink: create aws session: %w", err)
	}

	client := s3.New(sess)
	if _, err := client.HeadBucket(&s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("sink: access bucket %s: %w", cfg.Bucket, err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "modgate-snapshots"
	}

	return &S3Archiver{client: client, bucket: cfg.Bucket, prefix: prefix, logger: logger}, nil
}

// ArchiveFile uploads the file at path under <prefix>/<unix-timestamp>-modgate.db.
func (a *S3Archiver) ArchiveFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("sink: read %s: %w", path, err)
	}

	key := fmt.Sprintf("%s/%d-modgate.db", a.prefix, time.Now().Unix())
	_, err = a.client.PutObject(&s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("sink: upload %s: %w", key, err)
	}
	a.logger.Info("sink: archived snapshot to s3", zap.String("key", key), zap.Int("bytes", len(data)))
	return nil
}

// RunPeriodic archives path every interval until stop is closed.
func (a *S3Archiver) RunPeriodic(path string, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := a.ArchiveFile(path); err != nil {
				a.logger.Warn("sink: periodic archive failed", zap.Error(err))
			}
		case <-stop:
			return
		}
	}
}
