package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/ruteri/tee-oracle-bridge/interfaces"
)

// S3Archive writes terminal request records to Amazon S3 or a compatible
// object store. Objects are keyed <prefix>/<year>/<month>/<request-id>.json
// so lifecycle rules can expire old archives by prefix.
type S3Archive struct {
	client      *s3.S3
	bucket      string
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewS3Archive creates an archive sink for the given bucket. With empty
// credentials the default AWS credential chain is used.
func NewS3Archive(bucket, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Archive, error) {
	cfg := aws.Config{Region: aws.String(region)}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}
	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	uri := fmt.Sprintf("s3://%s/%s?region=%s", bucket, prefix, region)
	return &S3Archive{
		client:      s3.New(sess),
		bucket:      bucket,
		prefix:      prefix,
		log:         log,
		locationURI: uri,
	}, nil
}

// Archive uploads the request record. Idempotent: re-archiving overwrites
// the same object.
func (a *S3Archive) Archive(ctx context.Context, req interfaces.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	key := a.objectKey(req)
	_, err = a.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload archive object %s: %w", key, err)
	}
	a.log.Debug("archived request", "request_id", req.ID, "object", key)
	return nil
}

func (a *S3Archive) objectKey(req interfaces.Request) string {
	t := req.CreatedAt
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return fmt.Sprintf("%s/%04d/%02d/%s.json", a.prefix, t.Year(), t.Month(), req.ID)
}

// LocationURI returns the sink's canonical URI.
func (a *S3Archive) LocationURI() string {
	return a.locationURI
}
