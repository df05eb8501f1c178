// Package snapshot implements the optional export/import of the full fact
// set to an S3-compatible bucket, per spec §4.8 component K. A snapshot is
// a single newline-delimited JSON object, one line per FactRecord,
// uploaded/downloaded as a single object rather than one object per
// record.
package snapshot

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/silvertrail/recall/internal/config"
	"github.com/silvertrail/recall/internal/store"
)

// defaultKey is the single object every Export overwrites and every Import
// reads back.
const defaultKey = "snapshot.jsonl"

// S3Store implements engine.SnapshotStore.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
	key    string
}

// NewS3Store builds an S3Store from configuration, grounded on the
// teacher's internal/objectstore/s3.go NewS3Store (static-credentials
// option, aws-sdk-go-v2 LoadDefaultConfig), narrowed to the one bucket
// this module needs.
func NewS3Store(ctx context.Context, cfg config.S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("snapshot: s3 bucket is required")
	}

	awsOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsOpts = append(awsOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, fmt.Errorf("snapshot: load aws config: %w", err)
	}

	return &S3Store{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
		prefix: strings.TrimSuffix(cfg.Prefix, "/"),
		key:    defaultKey,
	}, nil
}

func (s *S3Store) fullKey() string {
	if s.prefix == "" {
		return s.key
	}
	return s.prefix + "/" + s.key
}

// Export serializes records as newline-delimited JSON and overwrites the
// snapshot object.
func (s *S3Store) Export(ctx context.Context, records []*store.FactRecord) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("snapshot: encode record %s: %w", r.ID, err)
		}
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.fullKey()),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("snapshot: put object: %w", err)
	}
	return nil
}

// Import downloads the snapshot object and decodes it back into records.
// A missing object is not an error: it yields an empty slice, matching a
// store that has never been snapshotted.
func (s *S3Store) Import(ctx context.Context) ([]*store.FactRecord, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey()),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("snapshot: get object: %w", err)
	}
	defer result.Body.Close()

	var records []*store.FactRecord
	scanner := bufio.NewScanner(result.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var r store.FactRecord
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("snapshot: decode record: %w", err)
		}
		records = append(records, &r)
	}
	if err := scanner.Err(); err != nil {
		if err == io.ErrUnexpectedEOF {
			return records, nil
		}
		return nil, fmt.Errorf("snapshot: read object: %w", err)
	}
	return records, nil
}

func isNotFoundError(err error) bool {
	var noSuchKey *s3types.NoSuchKey
	var noSuchBucket *s3types.NoSuchBucket
	return errors.As(err, &noSuchKey) ||
		errors.As(err, &noSuchBucket) ||
		strings.Contains(err.Error(), "NotFound") ||
		strings.Contains(err.Error(), "NoSuchKey")
}
