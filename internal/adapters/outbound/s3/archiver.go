// Package s3 implements the LogArchiver port: every indexed window's raw
// decoded logs are archived as gzipped JSON objects so historical state can
// be replayed or audited without re-scanning the chain.
package s3

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/bitredict/relayer/internal/ports/outbound"
)

// Compile-time check that Archiver implements outbound.LogArchiver
var _ outbound.LogArchiver = (*Archiver)(nil)

// putObjectAPI defines the subset of S3 operations needed by the Archiver,
// allowing mocks in tests.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
}

// Archiver writes raw log batches to an S3 bucket.
type Archiver struct {
	client putObjectAPI
	bucket string
	prefix string
	logger *slog.Logger
}

// NewArchiver creates a new S3 archiver writing to the given bucket.
func NewArchiver(cfg aws.Config, bucket, prefix string, logger *slog.Logger) (*Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		client: awss3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
		logger: logger.With("component", "log_archiver"),
	}, nil
}

// newArchiverWithClient is the test seam.
func newArchiverWithClient(client putObjectAPI, bucket, prefix string, logger *slog.Logger) *Archiver {
	return &Archiver{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

// key lays objects out by stream and UTC date so lifecycle rules and
// replay tooling can address a day at a time.
func (a *Archiver) key(stream string, fromBlock, toBlock uint64) string {
	date := time.Now().UTC().Format("2006-01-02")
	key := fmt.Sprintf("%s/%s/%012d-%012d.json.gz", stream, date, fromBlock, toBlock)
	if a.prefix != "" {
		key = a.prefix + "/" + key
	}
	return key
}

// Archive stores the raw payload for one indexed window of a stream.
func (a *Archiver) Archive(ctx context.Context, stream string, fromBlock, toBlock uint64, payload []byte) error {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return fmt.Errorf("compressing archive payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("closing gzip writer: %w", err)
	}

	key := a.key(stream, fromBlock, toBlock)
	_, err := a.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return fmt.Errorf("archiving %s blocks %d-%d: %w", stream, fromBlock, toBlock, err)
	}
	a.logger.Debug("archived log window",
		"stream", stream, "from_block", fromBlock, "to_block", toBlock, "key", key)
	return nil
}
