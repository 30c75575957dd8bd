// Package publish uploads finished result tables to S3-compatible storage.
package publish

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"

	"github.com/johndauphine/benchsweep/internal/config"
	"github.com/johndauphine/benchsweep/internal/logging"
	"github.com/johndauphine/benchsweep/internal/results"
)

// ObjectPutter is the subset of the S3 client used here.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Object describes one uploaded table.
type Object struct {
	Table string `json:"table"`
	URI   string `json:"uri"`
	Bytes int    `json:"bytes"`
}

// Publisher uploads tables under <prefix>/<sweep-id>/.
type Publisher struct {
	client     ObjectPutter
	cfg        config.PublishConfig
	maxRetries int
}

// New creates a Publisher using the default AWS credential chain.
func New(ctx context.Context, cfg config.PublishConfig) (*Publisher, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return NewWithClient(s3.NewFromConfig(awsCfg, s3Opts...), cfg), nil
}

// NewWithClient creates a Publisher with a pre-configured client.
func NewWithClient(client ObjectPutter, cfg config.PublishConfig) *Publisher {
	return &Publisher{client: client, cfg: cfg, maxRetries: 3}
}

// Publish uploads every table and returns the objects written.
func (p *Publisher) Publish(ctx context.Context, sweepID string, tables []results.Table) ([]Object, error) {
	var objects []Object
	for _, t := range tables {
		data, err := os.ReadFile(t.Path)
		if err != nil {
			return objects, fmt.Errorf("reading %s: %w", t.Path, err)
		}

		key := p.Key(sweepID, t.Path)
		contentType := "text/csv"
		if p.compress() {
			data, err = compress(data)
			if err != nil {
				return objects, fmt.Errorf("compressing %s: %w", t.Name, err)
			}
			key += ".zst"
			contentType = "application/zstd"
		}

		err = p.retryWithBackoff(ctx, func() error {
			_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
				Bucket:      aws.String(p.cfg.Bucket),
				Key:         aws.String(key),
				Body:        bytes.NewReader(data),
				ContentType: aws.String(contentType),
			})
			return err
		})
		if err != nil {
			return objects, fmt.Errorf("uploading %s: %w", t.Name, err)
		}

		obj := Object{Table: t.Name, URI: "s3://" + p.cfg.Bucket + "/" + key, Bytes: len(data)}
		logging.Info("Published %s to %s", t.Name, obj.URI)
		objects = append(objects, obj)
	}
	return objects, nil
}

// Key returns the object key of a table file for a sweep.
func (p *Publisher) Key(sweepID, tablePath string) string {
	return path.Join(p.cfg.Prefix, sweepID, filepath.Base(tablePath))
}

func (p *Publisher) compress() bool {
	return p.cfg.Compress == "zstd"
}

func compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, make([]byte, 0, len(data)/4)), nil
}

func (p *Publisher) retryWithBackoff(ctx context.Context, operation func() error) error {
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = operation()
		if lastErr == nil {
			return nil
		}
		if attempt < p.maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return lastErr
}
