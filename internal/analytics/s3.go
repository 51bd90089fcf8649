package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"task-manager/internal/stream"
)

// S3Config selects the archive bucket. Endpoint and PathStyle target
// S3-compatible emulators.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	PathStyle bool
}

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive stores every task event as a JSON object, one per stream entry.
type S3Archive struct {
	client objectPutter
	bucket string
	logger zerolog.Logger
}

// NewS3Archive loads AWS credentials from the default chain.
func NewS3Archive(ctx context.Context, cfg S3Config, logger zerolog.Logger) (*S3Archive, error) {
	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newS3Archive(client, cfg.Bucket, logger), nil
}

func newS3Archive(client objectPutter, bucket string, logger zerolog.Logger) *S3Archive {
	return &S3Archive{client: client, bucket: bucket, logger: logger.With().Str("sink", "s3").Logger()}
}

func newS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	}), nil
}

type archivedEvent struct {
	EntryID    string  `json:"entry_id"`
	TaskID     string  `json:"task_id"`
	LocationID *string `json:"location_id"`
	Timestamp  int64   `json:"timestamp"`
}

// ObjectKey is task-events/YYYY/MM/DD/{entryID}.json, dated by the event time in UTC.
func ObjectKey(msg stream.Message) string {
	day := time.Unix(msg.Event.Timestamp, 0).UTC().Format("2006/01/02")
	return fmt.Sprintf("task-events/%s/%s.json", day, msg.ID)
}

// Handle uploads the event. Rewrites of the same entry overwrite the same key.
func (a *S3Archive) Handle(ctx context.Context, msg stream.Message) error {
	body, err := json.Marshal(archivedEvent{
		EntryID:    msg.ID,
		TaskID:     msg.Event.TaskID,
		LocationID: msg.Event.LocationID,
		Timestamp:  msg.Event.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	key := ObjectKey(msg)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	a.logger.Debug().Str("key", key).Msg("task event archived")
	return nil
}
