package backup

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/lucerna-id/credential-engine/interfaces"
)

// S3ArchiverConfig configures an S3Archiver.
type S3ArchiverConfig struct {
	// Bucket is the target bucket name.
	Bucket string

	// Prefix is prepended to every snapshot key.
	Prefix string

	// Region is the bucket's region.
	Region string

	// Endpoint overrides the S3 endpoint for S3-compatible services.
	Endpoint string

	// AccessKey and SecretKey are static credentials. When empty the SDK's
	// default credential chain applies.
	AccessKey string
	SecretKey string

	// ForcePathStyle addresses the bucket in the path instead of the host,
	// required by most S3-compatibles.
	ForcePathStyle bool

	// Log is the structured logger.
	Log *slog.Logger
}

// snapshotRecord is one credential in a snapshot document. Cipher text is
// carried as-is; snapshots never contain plaintext.
type snapshotRecord struct {
	SubjectID  string `json:"subject_id"`
	CipherText string `json:"cipher_text"` // base64
	CreatedAt  int64  `json:"created_at"`  // unix nanoseconds
	UpdatedAt  int64  `json:"updated_at"`
}

// snapshotDocument is the JSON object written per snapshot.
type snapshotDocument struct {
	TakenAt time.Time        `json:"taken_at"`
	Records []snapshotRecord `json:"records"`
}

// S3Archiver writes point-in-time exports of the credential records to S3
// for disaster recovery. The records are already sealed, so a snapshot is
// exactly as sensitive as the store itself: useless without the derivation
// secret and the per-subject passphrases.
type S3Archiver struct {
	client  *s3.S3
	records interfaces.RecordStore
	bucket  string
	prefix  string
	log     *slog.Logger
}

// NewS3Archiver creates a snapshot archiver for a bucket.
func NewS3Archiver(records interfaces.RecordStore, cfg *S3ArchiverConfig) (*S3Archiver, error) {
	if records == nil {
		return nil, errors.New("record store is required")
	}
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if cfg.Region == "" {
		return nil, errors.New("region is required")
	}
	if cfg.Log == nil {
		return nil, errors.New("logger is required")
	}

	awsCfg := aws.Config{
		Region: aws.String(cfg.Region),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.ForcePathStyle {
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	sess, err := session.NewSession(&awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3Archiver{
		client:  s3.New(sess),
		records: records,
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		log:     cfg.Log,
	}, nil
}

// Archive writes one snapshot of every credential record and returns the
// object key.
func (a *S3Archiver) Archive(ctx context.Context) (string, error) {
	start := time.Now()

	records, err := a.records.ListRecords(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list records for snapshot: %w", err)
	}

	takenAt := time.Now().UTC()
	doc := snapshotDocument{
		TakenAt: takenAt,
		Records: make([]snapshotRecord, 0, len(records)),
	}
	for _, record := range records {
		doc.Records = append(doc.Records, snapshotRecord{
			SubjectID:  record.SubjectID.String(),
			CipherText: base64.StdEncoding.EncodeToString(record.CipherText),
			CreatedAt:  record.CreatedAt.UnixNano(),
			UpdatedAt:  record.UpdatedAt.UnixNano(),
		})
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	key := path.Join(a.prefix, "snapshots", takenAt.Format(time.RFC3339)+".json")
	_, err = a.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		a.log.Error("Failed to upload snapshot",
			slog.String("bucket", a.bucket),
			slog.String("key", key),
			"err", err,
			slog.Duration("duration", time.Since(start)),
		)
		return "", fmt.Errorf("failed to upload snapshot to S3: %w", err)
	}

	a.log.Info("Snapshot written",
		slog.String("bucket", a.bucket),
		slog.String("key", key),
		slog.Int("records", len(doc.Records)),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)),
	)
	return key, nil
}

// Available checks S3 reachability by heading the bucket.
func (a *S3Archiver) Available(ctx context.Context) bool {
	_, err := a.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(a.bucket),
	})
	if err != nil {
		a.log.Warn("Snapshot bucket unavailable",
			slog.String("bucket", a.bucket),
			"err", err,
		)
		return false
	}
	return true
}
