package collaborators

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// S3ColdStore is the optional archival tier for snapshot.Service
// (snapshot.ColdStore), generalizing the teacher's R2-backup-to-S3 job:
// same "upload, then let retention prune the hot copy" shape, applied to
// individual snapshot payloads instead of a nightly tarball of every
// database.
type S3ColdStore struct {
	bucket   string
	uploader *manager.Uploader
	log      zerolog.Logger
}

// NewS3ColdStore builds a cold store against bucket using the default AWS
// credential chain (env vars, shared config, or an explicit endpoint for
// an S3-compatible provider like Cloudflare R2 via endpointURL).
func NewS3ColdStore(ctx context.Context, bucket, region, endpointURL string, log zerolog.Logger) (*S3ColdStore, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpointURL != "" {
			o.BaseEndpoint = aws.String(endpointURL)
		}
	})

	return &S3ColdStore{
		bucket:   bucket,
		uploader: manager.NewUploader(client),
		log:      log.With().Str("component", "s3_cold_store").Str("bucket", bucket).Logger(),
	}, nil
}

// Upload implements snapshot.ColdStore.
func (s *S3ColdStore) Upload(ctx context.Context, key string, payload []byte) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(payload),
	})
	if err != nil {
		return fmt.Errorf("upload snapshot %s: %w", key, err)
	}
	s.log.Debug().Str("key", key).Int("bytes", len(payload)).Msg("archived snapshot to cold storage")
	return nil
}
