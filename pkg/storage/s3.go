package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

const (
	// MaxSubmissionSize is the largest source file accepted for archiving (256KB).
	MaxSubmissionSize = 256 * 1024
	// FolderSubmissions is the S3 prefix for archived source code.
	FolderSubmissions = "submissions"
)

// File extensions per submission language; unknown languages archive as .txt.
var languageExtensions = map[string]string{
	"javascript": ".js",
	"typescript": ".ts",
	"python":     ".py",
	"go":         ".go",
	"java":       ".java",
	"cpp":        ".cpp",
	"c":          ".c",
	"rust":       ".rs",
}

// S3Config holds S3 client configuration.
type S3Config struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	SubmissionsBucket    string
	PresignExpireMinutes int
}

// S3 archives submitted code and hands out pre-signed download URLs.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	cfg      S3Config
	logger   *zap.Logger
}

// NewS3 creates an S3 client using credentials from config or the environment.
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	accessKey := cfg.AccessKeyID
	secretKey := cfg.SecretAccessKey
	if accessKey == "" || secretKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey, secretKey, "",
		)))
		logger.Info("S3 client using static credentials", zap.String("region", cfg.Region), zap.String("bucket", cfg.SubmissionsBucket))
	} else {
		logger.Warn("S3 client using default credential chain")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	uploader := manager.NewUploader(client)
	return &S3{
		client:   client,
		uploader: uploader,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// SubmissionKey returns submissions/{room_id}/{game_id}/{submission_id}{ext}.
func SubmissionKey(roomID, gameID, submissionID, language string) string {
	ext, ok := languageExtensions[strings.ToLower(language)]
	if !ok {
		ext = ".txt"
	}
	return path.Join(FolderSubmissions, roomID, gameID, submissionID+ext)
}

// RoomPrefix returns the key prefix holding every archive of a room.
func RoomPrefix(roomID string) string {
	return path.Join(FolderSubmissions, roomID) + "/"
}

// PresignExpire returns the configured presign duration.
func (s *S3) PresignExpire() time.Duration {
	if s.cfg.PresignExpireMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(s.cfg.PresignExpireMinutes) * time.Minute
}

// ArchiveSubmission stores source code under key.
func (s *S3) ArchiveSubmission(ctx context.Context, key, code string) error {
	if len(code) > MaxSubmissionSize {
		return fmt.Errorf("submission exceeds %d bytes", MaxSubmissionSize)
	}
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.SubmissionsBucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(code),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	return nil
}

// PresignSubmission returns a pre-signed GET URL for an archived submission.
func (s *S3) PresignSubmission(ctx context.Context, key string) (string, error) {
	presignClient := s3.NewPresignClient(s.client)
	req, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.SubmissionsBucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.PresignExpire()
	})
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return req.URL, nil
}

// DeleteRoomArchive removes every archived submission of a room.
func (s *S3) DeleteRoomArchive(ctx context.Context, roomID string) (int, error) {
	deleted := 0
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.SubmissionsBucket),
		Prefix: aws.String(RoomPrefix(roomID)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return deleted, fmt.Errorf("list objects: %w", err)
		}
		if len(page.Contents) == 0 {
			continue
		}
		ids := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
		}
		if _, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.cfg.SubmissionsBucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		}); err != nil {
			return deleted, fmt.Errorf("delete objects: %w", err)
		}
		deleted += len(ids)
	}
	s.logger.Debug("room archive deleted", zap.String("room_id", roomID), zap.Int("objects", deleted))
	return deleted, nil
}
