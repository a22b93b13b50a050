// Package reliability provides cloud backups of the database and scheduler
// state files to any S3-compatible store.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	appconfig "github.com/abood991b/insightbull/internal/config"
)

// BackupService packages the data directory's durable files into a tar.gz
// and uploads it. Retention pruning keeps the newest N backups.
type BackupService struct {
	cfg      appconfig.BackupConfig
	dataDir  string
	client   *s3.Client
	uploader *manager.Uploader
	log      zerolog.Logger
}

// backedUpFiles are the durable files worth restoring.
var backedUpFiles = []string{
	"insightbull.db",
	"scheduler_state.json",
	"scheduler_history.json",
	"sentiment_cache.msgpack",
}

// NewBackupService creates a backup service, or nil when no bucket is
// configured (backups disabled).
func NewBackupService(cfg appconfig.BackupConfig, dataDir string, log zerolog.Logger) (*BackupService, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &BackupService{
		cfg:      cfg,
		dataDir:  dataDir,
		client:   client,
		uploader: manager.NewUploader(client),
		log:      log.With().Str("component", "backup").Logger(),
	}, nil
}

// Run creates and uploads one backup, then prunes old ones.
func (s *BackupService) Run(ctx context.Context) error {
	archivePath, checksum, err := s.createArchive()
	if err != nil {
		return fmt.Errorf("failed to create backup archive: %w", err)
	}
	defer os.Remove(archivePath)

	key := filepath.Base(archivePath)
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
		Body:   file,
		Metadata: map[string]string{
			"checksum": checksum,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload backup: %w", err)
	}

	s.log.Info().Str("key", key).Str("checksum", checksum).Msg("Backup uploaded")

	if err := s.prune(ctx); err != nil {
		// Pruning failure leaves extra backups behind; the next run retries.
		s.log.Warn().Err(err).Msg("Backup pruning failed")
	}
	return nil
}

// createArchive builds a tar.gz of the durable files and returns its path
// and sha256 checksum.
func (s *BackupService) createArchive() (string, string, error) {
	timestamp := time.Now().UTC().Format("20060102T150405Z")
	archivePath := filepath.Join(os.TempDir(), fmt.Sprintf("insightbull-backup-%s.tar.gz", timestamp))

	out, err := os.Create(archivePath)
	if err != nil {
		return "", "", err
	}
	defer out.Close()

	hasher := sha256.New()
	gz := gzip.NewWriter(io.MultiWriter(out, hasher))
	tw := tar.NewWriter(gz)

	added := 0
	for _, name := range backedUpFiles {
		path := filepath.Join(s.dataDir, name)
		if err := addFile(tw, path, name); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", "", err
		}
		added++
	}

	if err := tw.Close(); err != nil {
		return "", "", err
	}
	if err := gz.Close(); err != nil {
		return "", "", err
	}
	if added == 0 {
		os.Remove(archivePath)
		return "", "", fmt.Errorf("no files found to back up in %s", s.dataDir)
	}

	return archivePath, hex.EncodeToString(hasher.Sum(nil)), nil
}

func addFile(tw *tar.Writer, path, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	header := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, file)
	return err
}

// prune deletes all but the newest RetainCount backups.
func (s *BackupService) prune(ctx context.Context) error {
	retain := s.cfg.RetainCount
	if retain <= 0 {
		retain = 14
	}

	list, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String("insightbull-backup-"),
	})
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}

	keys := make([]string, 0, len(list.Contents))
	for _, obj := range list.Contents {
		if obj.Key != nil && strings.HasSuffix(*obj.Key, ".tar.gz") {
			keys = append(keys, *obj.Key)
		}
	}
	// Keys embed UTC timestamps, so lexical order is chronological.
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	for _, key := range keys[min(retain, len(keys)):] {
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(key),
		}); err != nil {
			return fmt.Errorf("failed to delete old backup %s: %w", key, err)
		}
		s.log.Debug().Str("key", key).Msg("Pruned old backup")
	}
	return nil
}
