// Package reliability handles run-report archiving to durable object
// storage.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/quantfolio/internal/modules/pipeline"
)

const archivePrefix = "quantfolio-run-"

// ArchiveService uploads gzipped run-report archives to an S3-compatible
// bucket and rotates old ones.
type ArchiveService struct {
	client  *S3Client
	dataDir string
	log     zerolog.Logger
}

// ArchiveMetadata describes the report inside an archive.
type ArchiveMetadata struct {
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
	SizeBytes int64     `json:"size_bytes"`
	Checksum  string    `json:"checksum"`
}

// ArchiveInfo represents one stored archive.
type ArchiveInfo struct {
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// NewArchiveService creates a new archive service
func NewArchiveService(client *S3Client, dataDir string, log zerolog.Logger) *ArchiveService {
	return &ArchiveService{
		client:  client,
		dataDir: dataDir,
		log:     log.With().Str("service", "archive").Logger(),
	}
}

// ArchiveRun serializes a run record, wraps it in a tar.gz archive with a
// checksum manifest, and uploads it.
func (s *ArchiveService) ArchiveRun(ctx context.Context, run *pipeline.RunResult) error {
	s.log.Info().Str("run_id", run.ID).Msg("Archiving run report")
	startTime := time.Now()

	stagingDir := filepath.Join(s.dataDir, "archive-staging")
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	reportPath := filepath.Join(stagingDir, "run-report.json")
	if err := writeJSONFile(reportPath, run); err != nil {
		return fmt.Errorf("failed to write run report: %w", err)
	}

	info, err := os.Stat(reportPath)
	if err != nil {
		return fmt.Errorf("failed to stat run report: %w", err)
	}
	checksum, err := s.calculateChecksum(reportPath)
	if err != nil {
		return fmt.Errorf("failed to calculate checksum: %w", err)
	}

	metadata := ArchiveMetadata{
		RunID:     run.ID,
		Timestamp: time.Now().UTC(),
		Status:    string(run.Status),
		SizeBytes: info.Size(),
		Checksum:  checksum,
	}
	metadataPath := filepath.Join(stagingDir, "archive-metadata.json")
	if err := writeJSONFile(metadataPath, metadata); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02-150405")
	archiveName := fmt.Sprintf("%s%s-%s.tar.gz", archivePrefix, run.ID, timestamp)
	archivePath := filepath.Join(stagingDir, archiveName)

	if err := s.createArchive(archivePath, []string{reportPath, metadataPath}); err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer archiveFile.Close()

	if err := s.client.Upload(ctx, archiveName, archiveFile); err != nil {
		return fmt.Errorf("failed to upload archive: %w", err)
	}

	s.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Str("archive", archiveName).
		Msg("Run report archived")

	return nil
}

// ListArchives lists stored run archives, newest first.
func (s *ArchiveService) ListArchives(ctx context.Context) ([]ArchiveInfo, error) {
	objects, err := s.client.List(ctx, archivePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}

	archives := make([]ArchiveInfo, 0, len(objects))
	now := time.Now()

	for _, obj := range objects {
		if obj.Key == nil {
			continue
		}
		filename := *obj.Key
		if !strings.HasPrefix(filename, archivePrefix) || !strings.HasSuffix(filename, ".tar.gz") {
			continue
		}

		// Timestamp is the trailing filename segment:
		// quantfolio-run-<uuid>-2026-08-29-220000.tar.gz
		trimmed := strings.TrimSuffix(filename, ".tar.gz")
		parts := strings.Split(trimmed, "-")
		if len(parts) < 4 {
			continue
		}
		timestampStr := strings.Join(parts[len(parts)-4:], "-")
		timestamp, err := time.Parse("2006-01-02-150405", timestampStr)
		if err != nil {
			s.log.Warn().Str("filename", filename).Msg("Failed to parse timestamp from filename")
			continue
		}

		var sizeBytes int64
		if obj.Size != nil {
			sizeBytes = *obj.Size
		}

		archives = append(archives, ArchiveInfo{
			Filename:  filename,
			Timestamp: timestamp,
			SizeBytes: sizeBytes,
			AgeHours:  int64(now.Sub(timestamp).Hours()),
		})
	}

	sort.Slice(archives, func(i, j int) bool {
		return archives[i].Timestamp.After(archives[j].Timestamp)
	})

	return archives, nil
}

// RotateOldArchives deletes archives older than the retention period,
// always keeping the newest three.
func (s *ArchiveService) RotateOldArchives(ctx context.Context, retentionDays int) error {
	s.log.Info().Int("retention_days", retentionDays).Msg("Starting archive rotation")

	archives, err := s.ListArchives(ctx)
	if err != nil {
		return fmt.Errorf("failed to list archives: %w", err)
	}

	const minToKeep = 3
	if len(archives) <= minToKeep || retentionDays <= 0 {
		return nil
	}

	cutoffTime := time.Now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for i, archive := range archives {
		if i < minToKeep {
			continue
		}
		if archive.Timestamp.Before(cutoffTime) {
			if err := s.client.Delete(ctx, archive.Filename); err != nil {
				s.log.Error().Err(err).Str("filename", archive.Filename).Msg("Failed to delete old archive")
				continue
			}
			deleted++
		}
	}

	s.log.Info().
		Int("deleted", deleted).
		Int("remaining", len(archives)-deleted).
		Msg("Archive rotation completed")

	return nil
}

// calculateChecksum calculates the SHA256 checksum of a file.
func (s *ArchiveService) calculateChecksum(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

// createArchive creates a tar.gz archive of the given files.
func (s *ArchiveService) createArchive(archivePath string, files []string) error {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer archiveFile.Close()

	gzipWriter := gzip.NewWriter(archiveFile)
	defer gzipWriter.Close()

	tarWriter := tar.NewWriter(gzipWriter)
	defer tarWriter.Close()

	for _, path := range files {
		if err := s.addFileToArchive(tarWriter, path, filepath.Base(path)); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", path, err)
		}
	}

	return nil
}

// addFileToArchive adds a single file to a tar archive.
func (s *ArchiveService) addFileToArchive(tarWriter *tar.Writer, filePath, nameInArchive string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}

	if err := tarWriter.WriteHeader(header); err != nil {
		return err
	}

	if _, err := io.Copy(tarWriter, file); err != nil {
		return err
	}

	return nil
}

func writeJSONFile(path string, v any) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
