package backup

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"custodia/internal/logging"

	"github.com/google/uuid"
)

// FileBackupService archives user files into per-sensitivity tar artifacts.
// Grouping by sensitivity keeps the mandatory-encrypt rule enforceable at the
// artifact level: protected-subject content is always encrypted, even when
// the job itself runs with encryption disabled.
type FileBackupService struct {
	config     *FilesConfig
	storage    StorageBackend
	manifests  *ManifestStore
	pipeline   *ArtifactPipeline
	scratchDir string
	logger     *logging.Logger
}

type fileEntry struct {
	path        string
	size        int64
	mode        fs.FileMode
	modTime     time.Time
	sensitivity SensitivityClass
	logicalType string
}

// NewFileBackupService creates a file backup service
func NewFileBackupService(config *FilesConfig, storage StorageBackend, manifests *ManifestStore, pipeline *ArtifactPipeline, scratchDir string, logger *logging.Logger) *FileBackupService {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &FileBackupService{
		config:     config,
		storage:    storage,
		manifests:  manifests,
		pipeline:   pipeline,
		scratchDir: scratchDir,
		logger:     logger,
	}
}

// Component identifies this service as the files component
func (fb *FileBackupService) Component() ComponentType {
	return ComponentFiles
}

// CreateBackup discovers files under the configured roots and produces one
// tar artifact per sensitivity class present. Unreadable files are recorded
// as item errors without failing the whole component.
func (fb *FileBackupService) CreateBackup(ctx context.Context, opts BackupOptions) (*ComponentBackup, error) {
	start := time.Now()

	kind := opts.Kind
	if kind == "" {
		kind = BackupKindFull
	}

	since := opts.IncrementalSince
	var fallbackWarning string
	if kind == BackupKindIncremental && since == nil {
		baseline, baseErr := fb.lastBackupTime(ctx)
		if baseErr != nil {
			fb.logger.Warnf("No baseline for incremental file backup, falling back to full capture")
			fallbackWarning = "no baseline found for incremental backup, performed full capture instead"
			kind = BackupKindFull
		} else {
			since = &baseline
		}
	}
	if since != nil {
		kind = BackupKindIncremental
	}

	entries, warnings, err := fb.discoverFiles(since)
	if err != nil {
		return nil, err
	}

	result := &ComponentBackup{
		Component: ComponentFiles,
		Warnings:  warnings,
	}
	if fallbackWarning != "" {
		result.Warnings = append(result.Warnings, fallbackWarning)
	}

	if len(entries) == 0 {
		result.Success = true
		result.Warnings = append(result.Warnings, "no files matched discovery criteria")
		return result, nil
	}

	groups := map[SensitivityClass][]fileEntry{}
	for _, entry := range entries {
		groups[entry.sensitivity] = append(groups[entry.sensitivity], entry)
	}

	for _, class := range []SensitivityClass{SensitivityStandard, SensitivityConfidential, SensitivityProtectedSubject} {
		group, present := groups[class]
		if !present {
			continue
		}

		archive, fileList, fileTypes, itemErrors := fb.buildArchive(group)
		if len(fileList) == 0 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("no readable files in %s group", strings.ToLower(string(class))))
			continue
		}

		template := Manifest{
			ArtifactID:     uuid.New().String(),
			Component:      ComponentFiles,
			Kind:           kind,
			FileList:       fileList,
			FileTypes:      fileTypes,
			Sensitivity:    class,
			ProcessedCount: len(fileList),
			ErrorCount:     len(itemErrors),
			ItemErrors:     itemErrors,
		}

		baseName := fmt.Sprintf("files-%s-%s.tar",
			strings.ToLower(string(class)), time.Now().UTC().Format("20060102-150405"))
		manifest, pushErr := PushArtifact(ctx, fb.storage, fb.pipeline, fb.manifests, fb.scratchDir, archive, template, opts, baseName)
		if pushErr != nil {
			fb.logger.LogComponentBackup(opts.ExecutionID, string(ComponentFiles), 0, time.Since(start), false, pushErr)
			return nil, pushErr
		}

		result.ArtifactPaths = append(result.ArtifactPaths, manifest.ArtifactPath)
		result.TotalSize += manifest.Size
		result.Manifests = append(result.Manifests, manifest)

		for _, itemError := range itemErrors {
			result.Warnings = append(result.Warnings, itemError)
		}
	}

	if len(result.Manifests) == 0 {
		return nil, NewPartialFailureError("no file artifacts could be produced", nil)
	}

	result.Success = true
	fb.logger.LogComponentBackup(opts.ExecutionID, string(ComponentFiles), result.TotalSize, time.Since(start), true, nil)
	return result, nil
}

// Restore extracts a file archive back to the original paths. Extraction is
// best effort: a failed file is recorded and the rest continue.
func (fb *FileBackupService) Restore(ctx context.Context, manifest *Manifest, dryRun bool) ([]RestoredItem, error) {
	archive, err := FetchArtifact(ctx, fb.storage, fb.pipeline, manifest, fb.scratchDir)
	if err != nil {
		return nil, err
	}

	reader := tar.NewReader(bytes.NewReader(archive))
	var restored []RestoredItem
	var itemErrors []string

	for {
		header, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return restored, NewIntegrityError("corrupt file archive", err).
				WithContext("artifact_id", manifest.ArtifactID)
		}

		target := restoreTarget(header.Name)
		if target == "" {
			itemErrors = append(itemErrors, fmt.Sprintf("skipped unsafe archive path %q", header.Name))
			continue
		}

		if dryRun {
			restored = append(restored, RestoredItem{Path: target, Size: header.Size, DryRun: true})
			continue
		}

		if err := extractFile(reader, target, fs.FileMode(header.Mode)); err != nil {
			itemErrors = append(itemErrors, fmt.Sprintf("failed to restore %s: %v", target, err))
			continue
		}
		restored = append(restored, RestoredItem{Path: target, Size: header.Size})
	}

	if len(itemErrors) > 0 && len(restored) == 0 {
		return nil, NewPartialFailureError("no files could be restored", nil).
			WithContext("item_errors", strings.Join(itemErrors, "; "))
	}
	for _, itemError := range itemErrors {
		fb.logger.Warn(itemError)
	}

	return restored, nil
}

// ListBackups returns file manifests, newest first
func (fb *FileBackupService) ListBackups(ctx context.Context, limit int) ([]*Manifest, error) {
	all, err := fb.manifests.List(ctx, "", 0)
	if err != nil {
		return nil, err
	}
	var out []*Manifest
	for _, manifest := range all {
		if manifest.Component == ComponentFiles {
			out = append(out, manifest)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// lastBackupTime returns the creation time of the newest file manifest. It is
// the modification-time cutoff for an incremental run with no explicit bound.
func (fb *FileBackupService) lastBackupTime(ctx context.Context) (time.Time, error) {
	manifests, err := fb.ListBackups(ctx, 1)
	if err != nil {
		return time.Time{}, err
	}
	if len(manifests) == 0 {
		return time.Time{}, NewDependencyError("no baseline backup found", nil)
	}
	return manifests[0].CreatedAt, nil
}

// discoverFiles walks the configured roots applying the include patterns, the
// dotfile rule, and the size ceiling. A non-nil since bounds discovery to
// files modified after it.
func (fb *FileBackupService) discoverFiles(since *time.Time) ([]fileEntry, []string, error) {
	if len(fb.config.Roots) == 0 {
		return nil, nil, NewValidationError("no file roots configured", nil)
	}

	var entries []fileEntry
	var warnings []string

	for _, root := range fb.config.Roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("cannot access %s: %v", path, err))
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			name := d.Name()
			if strings.HasPrefix(name, ".") && path != root {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}

			if !fb.matchesInclude(name) {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("cannot stat %s: %v", path, err))
				return nil
			}

			if info.Size() > fb.config.MaxFileSize {
				warnings = append(warnings, fmt.Sprintf("skipped %s: size %d exceeds ceiling %d", path, info.Size(), fb.config.MaxFileSize))
				return nil
			}

			if since != nil && !info.ModTime().After(*since) {
				return nil
			}

			entries = append(entries, fileEntry{
				path:        path,
				size:        info.Size(),
				mode:        info.Mode(),
				modTime:     info.ModTime(),
				sensitivity: fb.classify(path),
				logicalType: logicalFileType(path),
			})
			return nil
		})
		if err != nil {
			return nil, nil, NewStorageError(fmt.Sprintf("failed to walk root %s", root), err)
		}
	}

	return entries, warnings, nil
}

// matchesInclude reports whether a file name matches any include pattern
func (fb *FileBackupService) matchesInclude(name string) bool {
	for _, pattern := range fb.config.IncludePatterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// classify assigns a sensitivity class from the file path. Any path segment
// matching a protected-subject pattern makes the whole file protected;
// protected-subject outranks confidential.
func (fb *FileBackupService) classify(path string) SensitivityClass {
	if fb.matchesAnySegment(path, fb.config.ProtectedSubjectPatterns) {
		return SensitivityProtectedSubject
	}
	if fb.matchesAnySegment(path, fb.config.ConfidentialPatterns) {
		return SensitivityConfidential
	}
	return SensitivityStandard
}

// matchesAnySegment matches every path segment against a pattern list,
// case-insensitively.
func (fb *FileBackupService) matchesAnySegment(path string, patterns []string) bool {
	lower := strings.ToLower(path)
	for _, segment := range strings.Split(lower, string(filepath.Separator)) {
		for _, pattern := range patterns {
			if ok, _ := filepath.Match(strings.ToLower(pattern), segment); ok {
				return true
			}
		}
	}
	return false
}

// logicalFileType buckets a file into a coarse content type by extension
func logicalFileType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff":
		return "image"
	case ".pdf", ".doc", ".docx", ".odt", ".txt", ".md", ".rtf":
		return "document"
	case ".csv", ".json", ".xml", ".yaml", ".yml":
		return "data"
	case ".mp3", ".wav", ".mp4", ".mov":
		return "media"
	case ".zip", ".tar", ".gz", ".zst":
		return "archive"
	default:
		return "other"
	}
}

// buildArchive tars a group of files in memory. Files that fail to read are
// reported as item errors and excluded from the archive. Logical types are
// counted only for files that made it in.
func (fb *FileBackupService) buildArchive(entries []fileEntry) ([]byte, []string, map[string]int, []string) {
	var buf bytes.Buffer
	writer := tar.NewWriter(&buf)

	var fileList []string
	fileTypes := map[string]int{}
	var itemErrors []string

	for _, entry := range entries {
		data, err := os.ReadFile(entry.path)
		if err != nil {
			itemErrors = append(itemErrors, fmt.Sprintf("failed to read %s: %v", entry.path, err))
			continue
		}

		header := &tar.Header{
			Name:    archiveName(entry.path),
			Size:    int64(len(data)),
			Mode:    int64(entry.mode.Perm()),
			ModTime: entry.modTime,
		}
		if err := writer.WriteHeader(header); err != nil {
			itemErrors = append(itemErrors, fmt.Sprintf("failed to archive %s: %v", entry.path, err))
			continue
		}
		if _, err := writer.Write(data); err != nil {
			itemErrors = append(itemErrors, fmt.Sprintf("failed to archive %s: %v", entry.path, err))
			continue
		}

		fileList = append(fileList, entry.path)
		fileTypes[entry.logicalType]++
	}

	writer.Close()
	return buf.Bytes(), fileList, fileTypes, itemErrors
}

// archiveName converts a discovered path to its in-archive name. Absolute
// paths are stored without the leading separator.
func archiveName(path string) string {
	return strings.TrimPrefix(filepath.ToSlash(path), "/")
}

// restoreTarget converts an in-archive name back to a filesystem path,
// rejecting traversal attempts.
func restoreTarget(name string) string {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if cleaned == "." || strings.HasPrefix(cleaned, "..") {
		return ""
	}
	if !filepath.IsAbs(cleaned) {
		cleaned = string(filepath.Separator) + cleaned
	}
	return cleaned
}

// extractFile writes one archive entry to disk with owner-only directories
func extractFile(reader io.Reader, target string, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0700); err != nil {
		return err
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	perm := mode.Perm()
	if perm == 0 {
		perm = 0600
	}
	return os.WriteFile(target, data, perm)
}
