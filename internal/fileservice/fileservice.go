// Package fileservice downloads, validates, and stages file entities in a
// per-SyncJob temp directory, per §4.2. Grounded on
// eve.evalgo.org/storage's s3aws.go: the retry.AddWithMaxAttempts(retry.NewStandard(), n)
// retryer construction carries over from HetznerUploadToRemote's upload
// worker shape (n is Config.MaxAttempts, 5 by default), retargeted from S3
// uploads to HTTP downloads with 401-refresh-retry and Retry-After handling.
package fileservice

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/google/uuid"

	"github.com/airweave-ai/airweave-sync/internal/entity"
	"github.com/airweave-ai/airweave-sync/internal/logging"
)

const maxFileSize = 1 << 30 // 1 GiB, per §4.2

// SkippedError is raised for unsupported extensions or oversize files.
// Callers treat this as "increment skipped, drop entity", never as a run
// failure.
type SkippedError struct {
	Reason   string
	Filename string
}

func (e *SkippedError) Error() string {
	return fmt.Sprintf("file skipped (%s): %s", e.Reason, e.Filename)
}

// TokenRefresher is the subset of TokenManager the file service needs to
// retry a 401 once.
type TokenRefresher interface {
	RefreshOnUnauthorized(ctx context.Context) (string, error)
}

// Config controls extension allow-listing and retry behavior.
type Config struct {
	SupportedExtensions map[string]bool
	MaxAttempts          int
	HTTPTimeout          time.Duration
}

func DefaultConfig() Config {
	exts := map[string]bool{}
	for _, e := range []string{".pdf", ".docx", ".doc", ".pptx", ".ppt", ".xlsx", ".xls",
		".csv", ".txt", ".md", ".json", ".html", ".png", ".jpg", ".jpeg", ".gif", ".zip"} {
		exts[e] = true
	}
	return Config{SupportedExtensions: exts, MaxAttempts: 5, HTTPTimeout: 30 * time.Second}
}

// Service is scoped to exactly one sync job's temp directory.
type Service struct {
	baseDir    string
	cfg        Config
	httpClient *http.Client
	logger     *logging.ContextLogger
}

// Open creates (but does not yet populate) the per-SyncJob base directory
// {tmpRoot}/sync/{syncJobID}.
func Open(tmpRoot, syncJobID string, cfg Config, logger *logging.ContextLogger) (*Service, error) {
	base := filepath.Join(tmpRoot, "sync", syncJobID)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("fileservice: creating sync directory: %w", err)
	}

	client := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	return &Service{baseDir: base, cfg: cfg, httpClient: client, logger: logger}, nil
}

// safeName strips everything but alphanumerics and "._- ", truncating to a
// reasonable length, per §6's temp filesystem layout.
func safeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '.' || r == '_' || r == '-' || r == ' ' {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) > 200 {
		out = out[:200]
	}
	if out == "" {
		out = "file"
	}
	return out
}

func (s *Service) extensionAllowed(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return s.cfg.SupportedExtensions[ext]
}

func (s *Service) tempPath(name string) string {
	return filepath.Join(s.baseDir, uuid.NewString()+"-"+safeName(name))
}

// DownloadFromURL validates extension and size (via HEAD Content-Length
// when available) then streams e.URL to a deterministic temp path,
// stamping e.LocalPath. 401s trigger a single refresh-and-retry; a 429 waits
// for its Retry-After; errors the AWS standard retryer classifies as
// retryable (such as connection errors) retry with its exponential backoff.
// Other non-2xx statuses are returned without a retry.
func (s *Service) DownloadFromURL(ctx context.Context, e *entity.Entity, refresher TokenRefresher) (*entity.Entity, error) {
	name := e.FileName

	if name != "" && !s.extensionAllowed(name) {
		return nil, &SkippedError{Reason: "unsupported extension", Filename: name}
	}

	if head, err := http.NewRequestWithContext(ctx, http.MethodHead, e.URL, nil); err == nil {
		if headResp, err := s.httpClient.Do(head); err == nil {
			headResp.Body.Close()
			if headResp.ContentLength > maxFileSize {
				return nil, &SkippedError{Reason: "oversize file", Filename: name}
			}
		}
	}

	retryable := retry.AddWithMaxAttempts(retry.NewStandard(), s.cfg.MaxAttempts)

	var lastErr error
	refreshedOnce := false

	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		resp, derivedName, err := s.fetch(ctx, e.URL, name)
		if err == nil {
			defer resp.Body.Close()

			if derivedName != "" && name == "" {
				name = derivedName
				if !s.extensionAllowed(name) {
					return nil, &SkippedError{Reason: "unsupported extension (derived)", Filename: name}
				}
			}

			if cl := resp.ContentLength; cl > 0 && cl > maxFileSize {
				return nil, &SkippedError{Reason: "oversize file", Filename: name}
			}

			path := s.tempPath(name)
			written, err := s.streamToFile(path, resp.Body)
			if err != nil {
				os.Remove(path)
				return nil, fmt.Errorf("fileservice: streaming download: %w", err)
			}
			if written > maxFileSize {
				os.Remove(path)
				return nil, &SkippedError{Reason: "oversize file", Filename: name}
			}

			out := *e
			out.LocalPath = path
			out.FileName = name
			out.FileSize = written
			return &out, nil
		}

		var skip *SkippedError
		if errorsAsSkip(err, &skip) {
			return nil, skip
		}

		if he, ok := err.(*httpStatusError); ok {
			if he.StatusCode == http.StatusUnauthorized && !refreshedOnce && refresher != nil {
				refreshedOnce = true
				if _, rerr := refresher.RefreshOnUnauthorized(ctx); rerr != nil {
					return nil, fmt.Errorf("fileservice: refreshing on 401: %w", rerr)
				}
				continue
			}
			if he.StatusCode == http.StatusTooManyRequests && he.RetryAfter > 0 {
				select {
				case <-time.After(he.RetryAfter):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				continue
			}
		}

		lastErr = err
		if !retryable.IsErrorRetryable(err) {
			break
		}
		if delay, derr := retryable.RetryDelay(attempt+1, err); derr == nil && attempt+1 < s.cfg.MaxAttempts {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("fileservice: download failed after retries: %w", lastErr)
}

func errorsAsSkip(err error, target **SkippedError) bool {
	if se, ok := err.(*SkippedError); ok {
		*target = se
		return true
	}
	return false
}

type httpStatusError struct {
	StatusCode int
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

func (s *Service) fetch(ctx context.Context, url, knownName string) (*http.Response, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("fileservice: building request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fileservice: http request: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, "", &httpStatusError{StatusCode: resp.StatusCode}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		resp.Body.Close()
		return nil, "", &httpStatusError{StatusCode: resp.StatusCode, RetryAfter: retryAfter}
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, "", &httpStatusError{StatusCode: resp.StatusCode}
	}

	derivedName := ""
	if knownName == "" {
		if cd := resp.Header.Get("Content-Disposition"); cd != "" {
			if _, params, err := mime.ParseMediaType(cd); err == nil {
				derivedName = params["filename"]
			}
		}
	}

	return resp, derivedName, nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(v); err == nil {
		return time.Until(when)
	}
	return 0
}

func (s *Service) streamToFile(path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	limited := io.LimitReader(r, maxFileSize+1)
	n, err := io.Copy(f, limited)
	if err != nil {
		return n, err
	}
	return n, nil
}

// SaveBytes persists in-memory content under the same validation contract
// as DownloadFromURL.
func (s *Service) SaveBytes(e *entity.Entity, content []byte, filenameWithExtension string) (*entity.Entity, error) {
	if !s.extensionAllowed(filenameWithExtension) {
		return nil, &SkippedError{Reason: "unsupported extension", Filename: filenameWithExtension}
	}
	if int64(len(content)) > maxFileSize {
		return nil, &SkippedError{Reason: "oversize file", Filename: filenameWithExtension}
	}

	path := s.tempPath(filenameWithExtension)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return nil, fmt.Errorf("fileservice: writing bytes: %w", err)
	}

	out := *e
	out.LocalPath = path
	out.FileName = filenameWithExtension
	out.FileSize = int64(len(content))
	return &out, nil
}

// ArfReader reads a previously captured raw source response by path.
type ArfReader interface {
	Read(ctx context.Context, pathInArf string) ([]byte, error)
}

// RestoreFromARF re-ingests a previously captured raw response without a
// live fetch.
func (s *Service) RestoreFromARF(ctx context.Context, reader ArfReader, pathInArf, filename string) (string, error) {
	data, err := reader.Read(ctx, pathInArf)
	if err != nil {
		return "", fmt.Errorf("fileservice: restoring from arf: %w", err)
	}
	if !s.extensionAllowed(filename) {
		return "", &SkippedError{Reason: "unsupported extension", Filename: filename}
	}

	path := s.tempPath(filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("fileservice: writing arf restore: %w", err)
	}
	return path, nil
}

// CleanupSyncDirectory recursively removes the base directory. Idempotent,
// tolerates partial deletes but logs a warning rather than failing.
func (s *Service) CleanupSyncDirectory() error {
	if err := os.RemoveAll(s.baseDir); err != nil {
		if s.logger != nil {
			s.logger.WithField("base_dir", s.baseDir).WithError(err).Warn("partial cleanup of sync directory")
		}
		return nil
	}
	return nil
}
