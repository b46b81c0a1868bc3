// Package backup exports the document store as an encrypted archive to
// S3-compatible storage and restores it again.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dukerupert/pantry/internal/docstore"
)

const archiveVersion = 1

var (
	ErrDisabled   = errors.New("backup is not configured")
	ErrInProgress = errors.New("backup already in progress")
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

func (c S3Config) complete() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// Config holds backup manager configuration. Interval zero disables the
// scheduled loop; Keep zero keeps every archive.
type Config struct {
	S3         S3Config      `yaml:"s3"`
	Passphrase string        `yaml:"passphrase"`
	Prefix     string        `yaml:"prefix"`
	Interval   time.Duration `yaml:"interval"`
	Keep       int           `yaml:"keep"`
}

// State represents the backup manager state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

// Status is a point-in-time view of the manager.
type Status struct {
	State      State      `json:"state"`
	LastBackup *time.Time `json:"last_backup,omitempty"`
	LastKey    string     `json:"last_key,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// archive is the plaintext layout sealed inside every backup object.
type archive struct {
	Version   int              `json:"version"`
	CreatedAt time.Time        `json:"createdAt"`
	Entries   []docstore.Entry `json:"entries"`
}

// Manager runs backups of one document store.
type Manager struct {
	mu     sync.RWMutex
	cfg    Config
	status Status
	client s3Client
	source docstore.Exporter
	logger *slog.Logger
	nowFn  func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a backup manager. It is disabled unless the S3 bucket,
// credentials and passphrase are all set.
func NewManager(cfg Config, source docstore.Exporter, logger *slog.Logger) *Manager {
	if cfg.Prefix == "" {
		cfg.Prefix = "backups/"
	}
	m := &Manager{
		cfg:    cfg,
		source: source,
		logger: logger.With("component", "backup"),
		nowFn:  func() time.Time { return time.Now().UTC() },
		status: Status{State: StateDisabled},
	}
	if cfg.S3.complete() && cfg.Passphrase != "" {
		m.client = newS3Client(cfg.S3)
		m.status.State = StateIdle
	}
	return m
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Start begins the scheduled backup loop when an interval is configured.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.status.State == StateDisabled || m.cfg.Interval <= 0 || m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	done, interval := m.done, m.cfg.Interval
	m.mu.Unlock()

	m.logger.Info("backup schedule started", "interval", interval)
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.RunNow(ctx); err != nil && !errors.Is(err, ErrInProgress) {
					m.logger.Error("scheduled backup", "error", err)
				}
			}
		}
	}()
}

// Stop gracefully stops the backup loop.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Status returns the current backup status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

// begin moves the manager into the running state.
func (m *Manager) begin() (s3Client, Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.status.State {
	case StateDisabled:
		return nil, Status{}, ErrDisabled
	case StateRunning:
		return nil, Status{}, ErrInProgress
	}
	prev := m.status
	m.status.State = StateRunning
	return m.client, prev, nil
}

func (m *Manager) fail(prev Status, err error) error {
	prev.State = StateError
	prev.Error = err.Error()
	m.setStatus(prev)
	return err
}

func (m *Manager) objectKey(at time.Time) string {
	return m.cfg.Prefix + "pantry-" + at.Format("20060102T150405Z") + ".json.enc"
}

// RunNow exports every document, encrypts the archive and uploads it. It
// returns the object key.
func (m *Manager) RunNow(ctx context.Context) (string, error) {
	client, prev, err := m.begin()
	if err != nil {
		return "", err
	}
	start := m.nowFn()

	entries, err := m.source.Export(ctx)
	if err != nil {
		return "", m.fail(prev, fmt.Errorf("export documents: %w", err))
	}
	plaintext, err := json.Marshal(archive{Version: archiveVersion, CreatedAt: start, Entries: entries})
	if err != nil {
		return "", m.fail(prev, fmt.Errorf("marshal archive: %w", err))
	}
	sealed, err := Encrypt(plaintext, m.cfg.Passphrase)
	if err != nil {
		return "", m.fail(prev, fmt.Errorf("encrypt archive: %w", err))
	}

	key := m.objectKey(start)
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.cfg.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(sealed),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", m.fail(prev, fmt.Errorf("upload archive: %w", err))
	}

	m.setStatus(Status{State: StateIdle, LastBackup: &start, LastKey: key})
	m.logger.Info("backup completed", "key", key, "documents", len(entries), "bytes", len(sealed))

	if m.cfg.Keep > 0 {
		if err := m.Cleanup(ctx); err != nil {
			m.logger.Warn("backup cleanup", "error", err)
		}
	}
	return key, nil
}

// Restore downloads the archive at key and replaces the store's contents
// with it.
func (m *Manager) Restore(ctx context.Context, key string) error {
	client, prev, err := m.begin()
	if err != nil {
		return err
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.cfg.S3.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return m.fail(prev, fmt.Errorf("download archive %s: %w", key, err))
	}
	sealed, err := io.ReadAll(out.Body)
	out.Body.Close()
	if err != nil {
		return m.fail(prev, fmt.Errorf("read archive %s: %w", key, err))
	}

	plaintext, err := Decrypt(sealed, m.cfg.Passphrase)
	if err != nil {
		return m.fail(prev, err)
	}
	var a archive
	if err := json.Unmarshal(plaintext, &a); err != nil {
		return m.fail(prev, fmt.Errorf("parse archive: %w", err))
	}
	if a.Version != archiveVersion {
		return m.fail(prev, fmt.Errorf("unsupported archive version %d", a.Version))
	}
	if err := m.source.Import(ctx, a.Entries); err != nil {
		return m.fail(prev, fmt.Errorf("import documents: %w", err))
	}

	prev.State, prev.Error = StateIdle, ""
	m.setStatus(prev)
	m.logger.Info("restore completed", "key", key, "documents", len(a.Entries), "created_at", a.CreatedAt)
	return nil
}

// List returns the archive keys under the configured prefix, oldest first.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()
	if client == nil {
		return nil, ErrDisabled
	}

	var (
		keys  []string
		token *string
	)
	for {
		out, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(m.cfg.S3.Bucket),
			Prefix:            aws.String(m.cfg.Prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list archives: %w", err)
		}
		for _, obj := range out.Contents {
			if obj.Key != nil && strings.HasSuffix(*obj.Key, ".json.enc") {
				keys = append(keys, *obj.Key)
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}
	slices.Sort(keys)
	return keys, nil
}

// Cleanup deletes the oldest archives beyond the configured Keep count.
func (m *Manager) Cleanup(ctx context.Context) error {
	if m.cfg.Keep <= 0 {
		return nil
	}
	keys, err := m.List(ctx)
	if err != nil {
		return err
	}
	if len(keys) <= m.cfg.Keep {
		return nil
	}

	var errs []error
	for _, key := range keys[:len(keys)-m.cfg.Keep] {
		_, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.cfg.S3.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("delete archive %s: %w", key, err))
			continue
		}
		m.logger.Info("deleted old backup", "key", key)
	}
	return errors.Join(errs...)
}
