// Package sender implements the InfluxDB sink. Points are encoded in line
// protocol, optionally gzip compressed, and POSTed to the /write endpoint.
// Transient failures are retried with exponential backoff within one write;
// anything left over is the engine's to keep for the next flush.
package sender

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/rdietric/collectd-plugins/internal/config"
	"github.com/rdietric/collectd-plugins/internal/models"
)

const (
	// baseRetryDelay is the initial delay between retries of one write.
	baseRetryDelay = 2 * time.Second

	// dbNotFound is the error InfluxDB reports for a missing database.
	dbNotFound = "database not found"

	userAgent = "hpc-writer"
)

// ErrEncode marks points that cannot be rendered in line protocol. Retrying
// the same points fails the same way, unlike a transport or server error.
var ErrEncode = errors.New("unencodable points")

// Sender writes points to an InfluxDB 1.x server.
type Sender struct {
	client     *http.Client
	cfg        config.InfluxDBConfig
	baseURL    string
	logger     *zap.Logger
	retryDelay time.Duration

	dbExists bool
}

// New creates a sender for the given connection settings.
func New(cfg config.InfluxDBConfig, logger *zap.Logger) *Sender {
	scheme := "http"
	if cfg.SSL {
		scheme = "https"
	}
	return &Sender{
		client: &http.Client{
			Timeout: cfg.Timeout.Duration,
		},
		cfg:        cfg,
		baseURL:    scheme + "://" + net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		logger:     logger,
		retryDelay: baseRetryDelay,
	}
}

// URL returns the server address writes go to.
func (s *Sender) URL() string {
	return s.baseURL
}

// Ping checks that the server is reachable and returns its version.
func (s *Sender) Ping(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/ping", nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	resp, err := s.do(req)
	if err != nil {
		return "", err
	}
	return resp.Header.Get("X-Influxdb-Version"), nil
}

// Write sends the points in one request. It implements engine.Sink.
func (s *Sender) Write(ctx context.Context, pts []models.Point, precision models.Precision) error {
	if len(pts) == 0 {
		return nil
	}

	data, err := Encode(pts, precision)
	if err != nil {
		s.logger.Error("Points cannot be encoded, nothing was sent",
			zap.Int("points", len(pts)),
			zap.Error(err))
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}
	if s.cfg.Gzip {
		if data, err = compress(data); err != nil {
			return fmt.Errorf("compress points: %w", err)
		}
	}

	if s.cfg.CreateDatabase && !s.dbExists {
		if err := s.createDatabase(ctx); err != nil {
			s.logger.Error("Failed to create database",
				zap.String("database", s.cfg.Database),
				zap.Error(err))
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.retryDelay
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.cfg.MaxRetries)), ctx)

	attempt := 0
	op := func() error {
		attempt++
		err := s.doWrite(ctx, data, precision)
		if err == nil {
			return nil
		}
		var se *StatusError
		if errors.As(err, &se) && !se.Temporary() {
			if se.DatabaseNotFound() {
				s.dbExists = false
			}
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		s.logger.Warn("Write failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return err
	}
	s.logger.Debug("Points written", zap.Int("points", len(pts)), zap.Int("attempts", attempt))
	return nil
}

// doWrite performs a single POST to the write endpoint.
func (s *Sender) doWrite(ctx context.Context, data []byte, precision models.Precision) error {
	q := url.Values{}
	q.Set("db", s.cfg.Database)
	q.Set("precision", string(precision))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/write?"+q.Encode(), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if s.cfg.Gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}

	_, err = s.do(req)
	return err
}

// createDatabase issues CREATE DATABASE, which is a no-op for an existing
// database.
func (s *Sender) createDatabase(ctx context.Context) error {
	form := url.Values{}
	form.Set("q", fmt.Sprintf("CREATE DATABASE %q", s.cfg.Database))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/query", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if _, err := s.do(req); err != nil {
		return err
	}
	s.dbExists = true
	s.logger.Info("Created database",
		zap.String("database", s.cfg.Database),
		zap.String("server", s.baseURL))
	return nil
}

// do sends req with credentials and turns non-2xx responses into a
// StatusError.
func (s *Sender) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", userAgent)
	if s.cfg.User != "" {
		req.SetBasicAuth(s.cfg.User, s.cfg.Password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// StatusError is a non-2xx response from the server.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether retrying the same request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500
}

// DatabaseNotFound reports whether the target database does not exist.
func (e *StatusError) DatabaseNotFound() bool {
	return e.StatusCode == http.StatusNotFound && strings.Contains(e.Body, dbNotFound)
}
