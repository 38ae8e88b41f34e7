// Package store keeps the collector's sessions as one encrypted blob.
//
// Append is the only mutation and runs a load-modify-save cycle under an
// exclusive lock, so concurrent appends never lose each other's sessions.
// ReadAll takes a shared lock and never fails on undecodable data; Append
// refuses to overwrite such data.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vincentbai/sitetrace-agent/internal/blob"
	"github.com/vincentbai/sitetrace-agent/internal/codec"
	"github.com/vincentbai/sitetrace-agent/internal/metrics"
	"github.com/vincentbai/sitetrace-agent/internal/models"
)

const DefaultCapacity = 1000

var (
	// ErrPersistence wraps backend load and save failures. The persisted
	// state is left untouched when it is returned.
	ErrPersistence = errors.New("store: persistence failure")
	// ErrValidation marks ingestion payloads that are not session objects.
	ErrValidation = errors.New("store: invalid session payload")
	// ErrUndecodable is returned by Append when the stored blob is neither
	// readable with the configured secret nor legacy plaintext.
	ErrUndecodable = errors.New("store: stored data cannot be decoded")
)

type Store struct {
	backend  blob.Backend
	codec    *codec.Codec
	logger   *zap.Logger
	capacity int
	now      func() time.Time
	newID    func() string

	mu sync.RWMutex
}

type Option func(*Store)

func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

func New(backend blob.Backend, c *codec.Codec, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		backend:  backend,
		codec:    c,
		logger:   logger,
		capacity: DefaultCapacity,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Capacity is the maximum number of sessions kept.
func (s *Store) Capacity() int {
	return s.capacity
}

// Append sanitizes raw and adds it to the collection, evicting the oldest
// sessions beyond capacity.
func (s *Store) Append(ctx context.Context, raw models.Session) error {
	session := Sanitize(raw, s.now(), s.newID)

	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.load(ctx)
	if err != nil {
		return err
	}

	sessions = append(sessions, session)
	if over := len(sessions) - s.capacity; over > 0 {
		sessions = sessions[over:]
		metrics.SessionsEvicted.Add(float64(over))
	}

	token, err := s.codec.Encrypt(sessions)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrPersistence, err)
	}
	if err := s.backend.Save(ctx, []byte(token)); err != nil {
		metrics.PersistenceFailures.WithLabelValues("save").Inc()
		s.logger.Error("failed to save session store", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	metrics.SessionsAppended.Inc()
	metrics.SessionsStored.Set(float64(len(sessions)))
	s.logger.Debug("session appended",
		zap.String("session_id", session.SessionID),
		zap.Int("sessions", len(sessions)),
		zap.String("blob_size", humanize.Bytes(uint64(len(token)))),
	)
	return nil
}

// ReadAll returns every stored session, oldest first. Only backend errors
// are returned; an undecodable blob reads as an empty collection.
func (s *Store) ReadAll(ctx context.Context) ([]models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessions, err := s.load(ctx)
	if errors.Is(err, ErrUndecodable) {
		return []models.Session{}, nil
	}
	return sessions, err
}

// Len reports the number of stored sessions.
func (s *Store) Len(ctx context.Context) (int, error) {
	sessions, err := s.ReadAll(ctx)
	return len(sessions), err
}

func (s *Store) load(ctx context.Context) ([]models.Session, error) {
	raw, err := s.backend.Load(ctx)
	if err != nil {
		metrics.PersistenceFailures.WithLabelValues("load").Inc()
		s.logger.Error("failed to load session store", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	sessions, ok := s.decode(raw)
	if !ok {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, ErrUndecodable)
	}
	return sessions, nil
}

// decode tries the encrypted format first, then a legacy plaintext JSON
// array. ok is false when neither applies.
func (s *Store) decode(raw []byte) (sessions []models.Session, ok bool) {
	text := string(bytes.TrimSpace(raw))
	if text == "" {
		return []models.Session{}, true
	}

	err := s.codec.Decrypt(text, &sessions)
	if err == nil {
		return nonNil(sessions), true
	}

	var legacy []models.Session
	if jsonErr := json.Unmarshal([]byte(text), &legacy); jsonErr == nil {
		s.logger.Warn("session store is not encrypted, read as legacy plaintext")
		return nonNil(legacy), true
	}

	metrics.DecodeFailures.WithLabelValues("store").Inc()
	s.logger.Error("unable to decode session store", zap.Error(err))
	return nil, false
}

func nonNil(sessions []models.Session) []models.Session {
	if sessions == nil {
		return []models.Session{}
	}
	return sessions
}
