package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/xiaot623/gogo/chatvault/internal/codec"
	"github.com/xiaot623/gogo/chatvault/internal/domain"
)

// FileRepository stores one canonical JSON record per session at
// <dir>/<sessionId>.json. Records are replaced by atomic rename, so a reader
// sees either the old or the new file.
type FileRepository struct {
	dir   string
	locks *KeyedMutex
	now   Clock
}

// NewFileRepository creates the directory if needed.
func NewFileRepository(dir string) (*FileRepository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	return &FileRepository{dir: dir, locks: NewKeyedMutex(), now: domain.Now}, nil
}

// WithClock replaces the time source. Intended for tests.
func (r *FileRepository) WithClock(now Clock) *FileRepository {
	r.now = now
	return r
}

func (r *FileRepository) Close() error { return nil }

func (r *FileRepository) path(sessionID string) string {
	return filepath.Join(r.dir, sessionID+".json")
}

// CreateOrAppend appends msgs to the session, creating it if needed.
func (r *FileRepository) CreateOrAppend(ctx context.Context, sessionID string, msgs []domain.Message) (*domain.Session, error) {
	if err := validateAppend(sessionID, msgs); err != nil {
		return nil, err
	}

	unlock, err := r.locks.Lock(ctx, sessionID)
	if err != nil {
		return nil, storageErr("wait for session lock", err)
	}
	defer unlock()

	current, err := r.read(sessionID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	next := applyAppend(current, sessionID, msgs, r.now())
	data, err := codec.Encode(next)
	if err != nil {
		return nil, storageErr("encode session", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, storageErr("write session", err)
	}
	if err := writeFileAtomic(r.path(sessionID), data, 0o644); err != nil {
		return nil, storageErr("write session", err)
	}
	return next, nil
}

// Get reads the session record.
func (r *FileRepository) Get(_ context.Context, sessionID string) (*domain.Session, error) {
	if err := domain.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	return r.read(sessionID)
}

func (r *FileRepository) read(sessionID string) (*domain.Session, error) {
	data, err := os.ReadFile(r.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(sessionID)
		}
		return nil, storageErr("read session", err)
	}
	s, err := codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt record %s: %v", domain.ErrStorageUnavailable, sessionID, err)
	}
	if s.SessionID != sessionID {
		return nil, storageErr("decode session", fmt.Errorf("record %s holds session %s", sessionID, s.SessionID))
	}
	return s, nil
}

func writeFileAtomic(path string, content []byte, mode os.FileMode) error {
	parent := filepath.Dir(path)
	base := filepath.Base(path)

	tempFile, err := os.CreateTemp(parent, "."+base+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(content); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tempFile.Chmod(mode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS != "windows" {
			return fmt.Errorf("rename temp file: %w", err)
		}
		if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
			return fmt.Errorf("remove destination before rename: %w", removeErr)
		}
		if renameErr := os.Rename(tempPath, path); renameErr != nil {
			return fmt.Errorf("rename temp file after remove: %w", renameErr)
		}
	}
	cleanup = false

	if dirHandle, err := os.Open(parent); err == nil {
		_ = dirHandle.Sync()
		_ = dirHandle.Close()
	}
	return nil
}
