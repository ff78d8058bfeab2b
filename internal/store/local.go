package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultFingerprintCache = 1024

// LocalStore implements Store on the local filesystem.
//
// Storage layout:
//
//	root/
//	  <slot>.zst   (latest archive)
//	  <slot>.hash  (fingerprint sent with it, plain text)
//
// Writes go to temp files in root and are renamed into place, so an archive
// opened by a reader is never modified underneath it.
//
// Fingerprints are cached in memory together with the stat of the .hash file
// they were read from. Every lookup stats the file again, so entries deleted
// or rewritten by another process are noticed.
type LocalStore struct {
	root  string
	cache *lru.Cache[uuid.UUID, cachedFingerprint]
}

type cachedFingerprint struct {
	value string
	info  fs.FileInfo
}

func (c cachedFingerprint) matches(info fs.FileInfo) bool {
	return os.SameFile(c.info, info) &&
		c.info.Size() == info.Size() &&
		c.info.ModTime().Equal(info.ModTime())
}

// NewLocalStore creates root if needed. cacheSize bounds the in-memory
// fingerprint cache; zero uses DefaultFingerprintCache.
func NewLocalStore(root string, cacheSize int) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", root, err)
	}
	if cacheSize <= 0 {
		cacheSize = DefaultFingerprintCache
	}
	cache, err := lru.New[uuid.UUID, cachedFingerprint](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create fingerprint cache: %w", err)
	}
	return &LocalStore{root: root, cache: cache}, nil
}

func (s *LocalStore) Put(ctx context.Context, slot uuid.UUID, r io.Reader, fingerprint string) (int64, error) {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return 0, fmt.Errorf("create cache dir %s: %w", s.root, err)
	}
	archive, err := s.writeTemp(slot, ".zst", func(f *os.File) (int64, error) {
		return io.Copy(f, &contextReader{ctx: ctx, r: r})
	})
	if err != nil {
		return 0, err
	}
	n := archive.n

	hash, err := s.writeTemp(slot, ".hash", func(f *os.File) (int64, error) {
		m, err := f.WriteString(fingerprint)
		return int64(m), err
	})
	if err != nil {
		os.Remove(archive.path)
		return 0, err
	}

	if err := os.Rename(archive.path, s.archivePath(slot)); err != nil {
		os.Remove(archive.path)
		os.Remove(hash.path)
		return 0, fmt.Errorf("commit archive: %w", err)
	}
	s.cache.Remove(slot)
	if err := os.Rename(hash.path, s.hashPath(slot)); err != nil {
		os.Remove(hash.path)
		return 0, fmt.Errorf("commit fingerprint: %w", err)
	}
	return n, nil
}

func (s *LocalStore) Fingerprint(ctx context.Context, slot uuid.UUID) (string, error) {
	path := s.hashPath(slot)
	info, err := os.Stat(path)
	if err != nil {
		s.cache.Remove(slot)
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("stat fingerprint: %w", err)
	}
	if c, ok := s.cache.Get(slot); ok && c.matches(info) {
		return c.value, nil
	}

	f, err := os.Open(path)
	if err != nil {
		s.cache.Remove(slot)
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read fingerprint: %w", err)
	}
	defer f.Close()

	// stat the handle that is read so value and info describe the same file
	if info, err = f.Stat(); err != nil {
		return "", fmt.Errorf("stat fingerprint: %w", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("read fingerprint: %w", err)
	}

	fp := string(data)
	s.cache.Add(slot, cachedFingerprint{value: fp, info: info})
	return fp, nil
}

func (s *LocalStore) Open(ctx context.Context, slot uuid.UUID) (io.ReadCloser, int64, error) {
	f, err := os.Open(s.archivePath(slot))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("open archive: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat archive: %w", err)
	}
	return f, info.Size(), nil
}

type tempFile struct {
	path string
	n    int64
}

func (s *LocalStore) writeTemp(slot uuid.UUID, ext string, write func(*os.File) (int64, error)) (tempFile, error) {
	f, err := os.CreateTemp(s.root, "."+slot.String()+ext+".*")
	if err != nil {
		return tempFile{}, fmt.Errorf("create temp file: %w", err)
	}

	n, err := write(f)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return tempFile{}, fmt.Errorf("write %s: %w", ext, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return tempFile{}, fmt.Errorf("sync %s: %w", ext, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return tempFile{}, fmt.Errorf("close %s: %w", ext, err)
	}
	if err := os.Chmod(f.Name(), 0o644); err != nil {
		os.Remove(f.Name())
		return tempFile{}, fmt.Errorf("chmod %s: %w", ext, err)
	}
	return tempFile{path: f.Name(), n: n}, nil
}

func (s *LocalStore) archivePath(slot uuid.UUID) string {
	return filepath.Join(s.root, slot.String()+".zst")
}

func (s *LocalStore) hashPath(slot uuid.UUID) string {
	return filepath.Join(s.root, slot.String()+".hash")
}

// contextReader stops a long copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
