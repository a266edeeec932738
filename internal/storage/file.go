package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "stockwatch/pkg/logx"
)

// fileStore keeps the whole mapping in memory and mirrors it to one JSON
// document. Every write replaces the document atomically so a crash mid-write
// leaves either the old or the new mapping on disk, never a torn one.
type fileStore struct {
	log   logx.Logger
	path  string
	locks *keyLocks

	mu     sync.Mutex // guards doc and the file
	doc    map[string]Record
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	s := &fileStore{
		log:   log,
		path:  path,
		locks: newKeyLocks(),
		doc:   loadDocument(path, log),
	}
	log.Debug("status store opened", logx.String("path", path), logx.Int("records", len(s.doc)))
	return s, nil
}

// loadDocument reads the mapping. Missing or unreadable content yields an
// empty mapping; the next write replaces it.
func loadDocument(path string, log logx.Logger) map[string]Record {
	doc := map[string]Record{}
	b, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn("status store unreadable; starting empty", logx.String("path", path), logx.Err(err))
		}
		return doc
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return doc
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		log.Warn("status store corrupt; starting empty", logx.String("path", path), logx.Err(err))
		return map[string]Record{}
	}
	return doc
}

func (s *fileStore) Get(ctx context.Context, key string) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.doc[key]
	return cloneRecord(rec), ok, nil
}

func (s *fileStore) Upsert(ctx context.Context, key string, fn Mutator) (Record, error) {
	unlock := s.locks.lock(key)
	defer unlock()
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	cur, exists := s.doc[key]
	s.mu.Unlock()

	rec := cloneRecord(cur)
	if fn != nil {
		if err := fn(&rec, exists); err != nil {
			return Record{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Record{}, &Error{Op: "upsert", Key: key, Err: os.ErrClosed}
	}
	s.doc[key] = rec
	if err := s.flushLocked(); err != nil {
		if exists {
			s.doc[key] = cur
		} else {
			delete(s.doc, key)
		}
		return Record{}, &Error{Op: "upsert", Key: key, Err: err}
	}
	return cloneRecord(rec), nil
}

func (s *fileStore) List(ctx context.Context) (map[string]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Record, len(s.doc))
	for k, v := range s.doc {
		out[k] = cloneRecord(v)
	}
	return out, nil
}

func (s *fileStore) Delete(ctx context.Context, key string) error {
	unlock := s.locks.lock(key)
	defer unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.doc[key]
	if !ok {
		return nil
	}
	delete(s.doc, key)
	if err := s.flushLocked(); err != nil {
		s.doc[key] = cur
		return &Error{Op: "delete", Key: key, Err: err}
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// flushLocked writes the document through a temp file in the same directory.
func (s *fileStore) flushLocked() error {
	// encoding/json sorts map keys, so the file diffs cleanly.
	b, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	f, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	cleanup := func() { _ = os.Remove(tmp) }

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		cleanup()
		return err
	}
	// Persist the rename itself; not supported everywhere.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

func cloneRecord(r Record) Record {
	if r.LastAvailable != nil {
		t := *r.LastAvailable
		r.LastAvailable = &t
	}
	return r
}
