package provlog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/ipfs/go-cid"
)

// fileStore implements EntryStore on a plain directory:
//
//	entries/<cid>       canonical entry bytes, written once
//	heads/<vlad>        current head CID bytes for a log
//
// File names are the multibase text forms of the CID and vlad. Entry
// files are immutable and published by rename; head files are
// rewritten under an exclusive flock.
type fileStore struct {
	dir string
	mu  sync.RWMutex
}

const (
	entriesDirName = "entries"
	headsDirName   = "heads"
)

// OpenFileStore creates or opens a directory-backed entry store.
func OpenFileStore(dir string) (EntryStore, error) {
	for _, sub := range []string{entriesDirName, headsDirName} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0700); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
	}
	return &fileStore{dir: dir}, nil
}

func (s *fileStore) entryPath(c cid.Cid) string {
	return filepath.Join(s.dir, entriesDirName, c.String())
}

func (s *fileStore) headPath(vlad Vlad) string {
	return filepath.Join(s.dir, headsDirName, vlad.String())
}

// Put writes entry bytes once; an existing file under the same CID is
// left alone, its content cannot differ.
func (s *fileStore) Put(c cid.Cid, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.entryPath(c)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat entry file: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create entry file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write entry file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync entry file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close entry file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("publish entry file: %w", err)
	}
	return nil
}

func (s *fileStore) Get(c cid.Cid) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.entryPath(c))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read entry file: %w", err)
	}
	return data, true, nil
}

func (s *fileStore) SetHead(vlad Vlad, head cid.Cid) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.headPath(vlad), os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return fmt.Errorf("open head file: %w", err)
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("lock head file: %w", err)
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate head file: %w", err)
	}
	if _, err := f.WriteAt(head.Bytes(), 0); err != nil {
		return fmt.Errorf("write head file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync head file: %w", err)
	}
	return nil
}

func (s *fileStore) Head(vlad Vlad) (cid.Cid, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.headPath(vlad))
	if errors.Is(err, fs.ErrNotExist) {
		return cid.Undef, false, nil
	}
	if err != nil {
		return cid.Undef, false, fmt.Errorf("read head file: %w", err)
	}
	c, err := cid.Cast(data)
	if err != nil {
		return cid.Undef, false, fmt.Errorf("parse head cid: %w", err)
	}
	return c, true, nil
}

func (s *fileStore) Close() error {
	return nil
}
