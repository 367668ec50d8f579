// Package fsutil provides crash-safe file replacement for the device's file
// area. Files are written to a temporary sibling, fsynced, renamed into
// place, and the parent directory is fsynced, so a power cut leaves either
// the old content or the new content and never a partial file.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// tempSuffix is appended to the destination path for the staging file.
const tempSuffix = ".tmp"

// AtomicFile stages writes for path. Nothing is visible at path until Commit.
type AtomicFile struct {
	path string
	tmp  string
	file *os.File
	done bool
}

// Create opens a staging file next to path. The parent directory must exist.
func Create(path string, perm os.FileMode) (*AtomicFile, error) {
	tmp := path + tempSuffix
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}
	return &AtomicFile{path: path, tmp: tmp, file: f}, nil
}

// Write appends to the staging file.
func (a *AtomicFile) Write(p []byte) (int, error) {
	return a.file.Write(p)
}

// Commit syncs the staging file and renames it over the destination.
func (a *AtomicFile) Commit() error {
	if a.done {
		return fmt.Errorf("commit %s: already finished", a.path)
	}
	a.done = true

	if err := a.file.Sync(); err != nil {
		a.file.Close()
		os.Remove(a.tmp)
		return fmt.Errorf("sync staging file: %w", err)
	}
	if err := a.file.Close(); err != nil {
		os.Remove(a.tmp)
		return fmt.Errorf("close staging file: %w", err)
	}
	if err := os.Rename(a.tmp, a.path); err != nil {
		os.Remove(a.tmp)
		return fmt.Errorf("rename into place: %w", err)
	}

	// The rename is only durable once the directory entry is flushed.
	if dir, err := os.Open(filepath.Dir(a.path)); err == nil {
		dir.Sync()
		dir.Close()
	}
	return nil
}

// Abort discards the staging file. Safe to call after Commit.
func (a *AtomicFile) Abort() {
	if a.done {
		return
	}
	a.done = true
	a.file.Close()
	os.Remove(a.tmp)
}

// WriteFile atomically replaces path with data.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	f, err := Create(path, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Abort()
		return fmt.Errorf("write staging file: %w", err)
	}
	return f.Commit()
}
