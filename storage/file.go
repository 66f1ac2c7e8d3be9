//
// Tencent is pleased to support the open source community by making vortex-chat available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// vortex-chat is licensed under the Apache License Version 2.0.
//

// Package storage persists conversation state snapshots to disk so sessions
// survive restarts.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"trpc.group/trpc-go/vortex-chat/chat"
)

// FileStore persists snapshots as JSON at a fixed path. Writes go through a
// temp file and rename so a crash never leaves a torn snapshot behind.
type FileStore struct {
	path string
}

// NewFileStore creates a store persisting to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save writes the snapshot atomically.
func (f *FileStore) Save(snap chat.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot. A missing file returns an empty snapshot and no
// error; a corrupt file is an error so the caller can decide to start fresh.
func (f *FileStore) Load() (chat.Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return chat.Snapshot{}, nil
	}
	if err != nil {
		return chat.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	var snap chat.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return chat.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
