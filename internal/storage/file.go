package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileStore keeps posted records in a JSON file. The file is re-read on
// every lookup so edits made by another process are seen.
type FileStore struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("file store path is empty")
	}
	fs := &FileStore{path: path, now: time.Now}
	if _, err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FileStore) load() ([]PostedRecord, error) {
	data, err := os.ReadFile(fs.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read store file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var records []PostedRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal store file: %w", err)
	}
	return records, nil
}

// save writes to a temp file and renames it over the original.
func (fs *FileStore) save(records []PostedRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fs.path), ".posted-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}
	return os.Rename(tmp.Name(), fs.path)
}

func (fs *FileStore) Exists(_ context.Context, link string) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	records, err := fs.load()
	if err != nil {
		return false, err
	}
	for _, r := range records {
		if r.Link == link {
			return true, nil
		}
	}
	return false, nil
}

func (fs *FileStore) Record(_ context.Context, title, link string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	records, err := fs.load()
	if err != nil {
		return err
	}

	var maxID int64
	for _, r := range records {
		if r.Link == link {
			return nil
		}
		if r.ID > maxID {
			maxID = r.ID
		}
	}

	records = append(records, PostedRecord{
		ID:         maxID + 1,
		Title:      title,
		Link:       link,
		RecordedAt: fs.now().UTC(),
	})
	return fs.save(records)
}

func (fs *FileStore) Count(_ context.Context) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	records, err := fs.load()
	return len(records), err
}

func (fs *FileStore) Recent(_ context.Context, n int) ([]PostedRecord, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if n <= 0 {
		n = 5
	}
	records, err := fs.load()
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ID > records[j].ID })
	if len(records) > n {
		records = records[:n]
	}
	return records, nil
}

func (fs *FileStore) Close() error { return nil }
