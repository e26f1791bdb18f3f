package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	lockDirName   = ".save.lock"
	lockOwnerFile = "owner.json"
	fileExt       = ".json"
)

var (
	// ErrLocked is returned when another writer holds the session directory.
	ErrLocked = errors.New("session directory is locked")

	// ErrInvalidName is returned for names that do not map to a file in the
	// session directory.
	ErrInvalidName = errors.New("invalid session name")
)

// File identifies a stored session document.
type File struct {
	Name    string    `json:"name"`
	ModTime time.Time `json:"modTime"`
}

// Store opens and saves session documents.
type Store interface {
	// InitialFile returns the document to load at startup, or ErrNoDocument.
	InitialFile(ctx context.Context) (File, Document, error)

	// Open loads the named document.
	Open(ctx context.Context, name string) (File, Document, error)

	// Save overwrites an existing document.
	Save(ctx context.Context, file File, doc Document) (File, error)

	// SaveAs writes doc under a new name.
	SaveAs(ctx context.Context, name string, doc Document) (File, error)

	// List returns the stored documents.
	List(ctx context.Context) ([]File, error)
}

// FileStore keeps documents as JSON files in one directory. Writes go
// through a temp file and a rename, serialized by a lock directory.
type FileStore struct {
	dir     string
	initial string
}

// NewFileStore creates a store rooted at dir. initial names the document
// returned by InitialFile ("" for none).
func NewFileStore(dir, initial string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("session directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir, initial: initial}, nil
}

// InitialFile implements Store.
func (s *FileStore) InitialFile(ctx context.Context) (File, Document, error) {
	if s.initial == "" {
		return File{}, Document{}, ErrNoDocument
	}
	f, doc, err := s.Open(ctx, s.initial)
	if errors.Is(err, os.ErrNotExist) {
		return File{}, Document{}, ErrNoDocument
	}
	return f, doc, err
}

// Open implements Store.
func (s *FileStore) Open(ctx context.Context, name string) (File, Document, error) {
	if err := ctx.Err(); err != nil {
		return File{}, Document{}, err
	}
	path, err := s.path(name)
	if err != nil {
		return File{}, Document{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, Document{}, fmt.Errorf("read session %s: %w", name, err)
	}
	doc, err := Decode(data)
	if err != nil {
		return File{}, Document{}, err
	}
	f, err := fileInfo(path)
	if err != nil {
		return File{}, Document{}, err
	}
	return f, doc, nil
}

// Save implements Store.
func (s *FileStore) Save(ctx context.Context, file File, doc Document) (File, error) {
	path, err := s.path(file.Name)
	if err != nil {
		return File{}, err
	}
	if _, err := os.Stat(path); err != nil {
		return File{}, fmt.Errorf("save session %s: %w", file.Name, err)
	}
	return s.write(ctx, path, doc)
}

// SaveAs implements Store.
func (s *FileStore) SaveAs(ctx context.Context, name string, doc Document) (File, error) {
	path, err := s.path(name)
	if err != nil {
		return File{}, err
	}
	return s.write(ctx, path, doc)
}

// List implements Store. Files are sorted by name.
func (s *FileStore) List(ctx context.Context) ([]File, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read session directory %s: %w", s.dir, err)
	}
	files := make([]File, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, File{Name: e.Name(), ModTime: info.ModTime().UTC()})
	}
	return files, nil
}

func (s *FileStore) write(ctx context.Context, path string, doc Document) (File, error) {
	if err := ctx.Err(); err != nil {
		return File{}, err
	}
	data, err := Encode(doc)
	if err != nil {
		return File{}, err
	}

	lock, err := acquireLock(s.dir)
	if err != nil {
		return File{}, err
	}
	defer func() {
		_ = lock.release()
	}()

	if err := writeAtomic(path, data); err != nil {
		return File{}, err
	}
	return fileInfo(path)
}

func fileInfo(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("stat session %s: %w", path, err)
	}
	return File{Name: filepath.Base(path), ModTime: info.ModTime().UTC()}, nil
}

// path maps a document name to a file inside the store directory.
func (s *FileStore) path(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if !strings.HasSuffix(name, fileExt) {
		name += fileExt
	}
	return filepath.Join(s.dir, name), nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".session-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	// Session files hold API keys.
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("chmod temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("atomic rename for %s: %w", path, err)
	}
	return nil
}

type dirLock struct {
	dir string
}

type lockOwner struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

func acquireLock(dir string) (dirLock, error) {
	lockDir := filepath.Join(dir, lockDirName)
	ownerPath := filepath.Join(lockDir, lockOwnerFile)

	if err := os.Mkdir(lockDir, 0o755); err != nil {
		if os.IsExist(err) {
			var owner lockOwner
			if data, readErr := os.ReadFile(ownerPath); readErr == nil && json.Unmarshal(data, &owner) == nil && owner.PID > 0 {
				return dirLock{}, fmt.Errorf("%w: %s (pid=%d created_at=%s host=%s)", ErrLocked, dir, owner.PID, owner.CreatedAt, owner.Hostname)
			}
			return dirLock{}, fmt.Errorf("%w: %s", ErrLocked, dir)
		}
		return dirLock{}, fmt.Errorf("acquire session lock for %s: %w", dir, err)
	}

	owner := lockOwner{
		PID:       os.Getpid(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
	}
	data, _ := json.Marshal(owner)
	if err := os.WriteFile(ownerPath, data, 0o644); err != nil {
		_ = os.Remove(lockDir)
		return dirLock{}, fmt.Errorf("write session lock owner for %s: %w", dir, err)
	}
	return dirLock{dir: lockDir}, nil
}

func (l dirLock) release() error {
	if l.dir == "" {
		return nil
	}
	_ = os.Remove(filepath.Join(l.dir, lockOwnerFile))
	if err := os.Remove(l.dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release session lock %s: %w", l.dir, err)
	}
	return nil
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		return "unknown"
	}
	return strings.TrimSpace(host)
}
