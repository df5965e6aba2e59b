package session

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"

	"bookmarket/pkg/domain"
)

// Persister stores the session pair across process restarts. Load reports
// absence instead of failing on malformed data so a corrupt store can never
// block startup.
type Persister interface {
	Save(domain.Session) error
	Load() (domain.Session, bool, error)
	Clear() error
}

// FilePersister keeps the session as a JSON file on disk.
type FilePersister struct {
	path string
}

// NewFilePersister builds a file-backed persister at path.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

func (p *FilePersister) Save(s domain.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(p.path, data, 0o600)
}

func (p *FilePersister) Load() (domain.Session, bool, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.Session{}, false, nil
	}
	if err != nil {
		return domain.Session{}, false, err
	}
	var s domain.Session
	if err := json.Unmarshal(data, &s); err != nil {
		// Malformed persisted data is treated as absent, not fatal.
		return domain.Session{}, false, nil
	}
	if !s.Valid() {
		return domain.Session{}, false, nil
	}
	return s, true, nil
}

func (p *FilePersister) Clear() error {
	err := os.Remove(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
