package disk

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	ErrInvalidFilename  = errors.New("invalid filename")
	ErrDocumentNotFound = errors.New("document not found")
)

// DocumentStore keeps one file per uploaded document, named by the original
// filename. Saving an existing name overwrites it.
type DocumentStore struct {
	path string
}

func NewDocumentStore(path string) (*DocumentStore, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}

	return &DocumentStore{path}, nil
}

func (s *DocumentStore) Path() string {
	return s.path
}

// Name sanitizes an uploaded filename to the name it is stored under.
func Name(filename string) (string, error) {
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	switch name {
	case "", ".", "..", "/":
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}

	if strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}

	return name, nil
}

// Save durably writes data and returns the stored name.
func (s *DocumentStore) Save(filename string, data []byte) (string, error) {
	name, err := Name(filename)
	if err != nil {
		return "", err
	}

	f, err := os.CreateTemp(s.path, "."+name+".*.tmp")
	if err != nil {
		return "", err
	}

	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", err
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return "", err
	}

	if err := f.Close(); err != nil {
		return "", err
	}

	if err := os.Rename(tmp, filepath.Join(s.path, name)); err != nil {
		return "", err
	}

	return name, nil
}

func (s *DocumentStore) Load(filename string) ([]byte, error) {
	name, err := Name(filename)
	if err != nil {
		return nil, err
	}

	bs, err := os.ReadFile(filepath.Join(s.path, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, name)
	}

	return bs, err
}

// List returns the stored document names in lexical order.
func (s *DocumentStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.path)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		names = append(names, entry.Name())
	}

	sort.Strings(names)
	return names, nil
}
