package chromem

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/intelliswarm-ai/intelliswarm-rags/vector"
)

const (
	manifestFile    = "manifest.yaml"
	manifestVersion = 2
)

// manifest tracks insertion sequences. Sequences in [CommittedSeq, NextSeq)
// belong to a batch that was reserved but never committed.
type manifest struct {
	Version        int    `yaml:"version"`
	Collection     string `yaml:"collection"`
	EmbeddingModel string `yaml:"embedding_model"`
	NextSeq        int64  `yaml:"next_seq"`
	CommittedSeq   int64  `yaml:"committed_seq"`
}

// readManifest reports false when no manifest exists at path.
func readManifest(path string) (*manifest, bool, error) {
	bs, err := os.ReadFile(filepath.Join(path, manifestFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}

		return nil, false, err
	}

	var m manifest
	if err := yaml.Unmarshal(bs, &m); err != nil {
		return nil, true, fmt.Errorf("%w: manifest: %s", vector.ErrCorruptIndex, err.Error())
	}

	// version 1 committed every document as it was written
	if m.Version == 1 {
		m.Version = manifestVersion
		m.CommittedSeq = m.NextSeq
	}

	if m.Version != manifestVersion || m.Collection == "" || m.NextSeq < 0 ||
		m.CommittedSeq < 0 || m.CommittedSeq > m.NextSeq {
		return nil, true, fmt.Errorf("%w: invalid manifest", vector.ErrCorruptIndex)
	}

	return &m, true, nil
}

// writeManifest replaces the manifest atomically and syncs it to disk.
func writeManifest(path string, m *manifest) error {
	bs, err := yaml.Marshal(m)
	if err != nil {
		return err
	}

	f, err := os.CreateTemp(path, manifestFile+".*.tmp")
	if err != nil {
		return err
	}

	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.Write(bs); err != nil {
		f.Close()
		return err
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}

	if err := f.Close(); err != nil {
		return err
	}

	return os.Rename(tmp, filepath.Join(path, manifestFile))
}

// hash2hex, collectionPath and documentPath follow chromem-go's on-disk layout.
func hash2hex(name string) string {
	hash := sha256.Sum256([]byte(name))
	return hex.EncodeToString(hash[:4])
}

func collectionPath(path string, collection string) string {
	return filepath.Join(path, hash2hex(collection))
}

func documentPath(path string, collection string, id string, compress bool) string {
	p := filepath.Join(collectionPath(path, collection), hash2hex(id)+".gob")
	if compress {
		p += ".gz"
	}

	return p
}

// pruneUncommitted removes the files of documents reserved but never
// committed, including partially written ones.
func pruneUncommitted(path string, m *manifest, compress bool) error {
	for seq := m.CommittedSeq; seq < m.NextSeq; seq++ {
		p := documentPath(path, m.Collection, documentID(seq), compress)

		err := os.Remove(p)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	return nil
}

func syncDir(path string) error {
	d, err := os.Open(path)
	if err != nil {
		return err
	}
	defer d.Close()

	return d.Sync()
}
