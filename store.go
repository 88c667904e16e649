package routeref

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
)

// Store persists the set of routes currently installed, so that a later
// process can remove whatever a crashed one left behind.
type Store interface {
	Load() ([]Entry, error)
	Save(entries []Entry) error
}

// FileStore stores entries as JSON on disk (atomic write).
type FileStore struct {
	Path string
}

func (s FileStore) Load() ([]Entry, error) {
	if s.Path == "" {
		return nil, fmt.Errorf("filestore path is empty")
	}
	b, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if len(b) == 0 {
		return nil, nil
	}
	var entries []Entry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.Path, err)
	}
	return entries, nil
}

func (s FileStore) Save(entries []Entry) error {
	if s.Path == "" {
		return fmt.Errorf("filestore path is empty")
	}

	sorted := append([]Entry(nil), entries...)
	SortEntries(sorted)
	if sorted == nil {
		sorted = []Entry{}
	}

	b, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return err
	}

	b = append(b, '\n')

	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return err
	}

	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.Path)
}

// Digest returns a hash of the set of entries. The order of entries does not
// matter; duplicates do.
func Digest(entries []Entry) uint64 {
	var sum uint64
	for _, e := range entries {
		sum += entryHash(e)
	}
	return sum
}

func entryHash(e Entry) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(e.Interface)
	_, _ = h.Write([]byte{0})

	addr := e.Network.Addr().As16()
	_, _ = h.Write(addr[:])
	_, _ = h.Write([]byte{byte(e.Network.Bits())})

	if e.Gateway.IsValid() {
		gw := e.Gateway.As16()
		_, _ = h.Write([]byte{1})
		_, _ = h.Write(gw[:])
	} else {
		_, _ = h.Write([]byte{0})
	}

	var fam [2]byte
	binary.BigEndian.PutUint16(fam[:], uint16(e.Network.Addr().BitLen()))
	_, _ = h.Write(fam[:])
	return h.Sum64()
}
