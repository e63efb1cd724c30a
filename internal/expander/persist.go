package expander

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sweeney/pcf-relay/internal/bus"
)

// ErrPersistence wraps every failure to read or write durable register state.
var ErrPersistence = errors.New("expander: persistence")

// DefaultStatePath is where the daemon keeps the register snapshot.
const DefaultStatePath = "/var/lib/pcf-relay/state.json"

// Persister stores and restores the register map.
type Persister interface {
	// Load returns the last saved map. A missing snapshot is an empty map
	// and no error.
	Load() (map[uint16]uint8, error)

	// Save replaces the snapshot with regs.
	Save(regs map[uint16]uint8) error
}

// FilePersister keeps the map as a JSON object keyed by hex address:
//
//	{"0x20": 247, "0x21": 255}
type FilePersister struct {
	path string
}

// NewFilePersister creates a persister for path.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Path returns the state file location.
func (p *FilePersister) Path() string {
	return p.path
}

// Load reads and validates the state file.
func (p *FilePersister) Load() (map[uint16]uint8, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[uint16]uint8{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrPersistence, p.path, err)
	}
	return decodeState(data)
}

// Save writes the state file atomically (temp file, fsync, rename).
func (p *FilePersister) Save(regs map[uint16]uint8) error {
	data, err := encodeState(regs)
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrPersistence, err)
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrPersistence, dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(p.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp: %w", ErrPersistence, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write %s: %w", ErrPersistence, tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync %s: %w", ErrPersistence, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrPersistence, tmpName, err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		return fmt.Errorf("%w: rename to %s: %w", ErrPersistence, p.path, err)
	}
	return nil
}

func encodeState(regs map[uint16]uint8) ([]byte, error) {
	doc := make(map[string]int, len(regs))
	for addr, v := range regs {
		doc[bus.FormatAddress(addr)] = int(v)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// decodeState rejects the whole document if any entry is invalid.
func decodeState(data []byte) (map[uint16]uint8, error) {
	var doc map[string]int
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrPersistence, err)
	}
	out := make(map[uint16]uint8, len(doc))
	for key, v := range doc {
		addr, err := bus.ParseAddress(key)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q: %w", ErrPersistence, key, err)
		}
		if v < 0 || v > 0xFF {
			return nil, fmt.Errorf("%w: value %d for %s does not fit in 8 bits", ErrPersistence, v, key)
		}
		out[addr] = uint8(v)
	}
	return out, nil
}

// MemoryPersister is an in-memory Persister for tests.
type MemoryPersister struct {
	mu    sync.Mutex
	state map[uint16]uint8
	saves int

	// LoadError and SaveError, if set, are returned by Load and Save.
	LoadError error
	SaveError error
}

// NewMemoryPersister creates a MemoryPersister holding a copy of initial.
func NewMemoryPersister(initial map[uint16]uint8) *MemoryPersister {
	return &MemoryPersister{state: copyRegs(initial)}
}

// Load returns a copy of the stored map.
func (m *MemoryPersister) Load() (map[uint16]uint8, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadError != nil {
		return nil, m.LoadError
	}
	return copyRegs(m.state), nil
}

// Save stores a copy of regs.
func (m *MemoryPersister) Save(regs map[uint16]uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveError != nil {
		return m.SaveError
	}
	m.state = copyRegs(regs)
	m.saves++
	return nil
}

// Saves returns the number of successful saves.
func (m *MemoryPersister) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// State returns a copy of the last saved map.
func (m *MemoryPersister) State() map[uint16]uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyRegs(m.state)
}

// SetSaveError changes the scripted save error while writers may be running.
func (m *MemoryPersister) SetSaveError(err error) {
	m.mu.Lock()
	m.SaveError = err
	m.mu.Unlock()
}

func copyRegs(in map[uint16]uint8) map[uint16]uint8 {
	out := make(map[uint16]uint8, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
