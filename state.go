package rangering

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
	"github.com/spacemeshos/go-scale"
)

// ErrStateLocked is returned when another process holds the state file.
var ErrStateLocked = errors.New("state file is locked by another process")

// localState is what a peer remembers about its own segment across restarts.
type localState struct {
	Segment    Announcement
	Generation uint64
}

// EncodeScale implements scale.Encodable.
func (s *localState) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := s.Segment.EncodeScale(enc)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact64(enc, s.Generation)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// DecodeScale implements scale.Decodable.
func (s *localState) DecodeScale(dec *scale.Decoder) (total int, err error) {
	{
		n, err := s.Segment.DecodeScale(dec)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		field, n, err := scale.DecodeCompact64(dec)
		if err != nil {
			return total, err
		}
		total += n
		s.Generation = field
	}
	return total, nil
}

// stateFile stores localState at a path guarded by an exclusive lock, so two
// processes never run under the same identity and state.
type stateFile struct {
	path string
	lock *flock.Flock
}

func openStateFile(path string) (*stateFile, error) {
	var lock = flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock state file: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrStateLocked, path)
	}
	return &stateFile{path: path, lock: lock}, nil
}

// load returns the stored state, or false when nothing was saved yet.
func (s *stateFile) load() (localState, bool, error) {
	var data, err = os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return localState{}, false, nil
	}
	if err != nil {
		return localState{}, false, fmt.Errorf("failed to read state file: %w", err)
	}

	var state localState
	if _, err := state.DecodeScale(scale.NewDecoder(bytes.NewReader(data))); err != nil {
		return localState{}, false, fmt.Errorf("failed to decode state file: %w", err)
	}
	return state, true, nil
}

// save replaces the file contents atomically.
func (s *stateFile) save(state localState) error {
	var buf bytes.Buffer
	if _, err := state.EncodeScale(scale.NewEncoder(&buf)); err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err := atomic.WriteFile(s.path, &buf); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

func (s *stateFile) close() error {
	return s.lock.Unlock()
}
