// Package precheck stores pre-upgrade diagnostic snapshots and renders
// diff reports between them.
package precheck

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrArtifactNotFound marks a missing precheck artifact.
var ErrArtifactNotFound = errors.New("precheck artifact not found")

const timestampLayout = "20060102_150405"

// Store keeps precheck artifacts as plain text files in one directory,
// named <device>_<date>_<time>.txt.
type Store struct {
	dir string
}

// NewStore opens (creating if needed) the artifact directory.
func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("precheck: artifact directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "precheck: create artifact directory failed")
	}
	return &Store{dir: dir}, nil
}

// Write saves one snapshot for a device and returns the artifact filename.
func (s *Store) Write(device string, at time.Time, content []byte) (string, error) {
	device = strings.TrimSpace(device)
	if device == "" {
		return "", errors.New("precheck: device name is empty")
	}
	name := device + "_" + at.UTC().Format(timestampLayout) + ".txt"
	if err := os.WriteFile(filepath.Join(s.dir, name), content, 0o644); err != nil {
		return "", errors.Wrap(err, "precheck: write artifact failed")
	}
	return name, nil
}

// ListDevices returns the sorted set of device names that have artifacts.
// The trailing <date>_<time> pair is stripped from the filename; device
// names may themselves contain underscores.
func (s *Store) ListDevices() ([]string, error) {
	names, err := s.fileNames()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, name := range names {
		if device, ok := deviceOf(name); ok {
			seen[device] = struct{}{}
		}
	}
	devices := make([]string, 0, len(seen))
	for device := range seen {
		devices = append(devices, device)
	}
	sort.Strings(devices)
	return devices, nil
}

// ListFiles returns a device's artifact filenames, newest first. Matching
// is case-insensitive on the device part.
func (s *Store) ListFiles(device string) ([]string, error) {
	names, err := s.fileNames()
	if err != nil {
		return nil, err
	}
	prefix := strings.ToLower(strings.TrimSpace(device)) + "_"
	var out []string
	for _, name := range names {
		if strings.HasPrefix(strings.ToLower(name), prefix) {
			out = append(out, name)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}

// ReadFile returns an artifact's raw bytes, ErrArtifactNotFound if absent.
func (s *Store) ReadFile(name string) ([]byte, error) {
	// Artifacts are served by bare filename only, never by path.
	name = filepath.Base(name)
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrArtifactNotFound, "%s", name)
		}
		return nil, errors.Wrap(err, "precheck: read artifact failed")
	}
	return data, nil
}

func (s *Store) fileNames() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrap(err, "precheck: list artifact directory failed")
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

// deviceOf strips the trailing "<date>_<time>.txt" suffix.
func deviceOf(filename string) (string, bool) {
	base := strings.TrimSuffix(filename, ".txt")
	parts := strings.Split(base, "_")
	if len(parts) < 3 {
		return "", false
	}
	return strings.Join(parts[:len(parts)-2], "_"), true
}
