package staging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// File and directory names of a session tree.
const (
	MetadataFile = "timestamps.csv"
	SummaryFile  = "session_info.yaml"
	RecordsDir   = "records"
)

// SessionIDLayout formats the wall-clock start time into a session id.
const SessionIDLayout = "20060102_150405"

// PayloadName returns the zero-padded file name of frame seq.
func PayloadName(seq int64, ext string) string {
	return fmt.Sprintf("%06d.%s", seq, ext)
}

// PayloadPath returns where frame seq of sensor lives inside sessionDir.
func PayloadPath(sessionDir, sensor string, seq int64, ext string) string {
	return filepath.Join(sessionDir, sensor, PayloadName(seq, ext))
}

// DurableDir returns the final location of a session under durableRoot.
func DurableDir(durableRoot, id string) string {
	return filepath.Join(durableRoot, RecordsDir, id)
}

// CreateSessionDir allocates a fresh session directory in stagingRoot.
//
// The id is derived from start; if that id is already taken in either the
// staging area or under durableRoot, a numeric suffix is appended (_1, _2,
// ...). Sensor subdirectories are created up front.
func CreateSessionDir(stagingRoot, durableRoot string, start time.Time, sensors ...string) (id, dir string, err error) {
	if err := os.MkdirAll(stagingRoot, 0o755); err != nil {
		return "", "", fmt.Errorf("create staging root: %w", err)
	}

	base := start.Format(SessionIDLayout)
	for n := 0; n < 1000; n++ {
		id = base
		if n > 0 {
			id = fmt.Sprintf("%s_%d", base, n)
		}
		if durableRoot != "" && exists(DurableDir(durableRoot, id)) {
			continue
		}
		dir = filepath.Join(stagingRoot, id)
		err = os.Mkdir(dir, 0o755)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", "", fmt.Errorf("create session dir: %w", err)
		}
		for _, s := range sensors {
			if err := os.Mkdir(filepath.Join(dir, s), 0o755); err != nil {
				return "", "", fmt.Errorf("create sensor dir %s: %w", s, err)
			}
		}
		return id, dir, nil
	}
	return "", "", fmt.Errorf("no free session id for %s", base)
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
