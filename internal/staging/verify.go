package staging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Report is the result of checking one session directory.
type Report struct {
	Dir      string   `json:"dir"`
	Rows     int      `json:"rows"`
	Payloads [2]int   `json:"payloads"`
	Problems []string `json:"problems"`
}

// OK reports whether no inconsistency was found.
func (r *Report) OK() bool {
	return len(r.Problems) == 0
}

func (r *Report) problem(format string, args ...any) {
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

// Verify checks a session directory (staging or durable):
//   - metadata rows carry seq 0, 1, 2, ... with no gap or repeat
//   - a row marks a sensor artifact ok iff the payload file exists
//   - no payload file exists without a row
//   - the summary, when present, counts the same number of frames
//
// The returned error is reserved for unreadable input; inconsistencies are
// listed in the Report.
func Verify(dir string, sensors [2]string) (*Report, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	rows, err := ParseRows(data)
	if err != nil {
		return nil, err
	}

	rep := &Report{Dir: dir, Rows: len(rows), Problems: []string{}}

	var files [2]map[int64]string
	for i, s := range sensors {
		files[i], err = listPayloads(filepath.Join(dir, s))
		if err != nil {
			return nil, err
		}
		rep.Payloads[i] = len(files[i])
	}

	seen := make(map[int64]bool, len(rows))
	for n, row := range rows {
		if row.Seq != int64(n) {
			rep.problem("row %d has seq %d, want %d", n+1, row.Seq, n)
		}
		seen[row.Seq] = true
		for i, s := range sensors {
			_, present := files[i][row.Seq]
			switch {
			case row.Files[i] == FileOK && !present:
				rep.problem("seq %d: %s marked ok but no payload on disk", row.Seq, s)
			case row.Files[i] != FileOK && present:
				rep.problem("seq %d: %s payload on disk but marked %s", row.Seq, s, row.Files[i])
			}
		}
	}

	for i, s := range sensors {
		for seq, name := range files[i] {
			if !seen[seq] {
				rep.problem("%s/%s has no metadata row", s, name)
			}
		}
	}

	sum, err := ReadSummary(filepath.Join(dir, SummaryFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		rep.problem("unreadable summary: %v", err)
	case sum.Frames.Total != int64(len(rows)):
		rep.problem("summary counts %d frames, metadata has %d rows", sum.Frames.Total, len(rows))
	}

	return rep, nil
}

// listPayloads maps seq to file name for the payloads in dir. In-flight
// temp files are ignored.
func listPayloads(dir string) (map[int64]string, error) {
	out := make(map[int64]string)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list payloads: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasSuffix(name, ".tmp") {
			continue
		}
		stem, _, _ := strings.Cut(name, ".")
		seq, err := strconv.ParseInt(stem, 10, 64)
		if err != nil {
			continue
		}
		out[seq] = name
	}
	return out, nil
}
