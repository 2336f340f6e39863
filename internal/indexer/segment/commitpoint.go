package segment

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	commitPrefix = "commit_"
	commitSuffix = ".json"
)

// CommitPoint lists the segments that make up one committed generation of
// an index, with the ids deleted from each since it was written.
type CommitPoint struct {
	Generation  int64         `json:"generation"`
	NextSegment int64         `json:"nextSegment"`
	Segments    []SegmentInfo `json:"segments"`
	CommittedAt time.Time     `json:"committedAt"`
}

type SegmentInfo struct {
	Name    string   `json:"name"`
	Deleted []string `json:"deleted,omitempty"`
}

func commitFileName(gen int64) string {
	return fmt.Sprintf("%s%010d%s", commitPrefix, gen, commitSuffix)
}

func segmentFileName(seq int64) string {
	return fmt.Sprintf("seg_%06d%s", seq, Extension)
}

// commitGenerations returns the generations present in dir, ascending.
func commitGenerations(dir string) ([]int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading index directory: %w", err)
	}
	var gens []int64
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, commitPrefix) || !strings.HasSuffix(name, commitSuffix) {
			continue
		}
		gen, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, commitPrefix), commitSuffix), 10, 64)
		if err != nil {
			continue
		}
		gens = append(gens, gen)
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })
	return gens, nil
}

// readLatestCommit loads the newest commit point in dir. ok is false when
// the directory holds no commit.
func readLatestCommit(dir string) (cp *CommitPoint, ok bool, err error) {
	gens, err := commitGenerations(dir)
	if err != nil || len(gens) == 0 {
		return nil, false, err
	}
	data, err := os.ReadFile(filepath.Join(dir, commitFileName(gens[len(gens)-1])))
	if err != nil {
		return nil, false, fmt.Errorf("reading commit point: %w", err)
	}
	cp = &CommitPoint{}
	if err := json.Unmarshal(data, cp); err != nil {
		return nil, false, fmt.Errorf("parsing commit point: %w", err)
	}
	return cp, true, nil
}

// writeCommit persists cp through a synced temp file and a rename, which is
// the moment the generation becomes visible to readers.
func writeCommit(dir string, cp *CommitPoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling commit point: %w", err)
	}
	finalPath := filepath.Join(dir, commitFileName(cp.Generation))
	tmpPath := finalPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating commit point: %w", err)
	}
	_, werr := f.Write(data)
	serr := f.Sync()
	cerr := f.Close()
	if err := errors.Join(werr, serr, cerr); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing commit point: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("publishing commit point: %w", err)
	}
	return nil
}
