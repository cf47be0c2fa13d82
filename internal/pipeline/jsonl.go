package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tge-sentinel/internal/model"
)

const feedExt = ".jsonl"

// maxLineBytes bounds a single JSONL record.
const maxLineBytes = 4 << 20

// ReadItems decodes one CandidateItem per non-blank line.
func ReadItems(r io.Reader) ([]model.CandidateItem, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	var items []model.CandidateItem
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var it model.CandidateItem
		if err := json.Unmarshal([]byte(raw), &it); err != nil {
			return items, eris.Wrapf(err, "pipeline: decode item on line %d", line)
		}
		items = append(items, it)
	}
	if err := sc.Err(); err != nil {
		return items, eris.Wrap(err, "pipeline: read items")
	}
	return items, nil
}

// JSONLFetcher reads source feeds from a directory holding one
// <source>.jsonl file per source.
type JSONLFetcher struct {
	Dir string
}

// NewJSONLFetcher creates a fetcher for dir.
func NewJSONLFetcher(dir string) *JSONLFetcher {
	return &JSONLFetcher{Dir: dir}
}

// Fetch reads every item of sourceID. Items without a source ID inherit
// sourceID.
func (f *JSONLFetcher) Fetch(ctx context.Context, sourceID string) ([]model.CandidateItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sourceID == "" || strings.ContainsAny(sourceID, `/\`) || strings.Contains(sourceID, "..") {
		return nil, eris.Errorf("pipeline: invalid source id %q", sourceID)
	}

	file, err := os.Open(filepath.Join(f.Dir, sourceID+feedExt))
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: open feed %s", sourceID)
	}
	defer file.Close() //nolint:errcheck

	items, err := ReadItems(file)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: feed %s", sourceID)
	}
	for i := range items {
		if items[i].SourceID == "" {
			items[i].SourceID = sourceID
		}
	}
	return items, nil
}

// Sources lists the source IDs present in the directory, sorted.
func (f *JSONLFetcher) Sources() ([]string, error) {
	entries, err := os.ReadDir(f.Dir)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list feeds")
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), feedExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), feedExt))
	}
	sort.Strings(ids)
	return ids, nil
}
