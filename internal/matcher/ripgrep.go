package matcher

import (
	"bufio"
	"context"
	"encoding/json"
	"strings"

	"github.com/tbharthur/agentboard/pkg/executil"
)

// SearchRoots invokes `rg -l -e <pattern>` under each root with
// --glob **/*.jsonl and returns the matching file paths. A non-zero exit
// with no output (rg's convention for "no matches") is reported as an empty
// slice, not an error; any other failure is reported as an error so callers
// can distinguish "no match" from "rg itself failed".
func SearchRoots(ctx context.Context, exec executil.Executor, pattern string, roots []string) ([]string, error) {
	if len(roots) == 0 {
		return nil, nil
	}
	args := append([]string{"-l", "-e", pattern, "--glob", "**/*.jsonl"}, roots...)
	out, err := exec.Run(ctx, "rg", args...)
	return parseRgFileList(out, err)
}

// SearchPaths is SearchRoots restricted to a caller-supplied list of
// candidate files rather than whole directory trees.
func SearchPaths(ctx context.Context, exec executil.Executor, pattern string, paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	args := append([]string{"-l", "-e", pattern}, paths...)
	out, err := exec.Run(ctx, "rg", args...)
	return parseRgFileList(out, err)
}

func parseRgFileList(out []byte, err error) ([]string, error) {
	if err != nil {
		if len(out) == 0 {
			// rg exits 1 with no output when nothing matched; treat as no match.
			return nil, nil
		}
		return nil, err
	}
	var files []string
	sc := bufio.NewScanner(strings.NewReader(string(out)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// LineMatch is one hit from a JSON-line rg search.
type LineMatch struct {
	LineNumber int
	Text       string
}

// SearchFileJSON runs `rg --json -e <pattern> <path>` and returns every
// match's line number and text, used for the full-file tie-break re-score.
func SearchFileJSON(ctx context.Context, exec executil.Executor, pattern, path string) ([]LineMatch, error) {
	out, err := exec.Run(ctx, "rg", "--json", "-e", pattern, path)
	if err != nil && len(out) == 0 {
		return nil, nil
	}

	var matches []LineMatch
	sc := bufio.NewScanner(strings.NewReader(string(out)))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var event rgJSONEvent
		if jsonErr := json.Unmarshal(sc.Bytes(), &event); jsonErr != nil {
			continue
		}
		if event.Type != "match" {
			continue
		}
		matches = append(matches, LineMatch{
			LineNumber: event.Data.LineNumber,
			Text:       event.Data.Lines.Text,
		})
	}
	return matches, nil
}

type rgJSONEvent struct {
	Type string `json:"type"`
	Data struct {
		LineNumber int `json:"line_number"`
		Lines      struct {
			Text string `json:"text"`
		} `json:"lines"`
	} `json:"data"`
}

