package matcher

import (
	"io"
	"os"
)

// TailSize is the default number of trailing bytes read for the two-tier
// search's first pass.
const TailSize = 96 * 1024

// ReadTail returns the last n bytes of path, or the whole file if it is
// shorter than n. Any I/O error is treated as an empty tail, matching the
// matcher's overall "I/O failure means no match" discipline.
func ReadTail(path string, n int64) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ""
	}

	size := info.Size()
	start := int64(0)
	if size > n {
		start = size - n
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return ""
	}
	buf, err := io.ReadAll(f)
	if err != nil {
		return ""
	}
	return string(buf)
}
