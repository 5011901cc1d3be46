package copilotlog

import (
	"fmt"
	"io"
	"os"
)

// ReadNew returns the bytes appended to path since cursor, plus the advanced
// cursor. A file smaller than the cursor was truncated or rotated in place;
// the cursor resets to zero and the whole file is returned. An unchanged file
// returns no data. The error preserves fs.ErrNotExist for absent files.
func ReadNew(path string, cursor int64) ([]byte, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, cursor, fmt.Errorf("stat log file: %w", err)
	}

	size := info.Size()
	if size < cursor {
		cursor = 0
	}
	if size == cursor {
		return nil, cursor, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, cursor, fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if cursor > 0 {
		if _, err := f.Seek(cursor, io.SeekStart); err != nil {
			return nil, cursor, fmt.Errorf("seek to cursor: %w", err)
		}
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, cursor, fmt.Errorf("read log file: %w", err)
	}
	return data, cursor + int64(len(data)), nil
}
