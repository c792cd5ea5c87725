package store

import (
	"bufio"
	"os"
	"strings"
)

// JSONLHasNonEmptyLine returns true if the file contains at least one
// non-empty line.
func JSONLHasNonEmptyLine(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) != "" {
			return true, nil
		}
	}
	if err := sc.Err(); err != nil {
		return false, err
	}
	return false, nil
}

// ScanJSONLLines calls fn with each non-empty line in path, in file order.
// A malformed or fn-rejected line is reported via fn's own return value;
// ScanJSONLLines itself never inspects line content. Scanning stops early
// if fn returns false.
func ScanJSONLLines(path string, fn func(line []byte) bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		if !fn(line) {
			break
		}
	}
	return sc.Err()
}
