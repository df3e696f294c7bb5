package store

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadCheckpoint reads the number of records already processed by the
// embedding pipeline. A missing file means a fresh run and is not an error.
func LoadCheckpoint(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid checkpoint %q: %w", strings.TrimSpace(string(data)), err)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative checkpoint %d", n)
	}
	return n, nil
}

// SaveCheckpoint durably records batch progress. The checkpoint only ever
// moves forward during a run; it is written in the same step as the store.
func SaveCheckpoint(path string, processed int) error {
	if processed < 0 {
		return fmt.Errorf("negative checkpoint %d", processed)
	}
	return atomicWrite(path, func(f *os.File) error {
		_, err := fmt.Fprintf(f, "%d", processed)
		return err
	})
}
