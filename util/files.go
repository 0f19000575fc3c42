package util

import (
	"errors"
	"os"
)

func FileExists(path string) (exists bool, _ error) {
	if _, err := os.Stat(path); err == nil {
		return true, nil
	} else if errors.Is(err, os.ErrNotExist) {
		return false, nil
	} else {
		return false, err
	}
}

// SyncDir fsyncs a directory so that renames and removals inside it are
// durable before dependent state is acknowledged.
func SyncDir(path string) error {
	dir, err := os.Open(path)
	if err != nil {
		return err
	}
	defer dir.Close()
	return dir.Sync()
}
