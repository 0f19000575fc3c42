package engine

import (
	"fmt"
	"path/filepath"
	"strings"
)

func (me *Engine) tablePath(level int, fileNumber uint64) string {
	return filepath.Join(me.path, fmt.Sprintf("sstable_L%d_%d.sst", level, fileNumber))
}

func (me *Engine) walPath(fileNumber uint64) string {
	return filepath.Join(me.path, fmt.Sprintf("wal_%d.log", fileNumber))
}

func (me *Engine) tmpPath() string {
	return filepath.Join(me.path, "tmp")
}

func isTableFileName(baseName string) bool {
	return strings.HasPrefix(baseName, "sstable_") && strings.HasSuffix(baseName, ".sst")
}

func isWALFileName(baseName string) bool {
	return strings.HasPrefix(baseName, "wal_") && strings.HasSuffix(baseName, ".log")
}

func parseTableFileName(baseName string) (level int, fileNumber uint64, ok bool) {
	n, err := fmt.Sscanf(baseName, "sstable_L%d_%d.sst", &level, &fileNumber)
	if err != nil || n != 2 || level < 0 {
		return 0, 0, false
	}
	return level, fileNumber, true
}

func parseWALFileName(baseName string) (fileNumber uint64, ok bool) {
	n, err := fmt.Sscanf(baseName, "wal_%d.log", &fileNumber)
	if err != nil || n != 1 {
		return 0, false
	}
	return fileNumber, true
}
