package storage

import (
	"fmt"
	"path/filepath"
	"strings"
)

// filePragmas keeps the audit trail durable under concurrent poller and
// admin-API writers: WAL journaling, a busy timeout instead of immediate
// SQLITE_BUSY, and enforced foreign keys.
var filePragmas = []string{
	"mode=rwc",
	"_busy_timeout=5000",
	"_journal_mode=WAL",
	"_foreign_keys=on",
}

// FileDSN converts a filesystem path into an on-disk SQLite DSN for the
// audit database.
func FileDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrPathRequired
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve audit database path: %w", err)
	}
	return "file:" + abs + "?" + strings.Join(filePragmas, "&"), nil
}
