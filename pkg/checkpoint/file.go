package checkpoint

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/supporttools/GoSQLSync/pkg/source"
)

const (
	cursorDir     = "cursors"
	completionDir = "completed"
)

// FileCursorStore keeps one plain-integer file per table under
// <root>/cursors/<database>/<table>.cursor
type FileCursorStore struct {
	root   string
	logger *logrus.Logger
}

// NewFileCursorStore creates a cursor store rooted at the work directory
func NewFileCursorStore(root string, logger *logrus.Logger) *FileCursorStore {
	return &FileCursorStore{root: root, logger: logger}
}

// Path returns the cursor file for ref
func (s *FileCursorStore) Path(ref source.TableRef) string {
	return filepath.Join(s.root, cursorDir, ref.Database, ref.Table+".cursor")
}

// Read returns the stored cursor. A missing or unparseable file is treated
// as no cursor.
func (s *FileCursorStore) Read(_ context.Context, ref source.TableRef) (uint64, bool, error) {
	data, err := os.ReadFile(s.Path(ref))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read cursor for %s: %w", ref, err)
	}

	cursor, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		s.logger.Warnf("Ignoring unparseable cursor for %s: %q", ref, strings.TrimSpace(string(data)))
		return 0, false, nil
	}
	return cursor, true, nil
}

// Write replaces the cursor for ref. The file is swapped in with a rename
// so a crash leaves either the old or the new value.
func (s *FileCursorStore) Write(_ context.Context, ref source.TableRef, cursor uint64) error {
	path := s.Path(ref)
	if err := WriteFileAtomic(path, []byte(strconv.FormatUint(cursor, 10)+"\n")); err != nil {
		return fmt.Errorf("failed to write cursor for %s: %w", ref, err)
	}
	s.logger.Debugf("Stored cursor %d for %s", cursor, ref)
	return nil
}

// FileCompletionLog appends finished table names to
// <root>/completed/<database>[.<family>].log
type FileCompletionLog struct {
	root   string
	family string
	logger *logrus.Logger
}

// NewFileCompletionLog creates a completion log for an export family. An
// empty family uses the database-wide log.
func NewFileCompletionLog(root, family string, logger *logrus.Logger) *FileCompletionLog {
	return &FileCompletionLog{root: root, family: family, logger: logger}
}

// Path returns the log file for database
func (l *FileCompletionLog) Path(database string) string {
	name := database
	if l.family != "" {
		name += "." + l.family
	}
	return filepath.Join(l.root, completionDir, name+".log")
}

// Completed returns the logged table names. A missing or unreadable log
// yields an empty set.
func (l *FileCompletionLog) Completed(_ context.Context, database string) (map[string]bool, error) {
	done := make(map[string]bool)

	f, err := os.Open(l.Path(database))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			l.logger.Warnf("Could not read completion log %s: %v", l.Path(database), err)
		}
		return done, nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if name := strings.TrimSpace(scanner.Text()); name != "" {
			done[name] = true
		}
	}
	if err := scanner.Err(); err != nil {
		l.logger.Warnf("Completion log %s is truncated: %v", l.Path(database), err)
	}
	return done, nil
}

// Append adds ref's table to the log
func (l *FileCompletionLog) Append(_ context.Context, ref source.TableRef) error {
	path := l.Path(ref.Database)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create completion log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open completion log %s: %w", path, err)
	}
	if _, err := f.WriteString(ref.Table + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("failed to append %s to completion log: %w", ref.Table, err)
	}
	return f.Close()
}

// WriteFileAtomic writes data to a temp file beside path and renames it over path
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
