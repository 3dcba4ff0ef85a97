package switcher

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/sourcectl/sourcectl/internal/apt"
)

const (
	manifestJSON   = "manifest.json"
	primaryBackup  = "sources.list"
	dropInsSubdir  = "sources.list.d"
	backupStampFmt = "20060102-150405"
)

// BackupRecord describes one run's backup set.  It is created exactly
// once per run, before any mutation, and is immutable afterward; it is
// consumed only on rollback.
type BackupRecord struct {
	Timestamp time.Time `json:"timestamp"`
	// Dir is the timestamped directory holding the backup set.
	Dir string `json:"dir"`
	// PrimaryMissing marks a run that started with no primary source
	// file.  Rollback then guarantees the file is absent again.
	PrimaryMissing bool `json:"primary_missing"`
	// Files maps original paths to checksums of the backed-up copies.
	Files map[string]*apt.FileInfo `json:"files"`
}

// createBackup copies the current primary source file and every
// drop-in fragment into a timestamped directory under backupDir.
// Nothing to back up is not an error.
func createBackup(backupDir string, state *SourceState, now time.Time) (*BackupRecord, error) {
	dir := filepath.Join(backupDir, now.Format(backupStampFmt))
	if err := os.MkdirAll(filepath.Join(dir, dropInsSubdir), 0755); err != nil {
		return nil, errors.Wrap(err, "create backup directory")
	}

	record := &BackupRecord{
		Timestamp:      now,
		Dir:            dir,
		PrimaryMissing: !state.PrimaryExists,
		Files:          make(map[string]*apt.FileInfo),
	}

	if state.PrimaryExists {
		fi, err := copyFile(state.Primary, filepath.Join(dir, primaryBackup))
		if err != nil {
			return nil, errors.Wrap(err, "back up primary source file")
		}
		record.Files[state.Primary] = fi
	}

	for _, dropIn := range state.DropIns {
		dst := filepath.Join(dir, dropInsSubdir, filepath.Base(dropIn))
		fi, err := copyFile(dropIn, dst)
		if err != nil {
			return nil, errors.Wrap(err, "back up drop-in "+dropIn)
		}
		record.Files[dropIn] = fi
	}

	if err := record.save(); err != nil {
		return nil, err
	}

	slog.Info("backup created", "dir", dir, "files", len(record.Files), "primary_missing", record.PrimaryMissing)
	return record, nil
}

// save persists the manifest so a backup set remains restorable by
// hand even if this process dies.
func (record *BackupRecord) save() error {
	manifestPath := filepath.Join(record.Dir, manifestJSON)
	f, err := os.OpenFile(manifestPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644) // #nosec G304 - path is inside the run's own backup directory
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(record); err != nil {
		return errors.Wrap(err, "write backup manifest")
	}

	_ = f.Sync()
	return DirSync(record.Dir)
}

// loadBackupRecord reads a previously saved manifest.
func loadBackupRecord(dir string) (*BackupRecord, error) {
	f, err := os.Open(filepath.Join(dir, manifestJSON)) // #nosec G304 - dir comes from the configured backup directory
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	record := new(BackupRecord)
	if err := json.NewDecoder(f).Decode(record); err != nil {
		return nil, errors.Wrap(err, "decode backup manifest")
	}
	return record, nil
}

// restorePrimary puts the primary source file back into its pre-run
// state: restored from backup, or removed if it did not exist.
func (record *BackupRecord) restorePrimary(target string) error {
	if record.PrimaryMissing {
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "remove primary during rollback")
		}
		return nil
	}

	src := filepath.Join(record.Dir, primaryBackup)
	restored, err := copyFile(src, target)
	if err != nil {
		return errors.Wrap(err, "restore primary source file")
	}

	if saved, ok := record.Files[target]; ok && saved.Size() != restored.Size() {
		return errors.Newf("restored primary size mismatch: %d != %d", restored.Size(), saved.Size())
	}
	return nil
}

// restoreDropIns puts the drop-in fragments back.  Restoration is
// best-effort per file: one failure does not abort the others.
func (record *BackupRecord) restoreDropIns(targetDir string) error {
	var firstErr error
	for original := range record.Files {
		if filepath.Dir(original) != targetDir {
			continue
		}
		src := filepath.Join(record.Dir, dropInsSubdir, filepath.Base(original))
		if _, err := copyFile(src, original); err != nil {
			slog.Warn("failed to restore drop-in", "path", original, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// copyFile copies src to dst and returns the checksum of the copied
// bytes.
func copyFile(src, dst string) (*apt.FileInfo, error) {
	in, err := os.Open(src) // #nosec G304 - paths come from configured apt locations
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644) // #nosec G304 - see above
	if err != nil {
		return nil, err
	}

	fi, err := apt.CopyWithFileInfo(out, in, src)
	if err != nil {
		_ = out.Close()
		return nil, err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return nil, err
	}
	if err := out.Close(); err != nil {
		return nil, err
	}
	return fi, nil
}
