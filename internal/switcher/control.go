package switcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/sourcectl/sourcectl/internal/apt"
	"github.com/sourcectl/sourcectl/internal/catalog"
	"github.com/sourcectl/sourcectl/internal/geoip"
)

const lockFilename = ".lock"

// RunOptions supplies optional collaborators for Run.  Zero values
// select the real implementations.
type RunOptions struct {
	// Identity overrides distribution detection.
	Identity *apt.Identity
	// Runner overrides the apt-get subprocess runner.
	Runner apt.Runner
	// Resolver overrides the geolocation resolver.
	Resolver *geoip.Resolver
	// Quiet suppresses the probe progress bar.
	Quiet bool
	// SkipPrivilegeCheck disables the euid check, for tests only.
	SkipPrivilegeCheck bool
}

// validateLockFilePath ensures the lock file stays inside the backup
// directory.
func validateLockFilePath(lockFile, baseDir string) error {
	cleanLock := filepath.Clean(lockFile)
	cleanBase := filepath.Clean(baseDir)

	if strings.Contains(lockFile, "..") {
		return errors.New("unsafe lock file path (contains directory traversal): " + lockFile)
	}
	if !strings.HasPrefix(cleanLock, cleanBase) {
		return errors.New("lock file path outside of base directory: " + lockFile)
	}

	return nil
}

// Run performs one full apply: resolve the region, render the source
// set, and drive the transaction to a terminal state.  On success the
// optional mirror probe runs afterward; its failure is logged only.
func Run(ctx context.Context, config *Config, opts RunOptions) error {
	if !opts.SkipPrivilegeCheck && os.Geteuid() != 0 {
		return errors.New("sourcectl must run as root to modify apt configuration")
	}

	distro := opts.Identity
	if distro == nil {
		var err error
		distro, err = apt.DetectIdentity()
		if err != nil {
			return err
		}
	}
	slog.Info("distribution detected", "family", string(distro.Family), "version", distro.Version, "codename", distro.Codename)

	if err := os.MkdirAll(config.BackupDir, 0755); err != nil {
		return errors.Wrap(err, "create backup directory")
	}

	unlock, err := acquireLock(config.BackupDir)
	if err != nil {
		return err
	}
	defer unlock()

	resolver := opts.Resolver
	if resolver == nil {
		resolver = geoip.NewResolver()
	}
	region := resolver.Resolve(ctx, config.ForceRegion)
	slog.Info("region resolved", "region", region, "bucket", catalog.BucketName(region))

	set, err := catalog.Render(region, distro)
	if err != nil {
		return err
	}
	for _, line := range set.Lines() {
		slog.Debug("rendered source entry", "line", line)
	}

	inspector := NewInspector(config)
	state, err := inspector.Scan(ctx)
	if err != nil {
		return errors.Wrap(err, "source state scan")
	}
	state.LogReport("pre-apply")

	runner := opts.Runner
	if runner == nil {
		runner = apt.NewExecRunner()
	}

	tx := NewTransaction(config, runner)
	if err := tx.Apply(ctx, set, state); err != nil {
		return err
	}
	slog.Info("source configuration applied", "state", tx.State().String(), "backup", tx.Backup().Dir)

	if slog.Default().Enabled(ctx, slog.LevelDebug) {
		if after, err := inspector.Scan(ctx); err == nil {
			after.LogReport("post-apply")
		}
	}

	if config.DisableSpeedTest {
		slog.Debug("mirror probe disabled")
		return nil
	}

	probe := NewProbe(config.PGPKeyPath, opts.Quiet)
	if err := probe.Run(ctx, set); err != nil {
		slog.Warn("mirror probe failed", "error", err)
	}

	return nil
}

// Restore puts the configuration back from a saved backup set.  With
// an empty dir the most recent set under the backup directory is used.
func Restore(config *Config, dir string, skipPrivilegeCheck bool) error {
	if !skipPrivilegeCheck && os.Geteuid() != 0 {
		return errors.New("sourcectl must run as root to modify apt configuration")
	}

	if dir == "" {
		latest, err := latestBackupDir(config.BackupDir)
		if err != nil {
			return err
		}
		dir = latest
	}

	record, err := loadBackupRecord(dir)
	if err != nil {
		return errors.Wrap(err, "load backup record")
	}

	if err := record.restorePrimary(config.SourcesList); err != nil {
		return err
	}
	if err := record.restoreDropIns(config.SourcesDir); err != nil {
		return err
	}

	slog.Info("backup restored", "dir", dir, "files", len(record.Files))
	return nil
}

// latestBackupDir picks the newest timestamped backup set.  Stamp
// names sort chronologically, so lexical order suffices.
func latestBackupDir(backupDir string) (string, error) {
	dirEntries, err := os.ReadDir(backupDir)
	if err != nil {
		return "", errors.Wrap(err, "list backups")
	}

	var names []string
	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() {
			names = append(names, dirEntry.Name())
		}
	}
	if len(names) == 0 {
		return "", errors.New("no backup sets found in " + backupDir)
	}
	sort.Strings(names)

	return filepath.Join(backupDir, names[len(names)-1]), nil
}

// acquireLock takes the single-run advisory lock in dir and returns a
// release function.
func acquireLock(dir string) (func(), error) {
	lockFile := filepath.Join(dir, lockFilename)
	if err := validateLockFilePath(lockFile, dir); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(lockFile, os.O_WRONLY|os.O_CREATE, 0644) // #nosec G304,G302 - lockFile path validated, 0644 standard for lock files
	if err != nil {
		return nil, err
	}

	fileLock := Flock{file}
	if err := fileLock.Lock(); err != nil {
		_ = file.Close()
		return nil, err
	}

	return func() {
		if err := fileLock.Unlock(); err != nil {
			slog.Warn("failed to unlock file", "error", err)
		}
		if err := file.Close(); err != nil {
			slog.Warn("failed to close lock file", "error", err)
		}
		if err := os.Remove(lockFile); err != nil {
			slog.Warn("failed to remove lock file", "error", err, "path", lockFile)
		}
	}, nil
}
