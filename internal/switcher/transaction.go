package switcher

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/sourcectl/sourcectl/internal/apt"
	"github.com/sourcectl/sourcectl/internal/catalog"
)

// State is a checkpoint of the apply transaction.  Transitions are
// strictly sequential; checkpoints exist so that failure handling can
// depend on how far the run got, not on ad hoc flags.
type State int

// Transaction states, in transition order.  RolledBack is terminal and
// reachable only from a failed index refresh.
const (
	Idle State = iota
	BackedUp
	Cleaned
	Written
	Verified
	Refreshed
	RolledBack
)

var stateNames = map[State]string{
	Idle:       "idle",
	BackedUp:   "backed-up",
	Cleaned:    "cleaned",
	Written:    "written",
	Verified:   "verified",
	Refreshed:  "refreshed",
	RolledBack: "rolled-back",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Transaction performs the guarded source-list replacement:
// backup, clean, write, verify, refresh, with rollback from the
// run's own backup set when the refresh fails.
type Transaction struct {
	config *Config
	runner apt.Runner

	state  State
	backup *BackupRecord
	now    func() time.Time
}

// NewTransaction creates an idle transaction.
func NewTransaction(config *Config, runner apt.Runner) *Transaction {
	return &Transaction{
		config: config,
		runner: runner,
		state:  Idle,
		now:    time.Now,
	}
}

// State returns the last reached checkpoint.
func (tx *Transaction) State() State {
	return tx.state
}

// Backup returns the run's backup record, if one was created.
func (tx *Transaction) Backup() *BackupRecord {
	return tx.backup
}

// Apply drives the transaction to a terminal state.  The pre-scanned
// source state supplies the files to back up and the hostnames the
// verification step must prove gone.
func (tx *Transaction) Apply(ctx context.Context, set catalog.SourceSet, state *SourceState) error {
	if tx.state != Idle {
		return errors.Newf("transaction already ran (state %s)", tx.state)
	}
	if len(set) == 0 {
		return errors.New("refusing to apply an empty source set")
	}

	record, err := createBackup(tx.config.BackupDir, state, tx.now())
	if err != nil {
		return errors.Wrap(err, "backup")
	}
	tx.backup = record
	tx.advance(BackedUp)

	if err := tx.clean(ctx, state); err != nil {
		// The write target is in an unknown state; writing over it
		// could lose data, and the cleaned state cannot be trusted
		// enough to roll back automatically.
		return errors.Wrapf(err, "clean failed, manual recovery from backup %s may be required", record.Dir)
	}
	tx.advance(Cleaned)

	if err := tx.write(set); err != nil {
		return errors.Wrap(err, "write")
	}
	tx.advance(Written)

	if err := tx.verify(set, state); err != nil {
		return errors.Wrap(err, "verify")
	}
	tx.advance(Verified)

	if err := tx.runner.Update(ctx); err != nil {
		slog.Error("package index refresh failed, restoring previous configuration", "error", err)
		if rbErr := tx.rollback(state); rbErr != nil {
			tx.advance(RolledBack)
			return errors.Wrapf(err, "index refresh failed and rollback was incomplete: %v", rbErr)
		}
		tx.advance(RolledBack)
		return errors.Wrap(err, "index refresh failed, previous configuration restored")
	}
	tx.advance(Refreshed)

	return nil
}

func (tx *Transaction) advance(next State) {
	slog.Debug("transaction checkpoint", "from", tx.state.String(), "to", next.String())
	tx.state = next
}

// clean empties the locations that would otherwise shadow the new
// configuration.  Cache and auxiliary deletions are best-effort; the
// primary file and the drop-in fragments must actually be gone before
// a clean write target can be guaranteed.
func (tx *Transaction) clean(ctx context.Context, state *SourceState) error {
	if err := tx.runner.Clean(ctx); err != nil {
		slog.Warn("apt-get clean failed", "error", err)
	}

	for _, cacheFile := range state.CacheFiles {
		if err := os.Remove(cacheFile); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove cache index", "path", cacheFile, "error", err)
		}
	}

	for _, aux := range state.AuxFiles {
		if err := os.Remove(aux); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove stale auxiliary file", "path", aux, "error", err)
		}
	}

	for _, dropIn := range state.DropIns {
		if err := os.Remove(dropIn); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "remove drop-in "+dropIn)
		}
	}

	if err := os.Remove(state.Primary); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove primary source file")
	}

	return nil
}

// write serializes the source set to the primary file, one "deb" line
// per entry in catalog order.  The file is staged next to its final
// location and renamed into place.
func (tx *Transaction) write(set catalog.SourceSet) error {
	dir := filepath.Dir(tx.config.SourcesList)

	tmp, err := os.CreateTemp(dir, "_sourcectl")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	content := strings.Join(set.Lines(), "\n") + "\n"
	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmpName, tx.config.SourcesList); err != nil {
		return err
	}

	slog.Info("primary source file written", "path", tx.config.SourcesList, "entries", len(set))
	return DirSync(dir)
}

// verify asserts that the written file is non-empty and free of every
// hostname that shaped source resolution before cleanup.  Hostnames
// that also appear in the new set are exempt; staying on the same
// mirror is not a stale write.  Comparison is on whole hostnames:
// jp.archive.ubuntu.com does not count as a reference to
// archive.ubuntu.com.
func (tx *Transaction) verify(set catalog.SourceSet, state *SourceState) error {
	data, err := os.ReadFile(tx.config.SourcesList) // #nosec G304 - path comes from validated configuration
	if err != nil {
		return errors.Wrap(err, "read back primary source file")
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return errors.New("primary source file is empty after write")
	}

	written := make(map[string]bool)
	for _, match := range urlHostPattern.FindAllStringSubmatch(string(data), -1) {
		written[match[1]] = true
	}
	for _, host := range forbiddenHosts(set, state) {
		if written[host] {
			return errors.Newf("primary source file still references pre-cleanup host %q", host)
		}
	}

	return nil
}

// forbiddenHosts returns the pre-cleanup hostnames that must not
// survive into the written file.
func forbiddenHosts(set catalog.SourceSet, state *SourceState) []string {
	newHosts := make(map[string]bool)
	for _, entry := range set {
		if u, err := url.Parse(entry.URL); err == nil {
			newHosts[u.Hostname()] = true
		}
	}

	var forbidden []string
	for _, host := range state.Hosts {
		if !newHosts[host] {
			forbidden = append(forbidden, host)
		}
	}
	return forbidden
}

// rollback restores the pre-run state from the run's backup record.
// The primary file restore is attempted unconditionally; drop-in
// restoration is best-effort per file.
func (tx *Transaction) rollback(state *SourceState) error {
	primaryErr := tx.backup.restorePrimary(state.Primary)
	if primaryErr != nil {
		slog.Error("failed to restore primary source file", "error", primaryErr)
	}

	dropInErr := tx.backup.restoreDropIns(tx.config.SourcesDir)

	if primaryErr != nil {
		return primaryErr
	}
	return dropInErr
}
