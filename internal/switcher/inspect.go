package switcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ulikunitz/xz"
	"golang.org/x/sync/errgroup"

	"github.com/sourcectl/sourcectl/internal/catalog"
)

// dropInPatterns are the file extensions that constitute drop-in
// source fragments.
var dropInPatterns = []string{"*.list", "*.sources"}

// maxScanFileSize bounds how much of a single file the content scan
// will read.
const maxScanFileSize = 8 << 20

var urlHostPattern = regexp.MustCompile(`https?://([A-Za-z0-9._-]+)`)

// MirrorRef is an informational content-scan finding: a file whose
// content references a known mirror hostname.
type MirrorRef struct {
	Path string
	Host string
}

// SourceState is the full set of filesystem locations currently
// shaping package-source resolution.  It is recomputed on every run
// and never persisted.
type SourceState struct {
	Primary       string
	PrimaryExists bool
	DropIns       []string
	CacheFiles    []string
	AuxFiles      []string
	// Hosts is every mirror hostname referenced by the primary file
	// and the drop-in fragments.
	Hosts []string
	// MirrorRefs are content-scan findings across the scan
	// directories.  They drive logging and diagnostics only; the
	// transaction decides what to remove.
	MirrorRefs []MirrorRef
}

// Inspector enumerates the filesystem locations that influence
// package-source resolution.  It is strictly read-only.
type Inspector struct {
	config     *Config
	knownHosts []string
}

// NewInspector creates an Inspector for the configured locations.
func NewInspector(config *Config) *Inspector {
	return &Inspector{
		config:     config,
		knownHosts: catalog.KnownHosts(),
	}
}

// Scan reports which well-known locations exist and which files
// reference a known mirror.
func (ins *Inspector) Scan(ctx context.Context) (*SourceState, error) {
	state := &SourceState{
		Primary: ins.config.SourcesList,
	}

	hostSet := make(map[string]bool)

	if _, err := os.Stat(ins.config.SourcesList); err == nil {
		state.PrimaryExists = true
		collectHosts(ins.config.SourcesList, hostSet)
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "stat primary source file")
	}

	dropIns, err := listDropIns(ins.config.SourcesDir)
	if err != nil {
		return nil, err
	}
	state.DropIns = dropIns
	for _, p := range dropIns {
		collectHosts(p, hostSet)
	}

	cacheFiles, err := listDir(ins.config.CacheDir)
	if err != nil {
		return nil, err
	}
	state.CacheFiles = cacheFiles

	for _, aux := range ins.config.AuxFiles {
		if _, err := os.Stat(aux); err == nil {
			state.AuxFiles = append(state.AuxFiles, aux)
		}
	}

	refs, err := ins.contentScan(ctx)
	if err != nil {
		return nil, err
	}
	state.MirrorRefs = refs

	for host := range hostSet {
		state.Hosts = append(state.Hosts, host)
	}
	sort.Strings(state.Hosts)

	return state, nil
}

// contentScan searches the scan directories for files whose content
// references a known mirror hostname.  Directories are scanned
// concurrently; the scan only reads.
func (ins *Inspector) contentScan(ctx context.Context) ([]MirrorRef, error) {
	var mu sync.Mutex
	var refs []MirrorRef

	group, ctx := errgroup.WithContext(ctx)
	for _, dir := range ins.config.ScanDirs {
		dir := dir
		group.Go(func() error {
			found, err := ins.scanDir(ctx, dir)
			if err != nil {
				return err
			}
			mu.Lock()
			refs = append(refs, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Path != refs[j].Path {
			return refs[i].Path < refs[j].Path
		}
		return refs[i].Host < refs[j].Host
	})
	return refs, nil
}

func (ins *Inspector) scanDir(ctx context.Context, dir string) ([]MirrorRef, error) {
	dirEntries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "content scan")
	}

	var refs []MirrorRef
	for _, dirEntry := range dirEntries {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if dirEntry.IsDir() || !sourceLikeName(dirEntry.Name()) {
			continue
		}

		filePath := filepath.Join(dir, dirEntry.Name())
		content, err := readScanFile(filePath)
		if err != nil {
			slog.Debug("skipping unreadable file in content scan", "path", filePath, "error", err)
			continue
		}

		for _, host := range ins.knownHosts {
			if strings.Contains(content, host) {
				refs = append(refs, MirrorRef{Path: filePath, Host: host})
			}
		}
	}
	return refs, nil
}

// sourceLikeName reports whether a file name looks like a source
// definition or a package index fragment.
func sourceLikeName(name string) bool {
	for _, pattern := range dropInPatterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	for _, suffix := range []string{"Release", "InRelease", "Packages", "Sources"} {
		if strings.HasSuffix(name, suffix) || strings.HasSuffix(name, suffix+".xz") {
			return true
		}
	}
	return false
}

// readScanFile reads a bounded amount of a file, transparently
// decompressing xz-compressed index fragments.
func readScanFile(path string) (string, error) {
	f, err := os.Open(path) // #nosec G304 - path comes from configured scan directories
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()

	var reader io.Reader = f
	if strings.HasSuffix(path, ".xz") {
		xzReader, err := xz.NewReader(f)
		if err != nil {
			return "", err
		}
		reader = xzReader
	}

	data, err := io.ReadAll(io.LimitReader(reader, maxScanFileSize))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// collectHosts extracts every URL hostname from a source file into set.
// Unreadable files are skipped; the scan must never fail the run.
func collectHosts(path string, set map[string]bool) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from configured apt locations
	if err != nil {
		slog.Debug("cannot read source file for host extraction", "path", path, "error", err)
		return
	}
	for _, match := range urlHostPattern.FindAllStringSubmatch(string(data), -1) {
		set[match[1]] = true
	}
}

// listDropIns returns the drop-in source fragments in dir.
func listDropIns(dir string) ([]string, error) {
	var files []string
	for _, pattern := range dropInPatterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, errors.Wrap(err, "list drop-ins")
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, nil
}

// listDir returns the immediate file contents of dir, or nil if the
// directory does not exist.
func listDir(dir string) ([]string, error) {
	dirEntries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "list directory "+dir)
	}

	var files []string
	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() {
			continue
		}
		files = append(files, filepath.Join(dir, dirEntry.Name()))
	}
	return files, nil
}

// LogReport writes the source state to the debug log.
func (state *SourceState) LogReport(stage string) {
	slog.Debug("source state",
		"stage", stage,
		"primary", state.Primary,
		"primary_exists", state.PrimaryExists,
		"drop_ins", len(state.DropIns),
		"cache_files", len(state.CacheFiles),
		"aux_files", len(state.AuxFiles),
		"hosts", state.Hosts,
		"mirror_refs", len(state.MirrorRefs))
	for _, ref := range state.MirrorRefs {
		slog.Debug("mirror reference", "stage", stage, "path", ref.Path, "host", ref.Host)
	}
}
