package switcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ulikunitz/xz"
)

func TestScanEnumeratesLocations(t *testing.T) {
	config := newTestConfig(t)
	writeTestFile(t, config.SourcesList,
		"deb http://mirrors.aliyun.com/debian bookworm main\n"+
			"deb https://security.debian.org/debian-security bookworm-security main\n")
	writeTestFile(t, filepath.Join(config.SourcesDir, "vendor.list"),
		"deb https://deb.example.org/repo stable main\n")
	writeTestFile(t, filepath.Join(config.SourcesDir, "vendor.sources"), "Types: deb\n")
	writeTestFile(t, filepath.Join(config.SourcesDir, "README"), "not a source fragment\n")
	writeTestFile(t, filepath.Join(config.CacheDir, "deb.debian.org_debian_dists_bookworm_Release"), "Origin: Debian\n")
	writeTestFile(t, config.AuxFiles[0], "deb http://mirrors.aliyun.com/debian bookworm main\n")

	state, err := NewInspector(config).Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if !state.PrimaryExists {
		t.Error("primary file not reported as existing")
	}
	if len(state.DropIns) != 2 {
		t.Errorf("drop-ins = %v, expected 2 entries", state.DropIns)
	}
	if len(state.CacheFiles) != 1 {
		t.Errorf("cache files = %v, expected 1 entry", state.CacheFiles)
	}
	if len(state.AuxFiles) != 1 {
		t.Errorf("aux files = %v, expected 1 entry", state.AuxFiles)
	}

	wantHosts := map[string]bool{
		"mirrors.aliyun.com":  true,
		"security.debian.org": true,
		"deb.example.org":     true,
	}
	if len(state.Hosts) != len(wantHosts) {
		t.Errorf("hosts = %v, expected %v", state.Hosts, wantHosts)
	}
	for _, host := range state.Hosts {
		if !wantHosts[host] {
			t.Errorf("unexpected host %q", host)
		}
	}
}

func TestScanMissingLocations(t *testing.T) {
	config := newTestConfig(t)
	// Point everything at paths that do not exist.
	config.SourcesList = filepath.Join(config.SourcesDir, "missing", "sources.list")
	config.CacheDir = filepath.Join(config.CacheDir, "missing")
	config.ScanDirs = []string{filepath.Join(config.SourcesDir, "missing")}

	state, err := NewInspector(config).Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if state.PrimaryExists {
		t.Error("missing primary reported as existing")
	}
	if len(state.DropIns) != 0 || len(state.CacheFiles) != 0 || len(state.MirrorRefs) != 0 {
		t.Errorf("missing locations produced findings: %+v", state)
	}
}

func TestContentScanFindsKnownMirrors(t *testing.T) {
	config := newTestConfig(t)
	listPath := filepath.Join(config.SourcesDir, "tuna.list")
	writeTestFile(t, listPath, "deb https://mirrors.tuna.tsinghua.edu.cn/debian bookworm main\n")
	writeTestFile(t, filepath.Join(config.SourcesDir, "unrelated.list"),
		"deb https://deb.example.org/repo stable main\n")

	state, err := NewInspector(config).Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	var found bool
	for _, ref := range state.MirrorRefs {
		if ref.Path == listPath && ref.Host == "mirrors.tuna.tsinghua.edu.cn" {
			found = true
		}
		if ref.Path == filepath.Join(config.SourcesDir, "unrelated.list") {
			t.Errorf("content scan flagged a file without known mirror references: %+v", ref)
		}
	}
	if !found {
		t.Errorf("content scan missed a known mirror reference, got %+v", state.MirrorRefs)
	}
}

func TestContentScanReadsXZIndexes(t *testing.T) {
	config := newTestConfig(t)

	path := filepath.Join(config.CacheDir, "deb.debian.org_debian_dists_bookworm_main_binary-amd64_Packages.xz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w, err := xz.NewWriter(f)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("Package: hello\nFilename: pool/main/h/hello.deb\nOrigin: deb.debian.org\n")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	state, err := NewInspector(config).Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	var found bool
	for _, ref := range state.MirrorRefs {
		if ref.Path == path && ref.Host == "deb.debian.org" {
			found = true
		}
	}
	if !found {
		t.Errorf("content scan did not decompress the xz index, got %+v", state.MirrorRefs)
	}
}

func TestScanIsReadOnly(t *testing.T) {
	config := newTestConfig(t)
	writeTestFile(t, config.SourcesList, oldSourcesList)
	dropIn := filepath.Join(config.SourcesDir, "vendor.list")
	writeTestFile(t, dropIn, "deb https://deb.example.org/repo stable main\n")

	if _, err := NewInspector(config).Scan(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := readTestFile(t, config.SourcesList); got != oldSourcesList {
		t.Error("scan modified the primary file")
	}
	if _, err := os.Stat(dropIn); err != nil {
		t.Error("scan removed a drop-in fragment")
	}
}
