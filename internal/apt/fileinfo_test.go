package apt

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestFileInfoSame(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.list")
	if err := os.WriteFile(path, []byte("deb https://deb.debian.org/debian bookworm main\n"), 0644); err != nil {
		t.Fatal(err)
	}

	first, err := NewFileInfoFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	second, err := NewFileInfoFromFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if !first.Same(second) {
		t.Error("checksums of identical content differ")
	}

	if err := os.WriteFile(path, []byte("deb https://archive.ubuntu.com/ubuntu jammy main\n"), 0644); err != nil {
		t.Fatal(err)
	}
	changed, err := NewFileInfoFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if first.Same(changed) {
		t.Error("checksums of different content match")
	}
}

func TestCopyWithFileInfo(t *testing.T) {
	content := []byte("deb https://deb.debian.org/debian bookworm main contrib\n")
	var dst bytes.Buffer

	fi, err := CopyWithFileInfo(&dst, bytes.NewReader(content), "/etc/apt/sources.list")
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(dst.Bytes(), content) {
		t.Error("copy altered the content")
	}
	if fi.Size() != uint64(len(content)) {
		t.Errorf("Size = %d, expected %d", fi.Size(), len(content))
	}
	if fi.Path() != "/etc/apt/sources.list" {
		t.Errorf("Path = %q", fi.Path())
	}
}

func TestFileInfoJSONRoundTrip(t *testing.T) {
	var src bytes.Buffer
	fi, err := CopyWithFileInfo(&src, bytes.NewReader([]byte("content")), "/etc/apt/sources.list")
	if err != nil {
		t.Fatal(err)
	}

	data, err := json.Marshal(fi)
	if err != nil {
		t.Fatal(err)
	}

	restored := new(FileInfo)
	if err := json.Unmarshal(data, restored); err != nil {
		t.Fatal(err)
	}

	if !fi.Same(restored) {
		t.Error("round-tripped FileInfo does not match the original")
	}
}
