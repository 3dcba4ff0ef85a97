package apt

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"io"
	"os"

	"github.com/cockroachdb/errors"
)

// FileInfo records the identity of a backed-up file: its original
// absolute path, size, and SHA256 checksum.  Restore operations use it
// to prove that a restored file is byte-identical to what was saved.
type FileInfo struct {
	path   string
	size   uint64
	sha256 []byte
}

// NewFileInfoFromFile computes a FileInfo for the file at path.
func NewFileInfoFromFile(path string) (*FileInfo, error) {
	f, err := os.Open(path) // #nosec G304 - callers pass well-known apt paths
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return nil, errors.Wrap(err, "checksum "+path)
	}

	return &FileInfo{
		path:   path,
		size:   uint64(n),
		sha256: h.Sum(nil),
	}, nil
}

// CopyWithFileInfo copies src into dst and returns a FileInfo describing
// the copied bytes, attributed to path.
func CopyWithFileInfo(dst io.Writer, src io.Reader, path string) (*FileInfo, error) {
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(dst, h), src)
	if err != nil {
		return nil, err
	}

	return &FileInfo{
		path:   path,
		size:   uint64(n),
		sha256: h.Sum(nil),
	}, nil
}

// Path returns the identifying path string of the file.
func (fi *FileInfo) Path() string {
	return fi.path
}

// Size returns the number of bytes of the file body.
func (fi *FileInfo) Size() uint64 {
	return fi.size
}

// Same returns true if t describes the same file contents.
func (fi *FileInfo) Same(t *FileInfo) bool {
	if fi == t {
		return true
	}
	if t == nil {
		return false
	}
	if fi.path != t.path {
		return false
	}
	if fi.size != t.size {
		return false
	}
	return bytes.Equal(fi.sha256, t.sha256)
}

type fileInfoJSON struct {
	Path   string `json:"path"`
	Size   uint64 `json:"size"`
	SHA256 []byte `json:"sha256"`
}

// MarshalJSON implements json.Marshaler.
func (fi *FileInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal(fileInfoJSON{
		Path:   fi.path,
		Size:   fi.size,
		SHA256: fi.sha256,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (fi *FileInfo) UnmarshalJSON(data []byte) error {
	var v fileInfoJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return errors.Wrap(err, "FileInfo")
	}
	fi.path = v.Path
	fi.size = v.Size
	fi.sha256 = v.SHA256
	return nil
}
