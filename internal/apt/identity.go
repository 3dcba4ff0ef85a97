package apt

import (
	"bufio"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	version "github.com/knqyf263/go-deb-version"
)

// Family identifies a supported distribution family.
type Family string

// Supported distribution families.
const (
	FamilyDebian Family = "debian"
	FamilyUbuntu Family = "ubuntu"
)

// Identity describes the distribution the tool is running on.
// Codename is required to render any source entry; detection fails
// fast when it cannot be discovered.
type Identity struct {
	Family   Family
	Version  string
	Codename string
}

// Default locations consulted by DetectIdentity.
const (
	osReleasePath     = "/etc/os-release"
	debianVersionPath = "/etc/debian_version"
)

// debianRelease maps a Debian major release to its codename.
type debianRelease struct {
	floor    string // lowest version of the release, inclusive
	codename string
}

// Ordered newest first so the first floor that is not greater than the
// detected version wins.
var debianReleases = []debianRelease{
	{"13", "trixie"},
	{"12", "bookworm"},
	{"11", "bullseye"},
	{"10", "buster"},
}

// DetectIdentity discovers the distribution identity from the standard
// system descriptor files.
func DetectIdentity() (*Identity, error) {
	return detectIdentity(osReleasePath, debianVersionPath)
}

func detectIdentity(osRelease, debianVersion string) (*Identity, error) {
	fields, err := parseOSRelease(osRelease)
	if err != nil {
		return nil, errors.Wrap(err, "detect identity")
	}

	ident := &Identity{
		Version:  fields["VERSION_ID"],
		Codename: fields["VERSION_CODENAME"],
	}

	switch fields["ID"] {
	case "debian":
		ident.Family = FamilyDebian
	case "ubuntu":
		ident.Family = FamilyUbuntu
	default:
		return nil, errors.Newf("unsupported distribution: %q", fields["ID"])
	}

	if ident.Codename == "" && ident.Family == FamilyDebian {
		codename, err := codenameFromDebianVersion(debianVersion)
		if err != nil {
			return nil, err
		}
		ident.Codename = codename
	}

	if ident.Codename == "" {
		return nil, errors.New("release codename could not be discovered")
	}

	return ident, nil
}

// parseOSRelease reads an os-release style key-value file.
// Values may be quoted; comments and blank lines are skipped.
func parseOSRelease(path string) (map[string]string, error) {
	f, err := os.Open(path) // #nosec G304 - path is a fixed system descriptor location
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	fields := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"'`)
		fields[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return fields, nil
}

// codenameFromDebianVersion maps the contents of /etc/debian_version to
// a release codename.  Testing and unstable systems carry a literal
// "codename/sid" marker; stable systems carry a dotted version that is
// matched against the release table.
func codenameFromDebianVersion(path string) (string, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is a fixed system descriptor location
	if err != nil {
		return "", errors.Wrap(err, "read debian_version")
	}
	raw := strings.TrimSpace(string(data))

	if codename, _, ok := strings.Cut(raw, "/"); ok {
		if codename == "" {
			return "", errors.New("empty codename in " + path)
		}
		return codename, nil
	}

	detected, err := version.NewVersion(raw)
	if err != nil {
		return "", errors.Wrapf(err, "unparseable debian_version %q", raw)
	}

	for _, release := range debianReleases {
		floor, err := version.NewVersion(release.floor)
		if err != nil {
			return "", errors.Wrap(err, "release table")
		}
		if detected.GreaterThan(floor) || detected.Equal(floor) {
			return release.codename, nil
		}
	}

	return "", errors.Newf("no known release for debian_version %q", raw)
}
