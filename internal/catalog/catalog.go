// Package catalog maps geographic regions to APT mirror selections.
//
// The catalog is a pure data table: adding a region is a data change,
// not a control-flow change.  Rendering never performs I/O.
package catalog

import (
	"net/url"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/sourcectl/sourcectl/internal/apt"
)

// Entry is a single repository line for the primary source file.
type Entry struct {
	URL        string
	Suite      string
	Components []string
}

// Line renders the entry as a one-line "deb" stanza.
func (e Entry) Line() string {
	return "deb " + e.URL + " " + e.Suite + " " + strings.Join(e.Components, " ")
}

// SourceSet is an ordered list of repository entries for one
// distribution release.
type SourceSet []Entry

// Lines renders all entries in catalog order.
func (s SourceSet) Lines() []string {
	lines := make([]string, 0, len(s))
	for _, e := range s {
		lines = append(lines, e.Line())
	}
	return lines
}

// mirror holds the per-family mirror choice of a bucket.  An empty
// securityURL means the bucket has no regional security mirror and the
// distribution's canonical security host is used instead.  That
// fallback is deliberate policy: security updates should come from a
// host the distribution controls unless a region mirrors them fully.
type mirror struct {
	baseURL     string
	securityURL string
}

// bucket is a named group of region codes sharing one mirror choice.
type bucket struct {
	name    string
	regions []string
	mirrors map[apt.Family]mirror
}

var defaultBucket = bucket{
	name: "default",
	mirrors: map[apt.Family]mirror{
		apt.FamilyDebian: {baseURL: "https://deb.debian.org/debian"},
		apt.FamilyUbuntu: {baseURL: "http://archive.ubuntu.com/ubuntu"},
	},
}

var buckets = []bucket{
	{
		name:    "china",
		regions: []string{"CN", "HK", "MO"},
		mirrors: map[apt.Family]mirror{
			apt.FamilyDebian: {
				baseURL:     "https://mirrors.tuna.tsinghua.edu.cn/debian",
				securityURL: "https://mirrors.tuna.tsinghua.edu.cn/debian-security",
			},
			apt.FamilyUbuntu: {
				baseURL:     "https://mirrors.tuna.tsinghua.edu.cn/ubuntu",
				securityURL: "https://mirrors.tuna.tsinghua.edu.cn/ubuntu",
			},
		},
	},
	{
		name:    "japan-korea",
		regions: []string{"JP", "KR"},
		mirrors: map[apt.Family]mirror{
			apt.FamilyDebian: {baseURL: "https://ftp.jp.debian.org/debian"},
			apt.FamilyUbuntu: {baseURL: "http://jp.archive.ubuntu.com/ubuntu"},
		},
	},
	{
		name:    "southeast-asia",
		regions: []string{"SG", "MY", "TH", "ID", "VN", "PH"},
		mirrors: map[apt.Family]mirror{
			apt.FamilyDebian: {baseURL: "https://mirror.sg.gs/debian"},
			apt.FamilyUbuntu: {baseURL: "http://sg.archive.ubuntu.com/ubuntu"},
		},
	},
	{
		name:    "oceania",
		regions: []string{"AU", "NZ"},
		mirrors: map[apt.Family]mirror{
			apt.FamilyDebian: {baseURL: "https://ftp.au.debian.org/debian"},
			apt.FamilyUbuntu: {baseURL: "http://au.archive.ubuntu.com/ubuntu"},
		},
	},
	{
		name:    "uk-ireland",
		regions: []string{"GB", "IE"},
		mirrors: map[apt.Family]mirror{
			apt.FamilyDebian: {baseURL: "https://ftp.uk.debian.org/debian"},
			apt.FamilyUbuntu: {baseURL: "http://gb.archive.ubuntu.com/ubuntu"},
		},
	},
	{
		// Canonical's own archive serves western Europe well, so only
		// Debian gets a regional host here.
		name:    "western-europe",
		regions: []string{"DE", "FR", "NL", "BE", "AT", "CH", "LU", "DK"},
		mirrors: map[apt.Family]mirror{
			apt.FamilyDebian: {baseURL: "https://ftp.de.debian.org/debian"},
			apt.FamilyUbuntu: {baseURL: "http://archive.ubuntu.com/ubuntu"},
		},
	},
}

// canonicalSecurity is the per-family fallback for buckets without a
// regional security mirror.
var canonicalSecurity = map[apt.Family]Entry{
	apt.FamilyDebian: {URL: "https://security.debian.org/debian-security"},
	apt.FamilyUbuntu: {URL: "http://security.ubuntu.com/ubuntu"},
}

var components = map[apt.Family][]string{
	apt.FamilyDebian: {"main", "contrib", "non-free", "non-free-firmware"},
	apt.FamilyUbuntu: {"main", "restricted", "universe", "multiverse"},
}

// regionIndex maps a region code to its bucket.
var regionIndex = func() map[string]*bucket {
	index := make(map[string]*bucket)
	for i := range buckets {
		for _, region := range buckets[i].regions {
			index[region] = &buckets[i]
		}
	}
	return index
}()

// bucketFor returns the bucket for a region code.  Unknown codes fall
// through to the default bucket; this never fails.
func bucketFor(region string) *bucket {
	if b, ok := regionIndex[strings.ToUpper(region)]; ok {
		return b
	}
	return &defaultBucket
}

// BucketName reports which named bucket a region code resolves to.
func BucketName(region string) string {
	return bucketFor(region).name
}

// Render produces the ordered SourceSet for a region and distribution.
//
// Every SourceSet carries exactly four entries: base, -updates,
// -backports, and -security, in that order.  An unknown distribution
// family is an input-contract violation and returns an error.
func Render(region string, distro *apt.Identity) (SourceSet, error) {
	comps, ok := components[distro.Family]
	if !ok {
		return nil, errors.Newf("no catalog entries for distribution family %q", distro.Family)
	}
	if distro.Codename == "" {
		return nil, errors.New("distribution codename is required")
	}

	b := bucketFor(region)
	m := b.mirrors[distro.Family]

	securityURL := m.securityURL
	if securityURL == "" {
		securityURL = canonicalSecurity[distro.Family].URL
	}

	codename := distro.Codename
	return SourceSet{
		{URL: m.baseURL, Suite: codename, Components: comps},
		{URL: m.baseURL, Suite: codename + "-updates", Components: comps},
		{URL: m.baseURL, Suite: codename + "-backports", Components: comps},
		{URL: securityURL, Suite: codename + "-security", Components: comps},
	}, nil
}

// KnownHosts returns the sorted set of every mirror hostname the
// catalog can emit.  The source-state inspector uses it to recognize
// files that reference a managed mirror.
func KnownHosts() []string {
	set := make(map[string]bool)

	add := func(rawURL string) {
		if rawURL == "" {
			return
		}
		u, err := url.Parse(rawURL)
		if err != nil {
			return
		}
		set[u.Hostname()] = true
	}

	all := append([]bucket{defaultBucket}, buckets...)
	for _, b := range all {
		for _, m := range b.mirrors {
			add(m.baseURL)
			add(m.securityURL)
		}
	}
	for _, e := range canonicalSecurity {
		add(e.URL)
	}

	hosts := make([]string, 0, len(set))
	for host := range set {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}
