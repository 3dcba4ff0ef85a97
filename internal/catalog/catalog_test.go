package catalog

import (
	"reflect"
	"strings"
	"testing"

	"github.com/sourcectl/sourcectl/internal/apt"
)

func debianBookworm() *apt.Identity {
	return &apt.Identity{Family: apt.FamilyDebian, Version: "12", Codename: "bookworm"}
}

func ubuntuJammy() *apt.Identity {
	return &apt.Identity{Family: apt.FamilyUbuntu, Version: "22.04", Codename: "jammy"}
}

func TestRenderEntryCount(t *testing.T) {
	// One representative region per bucket, plus unmapped codes.
	regions := []string{"CN", "JP", "SG", "AU", "GB", "DE", "US", "BR", "ZZ", ""}
	families := []*apt.Identity{debianBookworm(), ubuntuJammy()}

	for _, region := range regions {
		for _, distro := range families {
			set, err := Render(region, distro)
			if err != nil {
				t.Fatalf("Render(%q, %s): %v", region, distro.Family, err)
			}
			if len(set) != 4 {
				t.Fatalf("Render(%q, %s) = %d entries, expected 4", region, distro.Family, len(set))
			}

			wantSuites := []string{
				distro.Codename,
				distro.Codename + "-updates",
				distro.Codename + "-backports",
				distro.Codename + "-security",
			}
			for i, entry := range set {
				if entry.Suite != wantSuites[i] {
					t.Errorf("Render(%q, %s)[%d].Suite = %q, expected %q",
						region, distro.Family, i, entry.Suite, wantSuites[i])
				}
				if entry.URL == "" {
					t.Errorf("Render(%q, %s)[%d] has empty URL", region, distro.Family, i)
				}
				if len(entry.Components) == 0 {
					t.Errorf("Render(%q, %s)[%d] has no components", region, distro.Family, i)
				}
			}
		}
	}
}

func TestRenderUnknownRegionIsDeterministic(t *testing.T) {
	first, err := Render("ZZ", debianBookworm())
	if err != nil {
		t.Fatal(err)
	}
	second, err := Render("ZZ", debianBookworm())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("unmapped region produced different output across calls")
	}

	defaultSet, err := Render("US", debianBookworm())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, defaultSet) {
		t.Error("unmapped region did not fall back to the default bucket")
	}
}

func TestRenderChinaDebian(t *testing.T) {
	set, err := Render("CN", debianBookworm())
	if err != nil {
		t.Fatal(err)
	}

	for i, line := range set.Lines() {
		if !strings.Contains(line, "mirrors.tuna.tsinghua.edu.cn") {
			t.Errorf("line %d does not use the Tsinghua host: %s", i, line)
		}
		if !strings.Contains(line, "bookworm") {
			t.Errorf("line %d does not carry the codename: %s", i, line)
		}
		if !strings.HasPrefix(line, "deb ") {
			t.Errorf("line %d is not a deb stanza: %s", i, line)
		}
	}

	if !strings.Contains(set[3].URL, "debian-security") {
		t.Errorf("security entry does not use the regional security archive: %s", set[3].URL)
	}
}

func TestRenderGermanyUbuntu(t *testing.T) {
	set, err := Render("DE", ubuntuJammy())
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if !strings.Contains(set[i].URL, "archive.ubuntu.com") {
			t.Errorf("entry %d does not use the canonical archive host: %s", i, set[i].URL)
		}
	}
	for _, component := range []string{"restricted", "universe", "multiverse"} {
		if !strings.Contains(set[0].Line(), component) {
			t.Errorf("base line is missing component %q: %s", component, set[0].Line())
		}
	}
}

func TestRenderSecurityFallback(t *testing.T) {
	tests := []struct {
		region   string
		distro   *apt.Identity
		wantHost string
	}{
		{"DE", debianBookworm(), "security.debian.org"},
		{"JP", ubuntuJammy(), "security.ubuntu.com"},
		{"AU", debianBookworm(), "security.debian.org"},
		{"CN", debianBookworm(), "mirrors.tuna.tsinghua.edu.cn"},
	}

	for _, tt := range tests {
		set, err := Render(tt.region, tt.distro)
		if err != nil {
			t.Fatalf("Render(%q, %s): %v", tt.region, tt.distro.Family, err)
		}
		if !strings.Contains(set[3].URL, tt.wantHost) {
			t.Errorf("Render(%q, %s) security URL = %q, expected host %q",
				tt.region, tt.distro.Family, set[3].URL, tt.wantHost)
		}
	}
}

func TestRenderUnknownFamily(t *testing.T) {
	_, err := Render("US", &apt.Identity{Family: "fedora", Codename: "rawhide"})
	if err == nil {
		t.Error("expected error for unknown distribution family")
	}
}

func TestRenderMissingCodename(t *testing.T) {
	_, err := Render("US", &apt.Identity{Family: apt.FamilyDebian})
	if err == nil {
		t.Error("expected error when codename is missing")
	}
}

func TestBucketName(t *testing.T) {
	tests := []struct {
		region string
		want   string
	}{
		{"CN", "china"},
		{"hk", "china"},
		{"JP", "japan-korea"},
		{"SG", "southeast-asia"},
		{"NZ", "oceania"},
		{"IE", "uk-ireland"},
		{"FR", "western-europe"},
		{"US", "default"},
		{"ZZ", "default"},
		{"", "default"},
	}

	for _, tt := range tests {
		if got := BucketName(tt.region); got != tt.want {
			t.Errorf("BucketName(%q) = %q, expected %q", tt.region, got, tt.want)
		}
	}
}

func TestKnownHosts(t *testing.T) {
	hosts := KnownHosts()
	if len(hosts) == 0 {
		t.Fatal("no known hosts")
	}

	set := make(map[string]bool)
	for _, host := range hosts {
		if set[host] {
			t.Errorf("duplicate host %q", host)
		}
		set[host] = true
	}

	for _, want := range []string{
		"deb.debian.org",
		"archive.ubuntu.com",
		"security.debian.org",
		"security.ubuntu.com",
		"mirrors.tuna.tsinghua.edu.cn",
	} {
		if !set[want] {
			t.Errorf("known hosts missing %q", want)
		}
	}
}
