/*
Package sourcectl is a tool for switching Debian/Ubuntu APT sources to a
region-appropriate mirror.

sourcectl detects the running distribution, resolves the machine's region,
and rewrites /etc/apt/sources.list transactionally with features including:
  - Region detection from public geolocation services with override support
  - A data-driven region-to-mirror catalog for Debian and Ubuntu
  - Checksummed backups of the pre-run configuration with rollback on failure
  - Cleanup of stale source fragments and cached index files
  - An optional post-apply mirror reachability probe with InRelease
    signature verification

The main packages are:

	github.com/sourcectl/sourcectl/internal/apt      - Distribution identity, apt-get execution, file checksums
	github.com/sourcectl/sourcectl/internal/catalog  - Region-to-mirror mapping table
	github.com/sourcectl/sourcectl/internal/geoip    - Region resolution
	github.com/sourcectl/sourcectl/internal/switcher - Inspection, backup, and the apply transaction
	github.com/sourcectl/sourcectl/cmd/sourcectl     - Command-line interface
*/
package sourcectl
