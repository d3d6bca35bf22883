package migration

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
)

// Manifest identifies the embedded schema: the highest migration version and
// a checksum over every up script.
type Manifest struct {
	Version  uint
	Checksum string
}

func (m Manifest) VersionString() string {
	return strconv.FormatUint(uint64(m.Version), 10)
}

// LoadManifest reads the embedded migrations once and derives the manifest.
func LoadManifest() (Manifest, error) {
	return manifestFrom(embeddedMigrations, migrationsDir)
}

func manifestFrom(fsys fs.FS, dir string) (Manifest, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return Manifest{}, fmt.Errorf("list migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	var latest uint
	for _, entry := range entries {
		name := strings.TrimSpace(entry.Name())
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		version, ok := parseMigrationVersion(name)
		if !ok {
			return Manifest{}, fmt.Errorf("invalid migration filename: %s", name)
		}
		latest = max(latest, version)
		names = append(names, name)
	}
	if latest == 0 {
		return Manifest{}, errors.New("no embedded migrations found")
	}
	sort.Strings(names)

	hasher := sha256.New()
	for _, name := range names {
		content, err := fs.ReadFile(fsys, dir+"/"+name)
		if err != nil {
			return Manifest{}, fmt.Errorf("read migration %s: %w", name, err)
		}
		_, _ = hasher.Write([]byte(name))
		_, _ = hasher.Write([]byte{0})
		_, _ = hasher.Write(content)
		_, _ = hasher.Write([]byte{0})
	}

	return Manifest{Version: latest, Checksum: hex.EncodeToString(hasher.Sum(nil))}, nil
}

func parseMigrationVersion(name string) (uint, bool) {
	prefix, _, found := strings.Cut(name, "_")
	if !found || prefix == "" {
		return 0, false
	}
	parsed, err := strconv.ParseUint(prefix, 10, 64)
	if err != nil || parsed == 0 {
		return 0, false
	}
	return uint(parsed), true
}
