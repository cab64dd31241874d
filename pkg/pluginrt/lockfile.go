package pluginrt

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ninjra/autocapture-pipeline/pkg/perr"
)

// LockEntry pins a plugin's code and manifest hashes (§4.2: "manifest +
// code hashes match the lockfile").
type LockEntry struct {
	ID           string `json:"id"`
	Version      string `json:"version"`
	CodeSHA256   string `json:"code_sha256"`
	ManifestSHA256 string `json:"manifest_sha256"`
}

// Lockfile is the closed set of admitted plugin versions.
type Lockfile struct {
	Entries map[string]LockEntry `json:"entries"` // keyed by plugin id
}

// LoadLockfile reads a lockfile JSON document.
func LoadLockfile(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pluginrt: read lockfile %s: %w", path, err)
	}
	var lf Lockfile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("pluginrt: parse lockfile %s: %w", path, err)
	}
	return &lf, nil
}

// Allowlist is the closed set of plugin ids permitted to load at all,
// independent of version (§4.2 condition (a)).
type Allowlist struct {
	IDs map[string]bool
}

// LoadAllowlist reads an allowlist file holding a JSON array of plugin ids.
func LoadAllowlist(path string) (*Allowlist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pluginrt: read allowlist %s: %w", path, err)
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("pluginrt: parse allowlist %s: %w", path, err)
	}
	al := &Allowlist{IDs: make(map[string]bool, len(ids))}
	for _, id := range ids {
		al.IDs[id] = true
	}
	return al, nil
}

// HashBytes returns the hex SHA-256 digest of data, used to compute the
// code/manifest hashes checked against the lockfile.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Admit enforces §4.2's three admission conditions. A failure returns a
// perr.KindPluginLoadFailure error; the caller is expected to record it
// to the audit store and demote the plugin for the current run rather
// than aborting the whole DAG.
func Admit(m *Manifest, codeBytes, manifestBytes []byte, lf *Lockfile, al *Allowlist, needed []Capability) error {
	if !al.IDs[m.ID] {
		return perr.New(perr.KindPluginLoadFailure, "pluginrt.Admit", fmt.Sprintf("plugin %s not in allowlist", m.ID))
	}

	entry, ok := lf.Entries[m.ID]
	if !ok {
		return perr.New(perr.KindPluginLoadFailure, "pluginrt.Admit", fmt.Sprintf("plugin %s not in lockfile", m.ID))
	}
	if entry.Version != m.Version {
		return perr.New(perr.KindPluginLoadFailure, "pluginrt.Admit", fmt.Sprintf("plugin %s version %s does not match lockfile %s", m.ID, m.Version, entry.Version))
	}
	codeHash := HashBytes(codeBytes)
	if codeHash != entry.CodeSHA256 {
		return perr.New(perr.KindPluginLoadFailure, "pluginrt.Admit", fmt.Sprintf("plugin %s code hash mismatch", m.ID))
	}
	manifestHash := HashBytes(manifestBytes)
	if manifestHash != entry.ManifestSHA256 {
		return perr.New(perr.KindPluginLoadFailure, "pluginrt.Admit", fmt.Sprintf("plugin %s manifest hash mismatch", m.ID))
	}

	for _, cap := range needed {
		if !m.HasCapability(cap) {
			return perr.New(perr.KindPluginLoadFailure, "pluginrt.Admit", fmt.Sprintf("plugin %s missing required capability %s", m.ID, cap))
		}
	}
	return nil
}
