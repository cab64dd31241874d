// Package pluginrt implements the Plugin Runtime (§4.2, component B):
// manifest loading, allowlist + lockfile enforcement, capability-based
// composition, deterministic invocation, and in-process / sandboxed
// subprocess / WASM hosting.
package pluginrt

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
)

// Capability is the closed enumeration a plugin declares itself to
// implement (§9: "orchestrator composes by capability name, not by type
// inheritance").
type Capability string

const (
	CapPreprocess       Capability = "preprocess"
	CapOCR              Capability = "ocr"
	CapUIParse          Capability = "ui_parse"
	CapLayout           Capability = "layout"
	CapTable            Capability = "table"
	CapSpreadsheet      Capability = "spreadsheet"
	CapCode             Capability = "code"
	CapChart            Capability = "chart"
	CapCursor           Capability = "cursor"
	CapStateBuild       Capability = "state_build"
	CapMatchIDs         Capability = "match_ids"
	CapTemporalSegment  Capability = "temporal_segment"
	CapDelta            Capability = "delta"
	CapAction           Capability = "action"
	CapIndex            Capability = "index"
	CapEvidenceCompile  Capability = "evidence_compile"
	CapAnomaly          Capability = "anomaly"
	CapWorkflowMine     Capability = "workflow_mine"
)

// HostingMode selects how a plugin is executed.
type HostingMode string

const (
	HostInProcess HostingMode = "in_process"
	HostSubprocess HostingMode = "subprocess"
	HostWASM      HostingMode = "wasm"
)

// Manifest describes one installable plugin (§4.2).
type Manifest struct {
	ID             string       `json:"id"`
	Version        string       `json:"version"`
	Capabilities   []Capability `json:"capabilities"`
	Permissions    []string     `json:"permissions"`
	Entrypoint     string       `json:"entrypoint"`
	LockfileHash   string       `json:"lockfile_hash"`
	Requires       []string     `json:"requires"`
	Provides       []string     `json:"provides"`
	ArgsSchema     json.RawMessage `json:"args_schema,omitempty"`
	OutputSchema   json.RawMessage `json:"output_schema,omitempty"`
	ConfigSchema   json.RawMessage `json:"config_schema,omitempty"`
	ModelBacked    bool         `json:"model_backed"`
	Hosting        HostingMode  `json:"hosting"`
}

// ParsedVersion parses the manifest's semantic version. LoadManifest
// uses it to reject a manifest whose version is not valid semver; no
// version range or compatibility check is made against it.
func (m *Manifest) ParsedVersion() (*semver.Version, error) {
	v, err := semver.NewVersion(m.Version)
	if err != nil {
		return nil, fmt.Errorf("pluginrt: manifest %s has invalid version %q: %w", m.ID, m.Version, err)
	}
	return v, nil
}

// HasCapability reports whether the manifest declares cap.
func (m *Manifest) HasCapability(cap Capability) bool {
	for _, c := range m.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// LoadManifest reads and parses a plugin manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pluginrt: read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("pluginrt: parse manifest %s: %w", path, err)
	}
	if _, err := m.ParsedVersion(); err != nil {
		return nil, err
	}
	return &m, nil
}
