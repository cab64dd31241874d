package scheduler

import (
	"encoding/json"
	"os"
	"time"
)

// ActivitySignal is the periodic foreground-activity sample read from
// DATA_ROOT/activity/activity_signal.json (§4.4, §6).
type ActivitySignal struct {
	Active        bool   `json:"active"`
	LastInputMs   int64  `json:"last_input_ms"`
	ForegroundApp string `json:"foreground_app"`
}

// staleAfter is the freshness window beyond which a signal is treated
// as missing (§4.4: "stale (> 5 s)").
const staleAfter = 5 * time.Second

// ReadActivitySignal reads and freshness-checks the activity signal at
// path. Any read/parse error or staleness defaults to active=true —
// fail closed, so a broken signal never silently triggers processing
// (§4.4: "Default when signal is missing or stale is active = true").
func ReadActivitySignal(path string, now time.Time) ActivitySignal {
	info, err := os.Stat(path)
	if err != nil {
		return ActivitySignal{Active: true}
	}
	age := now.Sub(info.ModTime())
	if age < 0 || age > staleAfter {
		return ActivitySignal{Active: true}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ActivitySignal{Active: true}
	}
	var sig ActivitySignal
	if err := json.Unmarshal(data, &sig); err != nil {
		return ActivitySignal{Active: true}
	}
	return sig
}
