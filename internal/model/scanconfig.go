package model

// ScanConfig is the user-owned scan-configuration resource (spec §3): a
// named bundle of scanner preferences plus the VT selection a scan should
// run. A Task holds only a weak reference to one (Task.ConfigUUID),
// resolved fresh on each run rather than copied onto the task.
type ScanConfig struct {
	UUID               string
	Name               string
	ScannerPreferences map[string]string
	VTSelections       []VTSelection
}

// VTSelection is one VT a config selects, with its per-script preference
// overrides and timeout (spec §4.E: "VT preferences, including per-VT
// timeouts rendered as per-script preferences"). The discovery tag itself
// is not part of the selection; it is a property of the VT recorded in the
// NVT cache, looked up by OID.
type VTSelection struct {
	OID         string            `json:"oid"`
	TimeoutSecs int               `json:"timeout_secs,omitempty"`
	Preferences map[string]string `json:"preferences,omitempty"`
}

// NVTCacheEntry is one VT's metadata as last refreshed from the feed
// (spec glossary "NVT cache — the set of VT metadata known to the
// controller"; spec §4.J scheduler step "Refresh the VT cache").
type NVTCacheEntry struct {
	OID       string `db:"oid"`
	Family    string `db:"family"`
	Discovery bool   `db:"discovery"`
}
