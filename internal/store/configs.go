package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ov-project/govmd/internal/model"
)

// Configs wraps a DB with scan-configuration lookups (spec §3 Config
// entity). ScannerPreferences and VTSelections have no natural flat
// column, so the row shape keeps them as JSON blobs and the conversion
// happens at this package's boundary only, the same way Targets handles
// CredentialRefs.
type Configs struct {
	db DB
}

func NewConfigs(db DB) *Configs { return &Configs{db: db} }

type scanConfigRow struct {
	UUID                   string `db:"uuid"`
	Name                   string `db:"name"`
	ScannerPreferencesJSON string `db:"scanner_preferences_json"`
	VTSelectionsJSON       string `db:"vt_selections_json"`
}

func (row scanConfigRow) toModel() (model.ScanConfig, error) {
	cfg := model.ScanConfig{UUID: row.UUID, Name: row.Name}
	if row.ScannerPreferencesJSON != "" {
		if err := json.Unmarshal([]byte(row.ScannerPreferencesJSON), &cfg.ScannerPreferences); err != nil {
			return cfg, fmt.Errorf("decoding scanner_preferences_json for config %s: %w", row.UUID, err)
		}
	}
	if row.VTSelectionsJSON != "" {
		if err := json.Unmarshal([]byte(row.VTSelectionsJSON), &cfg.VTSelections); err != nil {
			return cfg, fmt.Errorf("decoding vt_selections_json for config %s: %w", row.UUID, err)
		}
	}
	return cfg, nil
}

func rowFromConfig(cfg *model.ScanConfig) (scanConfigRow, error) {
	prefs := cfg.ScannerPreferences
	if prefs == nil {
		prefs = map[string]string{}
	}
	prefsBlob, err := json.Marshal(prefs)
	if err != nil {
		return scanConfigRow{}, fmt.Errorf("encoding scanner_preferences for config %s: %w", cfg.UUID, err)
	}
	selections := cfg.VTSelections
	if selections == nil {
		selections = []model.VTSelection{}
	}
	selectionsBlob, err := json.Marshal(selections)
	if err != nil {
		return scanConfigRow{}, fmt.Errorf("encoding vt_selections for config %s: %w", cfg.UUID, err)
	}
	return scanConfigRow{
		UUID:                   cfg.UUID,
		Name:                   cfg.Name,
		ScannerPreferencesJSON: string(prefsBlob),
		VTSelectionsJSON:       string(selectionsBlob),
	}, nil
}

// FindConfig looks up a scan configuration by UUID.
func (c *Configs) FindConfig(ctx context.Context, configUUID string) (*model.ScanConfig, error) {
	var row scanConfigRow
	err := c.db.Get(ctx, &row, `SELECT uuid, name, scanner_preferences_json, vt_selections_json
		FROM scan_configs WHERE uuid = ?`, configUUID)
	if err != nil {
		return nil, fmt.Errorf("find config %s: %w", configUUID, err)
	}
	cfg, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Configs) CreateConfig(ctx context.Context, cfg *model.ScanConfig) error {
	row, err := rowFromConfig(cfg)
	if err != nil {
		return err
	}
	if _, err := c.db.Insert(ctx, "scan_configs", row); err != nil {
		return fmt.Errorf("create config %s: %w", cfg.UUID, err)
	}
	return nil
}
