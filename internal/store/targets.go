package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ov-project/govmd/internal/model"
)

// Targets wraps a DB with target-record lookups (spec §3 Target entity).
// CredentialRefs has no natural flat column, so the row shape keeps it as
// a JSON blob and the conversion happens at this package's boundary only.
type Targets struct {
	db DB
}

func NewTargets(db DB) *Targets { return &Targets{db: db} }

type targetRow struct {
	UUID               string `db:"uuid"`
	HostsSpec          string `db:"hosts_spec"`
	ExcludeHostsSpec   string `db:"exclude_hosts_spec"`
	PortListUUID       string `db:"port_list_uuid"`
	AliveTests         int    `db:"alive_tests"`
	ReverseLookupOnly  bool   `db:"reverse_lookup_only"`
	ReverseLookupUnify bool   `db:"reverse_lookup_unify"`
	CredentialRefsJSON string `db:"credential_refs_json"`
}

func (row targetRow) toModel() (model.Target, error) {
	t := model.Target{
		UUID:               row.UUID,
		HostsSpec:          row.HostsSpec,
		ExcludeHostsSpec:   row.ExcludeHostsSpec,
		PortListUUID:       row.PortListUUID,
		AliveTests:         model.AliveTest(row.AliveTests),
		ReverseLookupOnly:  row.ReverseLookupOnly,
		ReverseLookupUnify: row.ReverseLookupUnify,
	}
	if row.CredentialRefsJSON != "" {
		if err := json.Unmarshal([]byte(row.CredentialRefsJSON), &t.CredentialRefs); err != nil {
			return t, fmt.Errorf("decoding credential_refs_json for target %s: %w", row.UUID, err)
		}
	}
	return t, nil
}

func rowFromTarget(t *model.Target) (targetRow, error) {
	refs := t.CredentialRefs
	if refs == nil {
		refs = map[string]string{}
	}
	blob, err := json.Marshal(refs)
	if err != nil {
		return targetRow{}, fmt.Errorf("encoding credential_refs for target %s: %w", t.UUID, err)
	}
	return targetRow{
		UUID:               t.UUID,
		HostsSpec:          t.HostsSpec,
		ExcludeHostsSpec:   t.ExcludeHostsSpec,
		PortListUUID:       t.PortListUUID,
		AliveTests:         int(t.AliveTests),
		ReverseLookupOnly:  t.ReverseLookupOnly,
		ReverseLookupUnify: t.ReverseLookupUnify,
		CredentialRefsJSON: string(blob),
	}, nil
}

// FindTarget looks up a target by UUID. Spec §3 treats a target as
// immutable for the lifetime of a running scan, so dispatch reads it once
// and caches the result itself rather than re-querying mid-run.
func (tg *Targets) FindTarget(ctx context.Context, targetUUID string) (*model.Target, error) {
	var row targetRow
	err := tg.db.Get(ctx, &row, `SELECT uuid, hosts_spec, exclude_hosts_spec, port_list_uuid,
		alive_tests, reverse_lookup_only, reverse_lookup_unify, credential_refs_json
		FROM targets WHERE uuid = ?`, targetUUID)
	if err != nil {
		return nil, fmt.Errorf("find target %s: %w", targetUUID, err)
	}
	t, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (tg *Targets) CreateTarget(ctx context.Context, t *model.Target) error {
	row, err := rowFromTarget(t)
	if err != nil {
		return err
	}
	if _, err := tg.db.Insert(ctx, "targets", row); err != nil {
		return fmt.Errorf("create target %s: %w", t.UUID, err)
	}
	return nil
}
