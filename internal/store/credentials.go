package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ov-project/govmd/internal/model"
)

// Credentials wraps a DB with credential-record lookups. The Secret field
// is handed back as plaintext bytes per spec §3 (decryption is out of
// scope for this layer); callers must zeroise it via Credential.Zero once
// the scanner session holding it closes.
type Credentials struct {
	db DB
}

func NewCredentials(db DB) *Credentials { return &Credentials{db: db} }

type credentialRow struct {
	UUID      string `db:"uuid"`
	Kind      string `db:"kind"`
	Username  string `db:"username"`
	Secret    []byte `db:"secret"`
	ExtraJSON string `db:"extra_json"`
}

func (row credentialRow) toModel() (model.Credential, error) {
	c := model.Credential{
		UUID:     row.UUID,
		Kind:     model.CredentialKind(row.Kind),
		Username: row.Username,
		Secret:   row.Secret,
	}
	if row.ExtraJSON != "" {
		if err := json.Unmarshal([]byte(row.ExtraJSON), &c.Extra); err != nil {
			return c, fmt.Errorf("decoding extra_json for credential %s: %w", row.UUID, err)
		}
	}
	return c, nil
}

// FindCredential looks up a credential by UUID.
func (cr *Credentials) FindCredential(ctx context.Context, credUUID string) (*model.Credential, error) {
	var row credentialRow
	err := cr.db.Get(ctx, &row, `SELECT uuid, kind, username, secret, extra_json
		FROM credentials WHERE uuid = ?`, credUUID)
	if err != nil {
		return nil, fmt.Errorf("find credential %s: %w", credUUID, err)
	}
	c, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (cr *Credentials) CreateCredential(ctx context.Context, c *model.Credential) error {
	extra := c.Extra
	if extra == nil {
		extra = map[string]string{}
	}
	blob, err := json.Marshal(extra)
	if err != nil {
		return fmt.Errorf("encoding extra for credential %s: %w", c.UUID, err)
	}
	row := credentialRow{UUID: c.UUID, Kind: string(c.Kind), Username: c.Username, Secret: c.Secret, ExtraJSON: string(blob)}
	if _, err := cr.db.Insert(ctx, "credentials", row); err != nil {
		return fmt.Errorf("create credential %s: %w", c.UUID, err)
	}
	return nil
}
