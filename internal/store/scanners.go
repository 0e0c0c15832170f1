package store

import (
	"context"
	"fmt"

	"github.com/ov-project/govmd/internal/model"
)

// Scanners wraps a DB with scanner-record lookups (spec §3 Scanner entity).
type Scanners struct {
	db DB
}

func NewScanners(db DB) *Scanners { return &Scanners{db: db} }

func (s *Scanners) FindScanner(ctx context.Context, scannerUUID string) (*model.Scanner, error) {
	var sc model.Scanner
	err := s.db.Get(ctx, &sc, `SELECT uuid, name, kind, host, port, unix_socket,
		ca_cert, client_cert, client_key FROM scanners WHERE uuid = ?`, scannerUUID)
	if err != nil {
		return nil, fmt.Errorf("find scanner %s: %w", scannerUUID, err)
	}
	return &sc, nil
}

func (s *Scanners) CreateScanner(ctx context.Context, sc *model.Scanner) error {
	if _, err := s.db.Insert(ctx, "scanners", sc); err != nil {
		return fmt.Errorf("create scanner: %w", err)
	}
	return nil
}

func (s *Scanners) ListScanners(ctx context.Context) ([]model.Scanner, error) {
	var scanners []model.Scanner
	err := s.db.Select(ctx, &scanners, `SELECT uuid, name, kind, host, port, unix_socket,
		ca_cert, client_cert, client_key FROM scanners`)
	if err != nil {
		return nil, fmt.Errorf("list scanners: %w", err)
	}
	return scanners, nil
}
