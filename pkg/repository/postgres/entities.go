package postgres

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"

	"github.com/leadwatch/core/pkg/models"
	"github.com/leadwatch/core/pkg/repository"
)

const entityColumns = `id, tenant_id, natural_key, org_number, name, revenue, profit, employees,
	legal_status, credit_remarks, address, ceo, latest_news, list_id, analyzed_at, created_at`

func (s *Store) Get(ctx context.Context, id string) (*models.Entity, error) {
	e, err := scanEntity(s.db.QueryRow(ctx, `SELECT `+entityColumns+` FROM leads WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(repository.ErrNotFound, "lead %s", id)
	}
	return e, err
}

func (s *Store) ExistsByNaturalKey(ctx context.Context, tenantID, key string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM leads WHERE tenant_id = $1 AND natural_key = $2)`,
		tenantID, key,
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrapf(err, "check lead %s", key)
	}
	return exists, nil
}

// CreatePending inserts the candidate; a concurrent insert of the same key
// wins and the existing id is returned
func (s *Store) CreatePending(ctx context.Context, tenantID, key string, candidate models.Candidate) (string, error) {
	var id string
	err := s.db.QueryRow(ctx,
		`INSERT INTO leads (tenant_id, natural_key, org_number, name)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tenant_id, natural_key) DO UPDATE SET natural_key = EXCLUDED.natural_key
		 RETURNING id`,
		tenantID, key, candidate.OrgNumber, candidate.Name,
	).Scan(&id)
	if err != nil {
		return "", errors.Wrapf(err, "insert lead %s", key)
	}
	return id, nil
}

func (s *Store) ListForAnalysis(ctx context.Context, tenantID string, staleBefore time.Time, limit int) ([]models.Entity, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+entityColumns+`
		 FROM leads
		 WHERE tenant_id = $1 AND (analyzed_at IS NULL OR analyzed_at < $2)
		 ORDER BY analyzed_at ASC NULLS FIRST, created_at ASC
		 LIMIT $3`,
		tenantID, staleBefore, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query leads for analysis")
	}
	defer rows.Close()

	var out []models.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, errors.Wrap(rows.Err(), "iterate leads for analysis")
}

func (s *Store) AssignToList(ctx context.Context, entityID, listID string) error {
	tag, err := s.db.Exec(ctx, `UPDATE leads SET list_id = $2 WHERE id = $1`, entityID, listID)
	if err != nil {
		return errors.Wrapf(err, "assign lead %s to list %s", entityID, listID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(repository.ErrNotFound, "lead %s", entityID)
	}
	return nil
}

func scanEntity(row pgx.Row) (*models.Entity, error) {
	var (
		e      models.Entity
		listID *string
	)
	err := row.Scan(&e.ID, &e.TenantID, &e.NaturalKey, &e.OrgNumber, &e.Name, &e.Revenue, &e.Profit,
		&e.Employees, &e.LegalStatus, &e.CreditRemarks, &e.Address, &e.CEO, &e.LatestNews,
		&listID, &e.AnalyzedAt, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "scan lead")
	}
	if listID != nil {
		e.ListID = *listID
	}
	return &e, nil
}
