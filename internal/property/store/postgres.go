package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"custodian/internal/property/models"
	id "custodian/pkg/domain"
	"custodian/pkg/platform/sentinel"
	"custodian/pkg/platform/tx"
)

// PostgresStore persists properties in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed property store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// querier lets store methods run against the pool or an ambient transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) q(ctx context.Context) querier {
	if dbTx, ok := tx.From(ctx); ok {
		return dbTx
	}
	return s.db
}

const propertyColumns = `id, serial_number, name, description, current_status, condition, assigned_to_user_id, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, p *models.Property) error {
	_, err := s.q(ctx).ExecContext(ctx,
		`INSERT INTO properties (`+propertyColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID.String(), p.SerialNumber.String(), p.Name, p.Description,
		string(p.CurrentStatus), string(p.Condition), nullUserID(p.AssignedToUserID),
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create property: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, propertyID id.PropertyID) (*models.Property, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+propertyColumns+` FROM properties WHERE id = $1`,
		propertyID.String(),
	)
	return scanProperty(row)
}

func (s *PostgresStore) FindBySerial(ctx context.Context, serial id.SerialNumber) (*models.Property, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+propertyColumns+` FROM properties WHERE serial_number = $1`,
		serial.String(),
	)
	return scanProperty(row)
}

func (s *PostgresStore) ListForUser(ctx context.Context, userID id.UserID) ([]*models.Property, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT `+propertyColumns+` FROM properties
		 WHERE assigned_to_user_id = $1
		 ORDER BY created_at`,
		userID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}
	defer rows.Close()

	var out []*models.Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, p *models.Property) error {
	res, err := s.q(ctx).ExecContext(ctx,
		`UPDATE properties
		 SET name = $2, description = $3, current_status = $4, condition = $5, updated_at = $6
		 WHERE id = $1`,
		p.ID.String(), p.Name, p.Description, string(p.CurrentStatus), string(p.Condition), p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update property: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update property: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// ReassignFrom moves custody with a conditional update keyed on the expected
// current custodian. The affected-row check is the single-custodian guard:
// when the row no longer matches, another transfer won and the caller gets
// ErrConflict.
func (s *PostgresStore) ReassignFrom(ctx context.Context, propertyID id.PropertyID, expectedOwner, newOwner id.UserID, now time.Time) error {
	res, err := s.q(ctx).ExecContext(ctx,
		`UPDATE properties
		 SET assigned_to_user_id = $3, updated_at = $4
		 WHERE id = $1 AND assigned_to_user_id = $2`,
		propertyID.String(), expectedOwner.String(), newOwner.String(), now,
	)
	if err != nil {
		return fmt.Errorf("reassign property: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reassign property: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := s.q(ctx).QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM properties WHERE id = $1)`,
			propertyID.String(),
		).Scan(&exists); err != nil {
			return fmt.Errorf("reassign property: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProperty(row rowScanner) (*models.Property, error) {
	var (
		p        models.Property
		propID   string
		serial   string
		status   string
		cond     string
		assigned sql.NullString
	)
	err := row.Scan(&propID, &serial, &p.Name, &p.Description, &status, &cond, &assigned, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan property: %w", err)
	}

	if p.ID, err = id.ParsePropertyID(propID); err != nil {
		return nil, err
	}
	p.SerialNumber = id.SerialNumber(serial)
	p.CurrentStatus = models.PropertyStatus(status)
	p.Condition = models.Condition(cond)
	if assigned.Valid {
		owner, err := id.ParseUserID(assigned.String)
		if err != nil {
			return nil, err
		}
		p.AssignedToUserID = &owner
	}
	return &p, nil
}

func nullUserID(userID *id.UserID) any {
	if userID == nil {
		return nil
	}
	return userID.String()
}
