package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"custodian/internal/connection/models"
	id "custodian/pkg/domain"
	"custodian/pkg/platform/sentinel"
)

// PostgresStore persists connection edges in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed connection store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const connectionColumns = `id, user_id, connected_user_id, status, created_at, updated_at`

func (s *PostgresStore) CreateIfAbsent(ctx context.Context, conn *models.Connection) error {
	// The reverse edge is checked first; the unique constraint only covers the
	// ordered pair.
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM user_connections
			WHERE (user_id = $1 AND connected_user_id = $2)
			   OR (user_id = $2 AND connected_user_id = $1)
		)`,
		conn.UserID.String(), conn.ConnectedUserID.String(),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check existing connection: %w", err)
	}
	if exists {
		return sentinel.ErrConflict
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_connections (`+connectionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		conn.ID.String(), conn.UserID.String(), conn.ConnectedUserID.String(),
		string(conn.Status), conn.CreatedAt, conn.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create connection: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, connectionID id.ConnectionID) (*models.Connection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM user_connections WHERE id = $1`,
		connectionID.String(),
	)
	return scanConnection(row)
}

func (s *PostgresStore) FindBetween(ctx context.Context, a, b id.UserID) (*models.Connection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM user_connections
		 WHERE (user_id = $1 AND connected_user_id = $2)
		    OR (user_id = $2 AND connected_user_id = $1)`,
		a.String(), b.String(),
	)
	return scanConnection(row)
}

func (s *PostgresStore) ListForUser(ctx context.Context, userID id.UserID) ([]*models.Connection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+connectionColumns+` FROM user_connections
		 WHERE user_id = $1 OR connected_user_id = $1
		 ORDER BY created_at`,
		userID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var out []*models.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conn)
	}
	return out, rows.Err()
}

// AreConnected reports whether an accepted edge exists between the pair.
// Symmetric: both directions are checked in one query.
func (s *PostgresStore) AreConnected(ctx context.Context, a, b id.UserID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM user_connections
			WHERE status = $3
			  AND ((user_id = $1 AND connected_user_id = $2)
			    OR (user_id = $2 AND connected_user_id = $1))
		)`,
		a.String(), b.String(), string(models.ConnectionStatusAccepted),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check connection: %w", err)
	}
	return exists, nil
}

// Execute atomically validates and mutates a connection.
// The row is locked with FOR UPDATE for the duration of the transaction.
func (s *PostgresStore) Execute(
	ctx context.Context,
	connectionID id.ConnectionID,
	validate func(*models.Connection) error,
	mutate func(*models.Connection),
) (*models.Connection, error) {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = dbTx.Rollback()
	}()

	row := dbTx.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM user_connections WHERE id = $1 FOR UPDATE`,
		connectionID.String(),
	)
	conn, err := scanConnection(row)
	if err != nil {
		return nil, err
	}

	if err := validate(conn); err != nil {
		return nil, err
	}
	mutate(conn)

	_, err = dbTx.ExecContext(ctx,
		`UPDATE user_connections SET status = $2, updated_at = $3 WHERE id = $1`,
		conn.ID.String(), string(conn.Status), conn.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update connection: %w", err)
	}

	if err := dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return conn, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (*models.Connection, error) {
	var (
		conn      models.Connection
		connID    string
		userID    string
		connected string
		status    string
	)
	err := row.Scan(&connID, &userID, &connected, &status, &conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan connection: %w", err)
	}

	if conn.ID, err = id.ParseConnectionID(connID); err != nil {
		return nil, err
	}
	if conn.UserID, err = id.ParseUserID(userID); err != nil {
		return nil, err
	}
	if conn.ConnectedUserID, err = id.ParseUserID(connected); err != nil {
		return nil, err
	}
	conn.Status = models.ConnectionStatus(status)
	return &conn, nil
}
