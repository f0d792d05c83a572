package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"custodian/internal/transfer/models"
	id "custodian/pkg/domain"
	"custodian/pkg/platform/sentinel"
	"custodian/pkg/platform/tx"
)

// PostgresStore persists transfer offers and requests in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed transfer store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

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

const offerColumns = `id, property_id, offering_user_id, status, notes, expires_at, accepted_by_user_id, accepted_at, created_at, updated_at`
const requestColumns = `id, property_id, serial_number, requesting_user_id, owning_user_id, status, notes, resolved_at, created_at, updated_at`

// CreateOfferIfNoneActive inserts the offer. The partial unique index on
// (property_id) WHERE status = 'active' is the one-active-offer guard; a
// lapsed offer the sweep has not caught yet is expired in place first so it
// never blocks a new offer.
func (s *PostgresStore) CreateOfferIfNoneActive(ctx context.Context, offer *models.TransferOffer, now time.Time) error {
	q := s.q(ctx)

	_, err := q.ExecContext(ctx,
		`UPDATE transfer_offers
		 SET status = $2, updated_at = $3
		 WHERE property_id = $1 AND status = $4 AND expires_at IS NOT NULL AND expires_at <= $3`,
		offer.PropertyID.String(), string(models.OfferStatusExpired), now, string(models.OfferStatusActive),
	)
	if err != nil {
		return fmt.Errorf("expire lapsed offers: %w", err)
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO transfer_offers (`+offerColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		offer.ID.String(), offer.PropertyID.String(), offer.OfferingUserID.String(),
		string(offer.Status), offer.Notes, offer.ExpiresAt,
		nullUserID(offer.AcceptedByUserID), offer.AcceptedAt,
		offer.CreatedAt, offer.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create offer: %w", err)
	}

	for _, r := range offer.Recipients {
		_, err = q.ExecContext(ctx,
			`INSERT INTO transfer_offer_recipients (offer_id, recipient_user_id, notified_at, viewed_at)
			 VALUES ($1, $2, $3, $4)`,
			r.OfferID.String(), r.RecipientUserID.String(), r.NotifiedAt, r.ViewedAt,
		)
		if err != nil {
			return fmt.Errorf("create offer recipient: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) FindOfferByID(ctx context.Context, offerID id.OfferID) (*models.TransferOffer, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+offerColumns+` FROM transfer_offers WHERE id = $1`,
		offerID.String(),
	)
	offer, err := scanOffer(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadRecipients(ctx, offer); err != nil {
		return nil, err
	}
	return offer, nil
}

// FindOfferForUpdate locks the offer row for the remainder of the ambient
// transaction. Must run inside the transaction runner.
func (s *PostgresStore) FindOfferForUpdate(ctx context.Context, offerID id.OfferID) (*models.TransferOffer, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+offerColumns+` FROM transfer_offers WHERE id = $1 FOR UPDATE`,
		offerID.String(),
	)
	offer, err := scanOffer(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadRecipients(ctx, offer); err != nil {
		return nil, err
	}
	return offer, nil
}

// UpdateOffer persists offer state produced by a ForUpdate cycle.
func (s *PostgresStore) UpdateOffer(ctx context.Context, offer *models.TransferOffer) error {
	res, err := s.q(ctx).ExecContext(ctx,
		`UPDATE transfer_offers
		 SET status = $2, notes = $3, accepted_by_user_id = $4, accepted_at = $5, updated_at = $6
		 WHERE id = $1`,
		offer.ID.String(), string(offer.Status), offer.Notes,
		nullUserID(offer.AcceptedByUserID), offer.AcceptedAt, offer.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update offer: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update offer: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// ListActiveOffersForUser returns live offers where the user is a recipient.
// Expiry is applied in the query, not the stored status, so a lapsed offer
// disappears from view before the sweep marks it.
func (s *PostgresStore) ListActiveOffersForUser(ctx context.Context, userID id.UserID, now time.Time) ([]*models.TransferOffer, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT `+prefixedOfferColumns(`o`)+` FROM transfer_offers o
		 JOIN transfer_offer_recipients r ON r.offer_id = o.id
		 WHERE r.recipient_user_id = $1
		   AND o.status = $2
		   AND (o.expires_at IS NULL OR o.expires_at > $3)
		 ORDER BY o.created_at`,
		userID.String(), string(models.OfferStatusActive), now,
	)
	if err != nil {
		return nil, fmt.Errorf("list active offers: %w", err)
	}
	return s.collectOffers(ctx, rows)
}

func (s *PostgresStore) ListOffersByOwner(ctx context.Context, userID id.UserID) ([]*models.TransferOffer, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT `+offerColumns+` FROM transfer_offers
		 WHERE offering_user_id = $1
		 ORDER BY created_at`,
		userID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("list offers by owner: %w", err)
	}
	return s.collectOffers(ctx, rows)
}

// ExecuteOffer atomically validates and mutates an offer.
// The row is locked with FOR UPDATE for the duration of the transaction.
func (s *PostgresStore) ExecuteOffer(
	ctx context.Context,
	offerID id.OfferID,
	validate func(*models.TransferOffer) error,
	mutate func(*models.TransferOffer),
) (*models.TransferOffer, error) {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = dbTx.Rollback()
	}()

	txCtx := tx.WithTx(ctx, dbTx)
	offer, err := s.FindOfferForUpdate(txCtx, offerID)
	if err != nil {
		return nil, err
	}

	if err := validate(offer); err != nil {
		return nil, err
	}
	mutate(offer)

	if err := s.UpdateOffer(txCtx, offer); err != nil {
		return nil, err
	}
	if err := dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return offer, nil
}

// MarkOfferViewed records when a recipient first saw the offer.
func (s *PostgresStore) MarkOfferViewed(ctx context.Context, offerID id.OfferID, userID id.UserID, now time.Time) error {
	res, err := s.q(ctx).ExecContext(ctx,
		`UPDATE transfer_offer_recipients
		 SET viewed_at = COALESCE(viewed_at, $3)
		 WHERE offer_id = $1 AND recipient_user_id = $2`,
		offerID.String(), userID.String(), now,
	)
	if err != nil {
		return fmt.Errorf("mark offer viewed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark offer viewed: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// CancelActiveOffersForProperty cancels every live offer on the property.
// Runs inside the ambient transaction when custody moves through a pull
// request.
func (s *PostgresStore) CancelActiveOffersForProperty(ctx context.Context, propertyID id.PropertyID, now time.Time) (int, error) {
	res, err := s.q(ctx).ExecContext(ctx,
		`UPDATE transfer_offers
		 SET status = $2, updated_at = $3
		 WHERE property_id = $1 AND status = $4`,
		propertyID.String(), string(models.OfferStatusCancelled), now, string(models.OfferStatusActive),
	)
	if err != nil {
		return 0, fmt.Errorf("cancel offers for property: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cancel offers for property: %w", err)
	}
	return int(affected), nil
}

// ExpireDueOffers marks every live offer past its expiry as expired.
// Plain idempotent UPDATE; nothing here triggers further writes.
func (s *PostgresStore) ExpireDueOffers(ctx context.Context, now time.Time) (int, error) {
	res, err := s.q(ctx).ExecContext(ctx,
		`UPDATE transfer_offers
		 SET status = $1, updated_at = $2
		 WHERE status = $3 AND expires_at IS NOT NULL AND expires_at <= $2`,
		string(models.OfferStatusExpired), now, string(models.OfferStatusActive),
	)
	if err != nil {
		return 0, fmt.Errorf("expire offers: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire offers: %w", err)
	}
	return int(affected), nil
}

func (s *PostgresStore) CreateRequest(ctx context.Context, req *models.TransferRequest) error {
	_, err := s.q(ctx).ExecContext(ctx,
		`INSERT INTO transfer_requests (`+requestColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		req.ID.String(), req.PropertyID.String(), req.SerialNumber.String(),
		req.RequestingUserID.String(), req.OwningUserID.String(),
		string(req.Status), req.Notes, req.ResolvedAt, req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindRequestByID(ctx context.Context, requestID id.RequestID) (*models.TransferRequest, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM transfer_requests WHERE id = $1`,
		requestID.String(),
	)
	return scanRequest(row)
}

// FindRequestForUpdate locks the request row for the remainder of the ambient
// transaction. Must run inside the transaction runner.
func (s *PostgresStore) FindRequestForUpdate(ctx context.Context, requestID id.RequestID) (*models.TransferRequest, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM transfer_requests WHERE id = $1 FOR UPDATE`,
		requestID.String(),
	)
	return scanRequest(row)
}

// UpdateRequest persists request state produced by a ForUpdate cycle.
func (s *PostgresStore) UpdateRequest(ctx context.Context, req *models.TransferRequest) error {
	res, err := s.q(ctx).ExecContext(ctx,
		`UPDATE transfer_requests
		 SET status = $2, notes = $3, resolved_at = $4, updated_at = $5
		 WHERE id = $1`,
		req.ID.String(), string(req.Status), req.Notes, req.ResolvedAt, req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListRequestsForOwner(ctx context.Context, userID id.UserID) ([]*models.TransferRequest, error) {
	return s.listRequests(ctx, `owning_user_id`, userID)
}

func (s *PostgresStore) ListRequestsByRequester(ctx context.Context, userID id.UserID) ([]*models.TransferRequest, error) {
	return s.listRequests(ctx, `requesting_user_id`, userID)
}

func (s *PostgresStore) listRequests(ctx context.Context, column string, userID id.UserID) ([]*models.TransferRequest, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT `+requestColumns+` FROM transfer_requests
		 WHERE `+column+` = $1
		 ORDER BY created_at`,
		userID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var out []*models.TransferRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// CancelPendingRequestsForProperty cancels every pending pull request on the
// property. Runs inside the ambient transaction when an offer is accepted.
func (s *PostgresStore) CancelPendingRequestsForProperty(ctx context.Context, propertyID id.PropertyID, now time.Time) (int, error) {
	res, err := s.q(ctx).ExecContext(ctx,
		`UPDATE transfer_requests
		 SET status = $2, resolved_at = $3, updated_at = $3
		 WHERE property_id = $1 AND status = $4`,
		propertyID.String(), string(models.RequestStatusCancelled), now, string(models.RequestStatusPending),
	)
	if err != nil {
		return 0, fmt.Errorf("cancel requests for property: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cancel requests for property: %w", err)
	}
	return int(affected), nil
}

// ExecuteRequest atomically validates and mutates a request.
// The row is locked with FOR UPDATE for the duration of the transaction.
func (s *PostgresStore) ExecuteRequest(
	ctx context.Context,
	requestID id.RequestID,
	validate func(*models.TransferRequest) error,
	mutate func(*models.TransferRequest),
) (*models.TransferRequest, error) {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = dbTx.Rollback()
	}()

	txCtx := tx.WithTx(ctx, dbTx)
	req, err := s.FindRequestForUpdate(txCtx, requestID)
	if err != nil {
		return nil, err
	}

	if err := validate(req); err != nil {
		return nil, err
	}
	mutate(req)

	if err := s.UpdateRequest(txCtx, req); err != nil {
		return nil, err
	}
	if err := dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return req, nil
}

func (s *PostgresStore) collectOffers(ctx context.Context, rows *sql.Rows) ([]*models.TransferOffer, error) {
	defer rows.Close()

	var out []*models.TransferOffer
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, offer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, offer := range out {
		if err := s.loadRecipients(ctx, offer); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *PostgresStore) loadRecipients(ctx context.Context, offer *models.TransferOffer) error {
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT offer_id, recipient_user_id, notified_at, viewed_at
		 FROM transfer_offer_recipients
		 WHERE offer_id = $1`,
		offer.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("load recipients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r         models.OfferRecipient
			offerID   string
			recipient string
			notified  sql.NullTime
			viewed    sql.NullTime
		)
		if err := rows.Scan(&offerID, &recipient, &notified, &viewed); err != nil {
			return fmt.Errorf("scan recipient: %w", err)
		}
		if r.OfferID, err = id.ParseOfferID(offerID); err != nil {
			return err
		}
		if r.RecipientUserID, err = id.ParseUserID(recipient); err != nil {
			return err
		}
		if notified.Valid {
			t := notified.Time
			r.NotifiedAt = &t
		}
		if viewed.Valid {
			t := viewed.Time
			r.ViewedAt = &t
		}
		offer.Recipients = append(offer.Recipients, &r)
	}
	return rows.Err()
}

func prefixedOfferColumns(alias string) string {
	return alias + `.id, ` + alias + `.property_id, ` + alias + `.offering_user_id, ` +
		alias + `.status, ` + alias + `.notes, ` + alias + `.expires_at, ` +
		alias + `.accepted_by_user_id, ` + alias + `.accepted_at, ` +
		alias + `.created_at, ` + alias + `.updated_at`
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOffer(row rowScanner) (*models.TransferOffer, error) {
	var (
		offer      models.TransferOffer
		offerID    string
		propertyID string
		offering   string
		status     string
		expires    sql.NullTime
		acceptedBy sql.NullString
		acceptedAt sql.NullTime
	)
	err := row.Scan(&offerID, &propertyID, &offering, &status, &offer.Notes,
		&expires, &acceptedBy, &acceptedAt, &offer.CreatedAt, &offer.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan offer: %w", err)
	}

	if offer.ID, err = id.ParseOfferID(offerID); err != nil {
		return nil, err
	}
	if offer.PropertyID, err = id.ParsePropertyID(propertyID); err != nil {
		return nil, err
	}
	if offer.OfferingUserID, err = id.ParseUserID(offering); err != nil {
		return nil, err
	}
	offer.Status = models.OfferStatus(status)
	if expires.Valid {
		t := expires.Time
		offer.ExpiresAt = &t
	}
	if acceptedBy.Valid {
		u, err := id.ParseUserID(acceptedBy.String)
		if err != nil {
			return nil, err
		}
		offer.AcceptedByUserID = &u
	}
	if acceptedAt.Valid {
		t := acceptedAt.Time
		offer.AcceptedAt = &t
	}
	return &offer, nil
}

func scanRequest(row rowScanner) (*models.TransferRequest, error) {
	var (
		req        models.TransferRequest
		requestID  string
		propertyID string
		serial     string
		requester  string
		owner      string
		status     string
		resolved   sql.NullTime
	)
	err := row.Scan(&requestID, &propertyID, &serial, &requester, &owner,
		&status, &req.Notes, &resolved, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan request: %w", err)
	}

	if req.ID, err = id.ParseRequestID(requestID); err != nil {
		return nil, err
	}
	if req.PropertyID, err = id.ParsePropertyID(propertyID); err != nil {
		return nil, err
	}
	req.SerialNumber = id.SerialNumber(serial)
	if req.RequestingUserID, err = id.ParseUserID(requester); err != nil {
		return nil, err
	}
	if req.OwningUserID, err = id.ParseUserID(owner); err != nil {
		return nil, err
	}
	req.Status = models.RequestStatus(status)
	if resolved.Valid {
		t := resolved.Time
		req.ResolvedAt = &t
	}
	return &req, nil
}

func nullUserID(userID *id.UserID) any {
	if userID == nil {
		return nil
	}
	return userID.String()
}
