package ledger

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/rithikrice/bondMatchPlus/models"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

// PostgresStore persists the ledger in PostgreSQL. Every multi-row write runs
// in one transaction and every call is bounded by timeout.
type PostgresStore struct {
	db      *pgxpool.Pool
	timeout time.Duration
}

func NewPostgresStore(db *pgxpool.Pool, timeout time.Duration) *PostgresStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PostgresStore{db: db, timeout: timeout}
}

// Migrate applies the embedded schema. It is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

const auctionColumns = `id, instrument_id, status, notional, min_size, tick_size, fair_price, tolerance,
	min_live_ms, announced_at, registration_close_at, starts_at, ends_at, live_at, allocated_at,
	created_by, created_at`

const quoteColumns = `id, auction_id, participant_id, side, quantity, price, seq, status, filled,
	outside_band, submitted_at, updated_at`

func (s *PostgresStore) CreateAuction(ctx context.Context, a models.Auction, ev models.LedgerEvent) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO auctions (`+auctionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		`, auctionArgs(a)...)
		if err != nil {
			return mapWriteErr(err, ErrDuplicate)
		}
		return insertEvent(ctx, tx, ev)
	})
}

func (s *PostgresStore) UpdateAuction(ctx context.Context, a models.Auction, ev models.LedgerEvent) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := updateAuction(ctx, tx, a); err != nil {
			return err
		}
		return insertEvent(ctx, tx, ev)
	})
}

func (s *PostgresStore) AppendQuote(ctx context.Context, q models.QuoteRequest, ev models.LedgerEvent) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := insertQuote(ctx, tx, q); err != nil {
			return err
		}
		return insertEvent(ctx, tx, ev)
	})
}

func (s *PostgresStore) UpdateQuote(ctx context.Context, q models.QuoteRequest, ev models.LedgerEvent) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := updateQuote(ctx, tx, q); err != nil {
			return err
		}
		return insertEvent(ctx, tx, ev)
	})
}

func (s *PostgresStore) ReplaceQuote(ctx context.Context, cancelled, admitted models.QuoteRequest, evs []models.LedgerEvent) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := updateQuote(ctx, tx, cancelled); err != nil {
			return err
		}
		if err := insertQuote(ctx, tx, admitted); err != nil {
			return err
		}
		for _, ev := range evs {
			if err := insertEvent(ctx, tx, ev); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) CommitClose(ctx context.Context, b CloseBatch) error {
	fills, err := json.Marshal(b.Result.Fills)
	if err != nil {
		return fmt.Errorf("failed to marshal fills: %w", err)
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO clearing_results (auction_id, price, matched_quantity, fills, computed_at)
			VALUES ($1, $2, $3, $4, $5)
		`, b.Result.AuctionID, decString(b.Result.Price), b.Result.MatchedQuantity, fills, b.Result.ComputedAt)
		if err != nil {
			return mapWriteErr(err, ErrImmutable)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO audit_records (auction_id, digest, algorithm, leaf_count, sealed_at)
			VALUES ($1, $2, $3, $4, $5)
		`, b.Audit.AuctionID, b.Audit.Digest, b.Audit.Algorithm, b.Audit.LeafCount, b.Audit.SealedAt)
		if err != nil {
			return mapWriteErr(err, ErrImmutable)
		}
		for _, q := range b.Quotes {
			if err := updateQuote(ctx, tx, q); err != nil {
				return err
			}
		}
		if err := updateAuction(ctx, tx, b.Auction); err != nil {
			return err
		}
		for _, ev := range b.Events {
			if err := insertEvent(ctx, tx, ev); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) SealAudit(ctx context.Context, rec models.AuditRecord, ev models.LedgerEvent) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO audit_records (auction_id, digest, algorithm, leaf_count, sealed_at)
			VALUES ($1, $2, $3, $4, $5)
		`, rec.AuctionID, rec.Digest, rec.Algorithm, rec.LeafCount, rec.SealedAt)
		if err != nil {
			return mapWriteErr(err, ErrImmutable)
		}
		return insertEvent(ctx, tx, ev)
	})
}

func (s *PostgresStore) AppendEvent(ctx context.Context, ev models.LedgerEvent) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return insertEvent(ctx, tx, ev)
	})
}

func (s *PostgresStore) GetAuction(ctx context.Context, id string) (models.Auction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	row := s.db.QueryRow(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id)
	a, err := scanAuction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Auction{}, fmt.Errorf("auction %s: %w", id, ErrNotFound)
	}
	return a, err
}

func (s *PostgresStore) ListAuctions(ctx context.Context, f AuctionFilter) ([]models.Auction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE 1=1`
	args := []interface{}{}
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.InstrumentID != "" {
		args = append(args, f.InstrumentID)
		query += fmt.Sprintf(" AND instrument_id = $%d", len(args))
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query auctions: %w", err)
	}
	defer rows.Close()

	var out []models.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetQuote(ctx context.Context, id string) (models.QuoteRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	row := s.db.QueryRow(ctx, `SELECT `+quoteColumns+` FROM quote_requests WHERE id = $1`, id)
	q, err := scanQuote(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.QuoteRequest{}, fmt.Errorf("quote %s: %w", id, ErrNotFound)
	}
	return q, err
}

func (s *PostgresStore) ListQuotes(ctx context.Context, auctionID string) ([]models.QuoteRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.exists(ctx, auctionID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `SELECT `+quoteColumns+` FROM quote_requests WHERE auction_id = $1 ORDER BY seq ASC`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query quotes: %w", err)
	}
	defer rows.Close()

	out := []models.QuoteRequest{}
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListEvents(ctx context.Context, auctionID string) ([]models.LedgerEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.exists(ctx, auctionID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `
		SELECT auction_id, seq, kind, actor, ref_id, detail, at
		FROM ledger_events WHERE auction_id = $1 ORDER BY seq ASC
	`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	out := []models.LedgerEvent{}
	for rows.Next() {
		var ev models.LedgerEvent
		var seq int64
		var kind string
		var detail []byte
		if err := rows.Scan(&ev.AuctionID, &seq, &kind, &ev.Actor, &ev.RefID, &detail, &ev.At); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Seq = uint64(seq)
		ev.Kind = models.EventKind(kind)
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &ev.Detail); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event %d detail: %w", seq, err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetClearing(ctx context.Context, auctionID string) (models.ClearingResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var r models.ClearingResult
	var price *string
	var fills []byte
	err := s.db.QueryRow(ctx, `
		SELECT auction_id, price, matched_quantity, fills, computed_at
		FROM clearing_results WHERE auction_id = $1
	`, auctionID).Scan(&r.AuctionID, &price, &r.MatchedQuantity, &fills, &r.ComputedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return r, fmt.Errorf("clearing for %s: %w", auctionID, ErrNotFound)
	}
	if err != nil {
		return r, fmt.Errorf("failed to load clearing: %w", err)
	}
	if r.Price, err = parseDec(price); err != nil {
		return r, err
	}
	if err := json.Unmarshal(fills, &r.Fills); err != nil {
		return r, fmt.Errorf("failed to unmarshal fills: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) GetAudit(ctx context.Context, auctionID string) (models.AuditRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rec models.AuditRecord
	err := s.db.QueryRow(ctx, `
		SELECT auction_id, digest, algorithm, leaf_count, sealed_at
		FROM audit_records WHERE auction_id = $1
	`, auctionID).Scan(&rec.AuctionID, &rec.Digest, &rec.Algorithm, &rec.LeafCount, &rec.SealedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, fmt.Errorf("audit for %s: %w", auctionID, ErrNotFound)
	}
	if err != nil {
		return rec, fmt.Errorf("failed to load audit: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) exists(ctx context.Context, auctionID string) error {
	var one int
	err := s.db.QueryRow(ctx, `SELECT 1 FROM auctions WHERE id = $1`, auctionID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("auction %s: %w", auctionID, ErrNotFound)
	}
	return err
}

func insertQuote(ctx context.Context, tx pgx.Tx, q models.QuoteRequest) error {
	tag, err := tx.Exec(ctx, `
		INSERT INTO quote_requests (`+quoteColumns+`)
		SELECT $1::TEXT, $2::TEXT, $3::TEXT, $4::TEXT, $5::BIGINT, $6::TEXT, $7::BIGINT, $8::TEXT,
			$9::BIGINT, $10::BOOLEAN, $11::TIMESTAMPTZ, $12::TIMESTAMPTZ
		WHERE (SELECT COALESCE(MAX(seq), 0) FROM quote_requests WHERE auction_id = $2) = $7::BIGINT - 1
	`, q.ID, q.AuctionID, q.ParticipantID, string(q.Side), q.Quantity, decString(q.Price), int64(q.Seq),
		string(q.Status), q.Filled, q.OutsideBand, q.SubmittedAt, q.UpdatedAt)
	if err != nil {
		return mapWriteErr(err, ErrDuplicate)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("quote seq %d: %w", q.Seq, ErrSequenceConflict)
	}
	return nil
}

func updateQuote(ctx context.Context, tx pgx.Tx, q models.QuoteRequest) error {
	tag, err := tx.Exec(ctx, `
		UPDATE quote_requests SET status = $1, filled = $2, updated_at = $3
		WHERE id = $4 AND auction_id = $5 AND seq = $6
	`, string(q.Status), q.Filled, q.UpdatedAt, q.ID, q.AuctionID, int64(q.Seq))
	if err != nil {
		return fmt.Errorf("failed to update quote %s: %w", q.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("quote %s: %w", q.ID, ErrNotFound)
	}
	return nil
}

func updateAuction(ctx context.Context, tx pgx.Tx, a models.Auction) error {
	tag, err := tx.Exec(ctx, `
		UPDATE auctions SET status = $1, live_at = $2, allocated_at = $3
		WHERE id = $4
	`, string(a.Status), a.Timeline.LiveAt, a.Timeline.AllocatedAt, a.ID)
	if err != nil {
		return fmt.Errorf("failed to update auction %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("auction %s: %w", a.ID, ErrNotFound)
	}
	return nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, ev models.LedgerEvent) error {
	var detail []byte
	if ev.Detail != nil {
		var err error
		if detail, err = json.Marshal(ev.Detail); err != nil {
			return fmt.Errorf("failed to marshal event detail: %w", err)
		}
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO ledger_events (auction_id, seq, kind, actor, ref_id, detail, at)
		SELECT $1::TEXT, $2::BIGINT, $3::TEXT, $4::TEXT, $5::TEXT, $6::JSONB, $7::TIMESTAMPTZ
		WHERE (SELECT COALESCE(MAX(seq), 0) FROM ledger_events WHERE auction_id = $1) = $2::BIGINT - 1
	`, ev.AuctionID, int64(ev.Seq), string(ev.Kind), ev.Actor, ev.RefID, detail, ev.At)
	if err != nil {
		return mapWriteErr(err, ErrSequenceConflict)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event seq %d: %w", ev.Seq, ErrSequenceConflict)
	}
	return nil
}

func auctionArgs(a models.Auction) []interface{} {
	return []interface{}{
		a.ID, a.InstrumentID, string(a.Status), a.Notional, a.MinSize,
		decString(a.TickSize), decString(a.FairPrice), a.Tolerance.String(), a.MinLiveDuration.Milliseconds(),
		a.Timeline.AnnouncedAt, a.Timeline.RegistrationCloseAt, a.Timeline.StartsAt, a.Timeline.EndsAt,
		a.Timeline.LiveAt, a.Timeline.AllocatedAt, a.CreatedBy, a.CreatedAt,
	}
}

func scanAuction(row pgx.Row) (models.Auction, error) {
	var a models.Auction
	var status, tolerance string
	var tick, fair *string
	var minLiveMs int64
	err := row.Scan(&a.ID, &a.InstrumentID, &status, &a.Notional, &a.MinSize, &tick, &fair, &tolerance,
		&minLiveMs, &a.Timeline.AnnouncedAt, &a.Timeline.RegistrationCloseAt, &a.Timeline.StartsAt,
		&a.Timeline.EndsAt, &a.Timeline.LiveAt, &a.Timeline.AllocatedAt, &a.CreatedBy, &a.CreatedAt)
	if err != nil {
		return a, err
	}
	a.Status = models.AuctionStatus(status)
	a.MinLiveDuration = time.Duration(minLiveMs) * time.Millisecond
	if a.TickSize, err = parseDec(tick); err != nil {
		return a, err
	}
	if a.FairPrice, err = parseDec(fair); err != nil {
		return a, err
	}
	if a.Tolerance, err = decimal.NewFromString(tolerance); err != nil {
		return a, fmt.Errorf("bad tolerance %q: %w", tolerance, err)
	}
	return a, nil
}

func scanQuote(row pgx.Row) (models.QuoteRequest, error) {
	var q models.QuoteRequest
	var side, status string
	var price *string
	var seq int64
	err := row.Scan(&q.ID, &q.AuctionID, &q.ParticipantID, &side, &q.Quantity, &price, &seq, &status,
		&q.Filled, &q.OutsideBand, &q.SubmittedAt, &q.UpdatedAt)
	if err != nil {
		return q, err
	}
	q.Side = models.Side(side)
	q.Status = models.QuoteStatus(status)
	q.Seq = uint64(seq)
	q.Price, err = parseDec(price)
	return q, err
}

func decString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func parseDec(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, fmt.Errorf("bad decimal %q: %w", *s, err)
	}
	return &d, nil
}

func mapWriteErr(err error, onUnique error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, onUnique)
	}
	return fmt.Errorf("write failed: %w", err)
}
