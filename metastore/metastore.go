// Package metastore provides the durable card metadata store backed by
// SQLite. It is the single source of truth for which cards exist.
package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cardexio/cardex/hashindex"
	"github.com/cardexio/cardex/model"
)

// ErrNotFound is returned when a card_id does not exist.
var ErrNotFound = errors.New("metastore: card not found")

// ErrUnavailable wraps a failure of the durable medium. It is propagated to
// the caller, never silently retried.
type ErrUnavailable struct {
	Op    string
	cause error
}

func (e *ErrUnavailable) Error() string {
	return fmt.Sprintf("metastore: storage unavailable during %s: %v", e.Op, e.cause)
}

func (e *ErrUnavailable) Unwrap() error { return e.cause }

// ErrInvalidCategory is returned when a card carries a category outside the
// fixed registry.
type ErrInvalidCategory struct {
	Category string
}

func (e *ErrInvalidCategory) Error() string {
	return fmt.Sprintf("invalid category %q", e.Category)
}

const schema = `
CREATE TABLE IF NOT EXISTS cards (
	card_id           TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	set_name          TEXT NOT NULL DEFAULT '',
	category          TEXT NOT NULL,
	external_price_id TEXT NOT NULL DEFAULT '',
	perceptual_hash   TEXT NOT NULL DEFAULT '',
	image_ref         TEXT NOT NULL DEFAULT '',
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cards_category ON cards(category);
CREATE INDEX IF NOT EXISTS idx_cards_hash     ON cards(perceptual_hash);
CREATE INDEX IF NOT EXISTS idx_cards_price_id ON cards(external_price_id);
`

// Store is a SQLite-backed card metadata store. Safe for concurrent use;
// SQLite's WAL journal mode gives concurrent readers while a write is in
// flight, and a put is atomic with respect to readers.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &ErrUnavailable{Op: "open", cause: err}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &ErrUnavailable{Op: "init schema", cause: err}
	}

	return &Store{db: db}, nil
}

// Put inserts or overwrites the record for card.ID (upsert). CreatedAt is
// preserved on upsert; UpdatedAt is refreshed. The category must be in the
// fixed registry and a non-empty hash must be well formed.
func (s *Store) Put(ctx context.Context, card model.Card) error {
	if !model.ValidCategory(card.Category) {
		return &ErrInvalidCategory{Category: card.Category}
	}
	if card.PerceptualHash != "" {
		if _, err := hashindex.ParseHash(card.PerceptualHash); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	createdAt := card.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cards (card_id, name, set_name, category, external_price_id, perceptual_hash, image_ref, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(card_id) DO UPDATE SET
			name              = excluded.name,
			set_name          = excluded.set_name,
			category          = excluded.category,
			external_price_id = excluded.external_price_id,
			perceptual_hash   = excluded.perceptual_hash,
			image_ref         = excluded.image_ref,
			updated_at        = excluded.updated_at`,
		card.ID, card.Name, card.SetName, card.Category, card.ExternalPriceID,
		card.PerceptualHash, card.ImageRef, createdAt.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return &ErrUnavailable{Op: "put", cause: err}
	}

	return nil
}

const cardColumns = `card_id, name, set_name, category, external_price_id, perceptual_hash, image_ref, created_at, updated_at`

func scanCard(row interface{ Scan(...any) error }) (model.Card, error) {
	var card model.Card
	var createdAt, updatedAt int64

	err := row.Scan(&card.ID, &card.Name, &card.SetName, &card.Category,
		&card.ExternalPriceID, &card.PerceptualHash, &card.ImageRef, &createdAt, &updatedAt)
	if err != nil {
		return model.Card{}, err
	}

	card.CreatedAt = time.UnixMilli(createdAt).UTC()
	card.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	return card, nil
}

// Get returns the card for id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (model.Card, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE card_id = ?`, id)

	card, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Card{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return model.Card{}, &ErrUnavailable{Op: "get", cause: err}
	}

	return card, nil
}

// ListByCategory returns up to limit cards in the given category, in
// insertion order.
func (s *Store) ListByCategory(ctx context.Context, category string, limit int) ([]model.Card, error) {
	if !model.ValidCategory(category) {
		return nil, &ErrInvalidCategory{Category: category}
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+cardColumns+` FROM cards WHERE category = ? ORDER BY rowid LIMIT ?`, category, limit)
	if err != nil {
		return nil, &ErrUnavailable{Op: "list by category", cause: err}
	}
	defer rows.Close()

	return collectCards(rows, "list by category")
}

// SearchByName returns up to limit cards whose name contains q
// (case-insensitive), newest first. A non-empty category restricts the
// result; the predicate runs inside the query so the limit applies after
// filtering.
func (s *Store) SearchByName(ctx context.Context, q, category string, limit int) ([]model.Card, error) {
	if category != "" && !model.ValidCategory(category) {
		return nil, &ErrInvalidCategory{Category: category}
	}
	if limit <= 0 {
		limit = 10
	}

	pattern := "%" + escapeLike(q) + "%"
	query := `SELECT ` + cardColumns + ` FROM cards WHERE name LIKE ? ESCAPE '\'`
	args := []any{pattern}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY updated_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &ErrUnavailable{Op: "search by name", cause: err}
	}
	defer rows.Close()

	return collectCards(rows, "search by name")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func collectCards(rows *sql.Rows, op string) ([]model.Card, error) {
	var cards []model.Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, &ErrUnavailable{Op: op, cause: err}
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, &ErrUnavailable{Op: op, cause: err}
	}
	return cards, nil
}

// ScanHashes streams (card_id, parsed hash) for every row with a non-empty
// hash, in insertion order, without materializing full records. An error
// from fn aborts the scan.
func (s *Store) ScanHashes(ctx context.Context, fn func(cardID string, hash uint64) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT card_id, perceptual_hash FROM cards WHERE perceptual_hash != '' ORDER BY rowid`)
	if err != nil {
		return &ErrUnavailable{Op: "scan hashes", cause: err}
	}
	defer rows.Close()

	for rows.Next() {
		var id, hashStr string
		if err := rows.Scan(&id, &hashStr); err != nil {
			return &ErrUnavailable{Op: "scan hashes", cause: err}
		}
		hash, err := hashindex.ParseHash(hashStr)
		if err != nil {
			// Puts validate hashes, so a malformed stored value means the
			// table was modified out of band.
			return fmt.Errorf("metastore: corrupt hash for card %s: %w", id, err)
		}
		if err := fn(id, hash); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return &ErrUnavailable{Op: "scan hashes", cause: err}
	}
	return nil
}

// ScanCategories streams (card_id, category) for all rows in insertion
// order. Used to rebuild the category posting lists at startup.
func (s *Store) ScanCategories(ctx context.Context, fn func(cardID, category string) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT card_id, category FROM cards ORDER BY rowid`)
	if err != nil {
		return &ErrUnavailable{Op: "scan categories", cause: err}
	}
	defer rows.Close()

	for rows.Next() {
		var id, category string
		if err := rows.Scan(&id, &category); err != nil {
			return &ErrUnavailable{Op: "scan categories", cause: err}
		}
		if err := fn(id, category); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return &ErrUnavailable{Op: "scan categories", cause: err}
	}
	return nil
}

// Count returns the total number of cards.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards`).Scan(&count); err != nil {
		return 0, &ErrUnavailable{Op: "count", cause: err}
	}
	return count, nil
}

// CountByCategory returns card counts grouped by category.
func (s *Store) CountByCategory(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT category, COUNT(*) FROM cards GROUP BY category`)
	if err != nil {
		return nil, &ErrUnavailable{Op: "count by category", cause: err}
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var category string
		var count int64
		if err := rows.Scan(&category, &count); err != nil {
			return nil, &ErrUnavailable{Op: "count by category", cause: err}
		}
		counts[category] = count
	}

	if err := rows.Err(); err != nil {
		return nil, &ErrUnavailable{Op: "count by category", cause: err}
	}
	return counts, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
