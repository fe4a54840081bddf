// Package sqlite implements store.RecordStore on a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Fender1992/cachegpt-sub001/pkg/store"
	"github.com/Fender1992/cachegpt-sub001/pkg/types"
)

var schema = []string{`
CREATE TABLE IF NOT EXISTS cached_responses (
	id TEXT PRIMARY KEY,
	query TEXT NOT NULL,
	response TEXT NOT NULL,
	model TEXT NOT NULL,
	provider TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	embedding BLOB NOT NULL,
	access_count INTEGER NOT NULL DEFAULT 1,
	popularity_score REAL NOT NULL DEFAULT 0,
	tier TEXT NOT NULL,
	cost_saved REAL NOT NULL DEFAULT 0,
	response_time_ms INTEGER NOT NULL DEFAULT 0,
	tokens_used INTEGER NOT NULL DEFAULT 0,
	response_cost REAL NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	last_accessed INTEGER NOT NULL,
	last_score_update INTEGER NOT NULL DEFAULT 0,
	is_archived INTEGER NOT NULL DEFAULT 0
)`,
	`CREATE INDEX IF NOT EXISTS idx_cached_responses_tier_score
	ON cached_responses (is_archived, tier, popularity_score DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_cached_responses_model
	ON cached_responses (model, provider)`,
	`CREATE TABLE IF NOT EXISTS usage_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL DEFAULT '',
	cache_hit INTEGER NOT NULL,
	tokens_used INTEGER NOT NULL DEFAULT 0,
	cost REAL NOT NULL DEFAULT 0,
	model TEXT NOT NULL,
	provider TEXT NOT NULL,
	response_time_ms INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_logs_user
	ON usage_logs (user_id, created_at)`,
}

const columns = `id, query, response, model, provider, user_id, embedding, access_count,
	popularity_score, tier, cost_saved, response_time_ms, tokens_used, response_cost,
	created_at, last_accessed, last_score_update, is_archived`

// Store is a RecordStore backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ store.RecordStore = (*Store)(nil)

// New opens (creating if needed) the database at path and migrates the
// schema.
func New(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	// SQLite has a single writer; a :memory: database is also private to
	// its connection.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate store db: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// Query implements store.RecordStore.
func (s *Store) Query(ctx context.Context, q store.Query) ([]types.CacheEntry, error) {
	where, args := buildWhere(q.Filter)

	var sb strings.Builder
	sb.WriteString("SELECT " + columns + " FROM cached_responses")
	if where != "" {
		sb.WriteString(" WHERE " + where)
	}
	switch q.Order {
	case store.OrderAccessCountDesc:
		sb.WriteString(" ORDER BY access_count DESC, created_at ASC, id ASC")
	case store.OrderCreatedAsc:
		sb.WriteString(" ORDER BY created_at ASC, id ASC")
	default:
		sb.WriteString(" ORDER BY popularity_score DESC, created_at ASC, id ASC")
	}
	if q.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	out := make([]types.CacheEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	return out, nil
}

// Insert implements store.RecordStore.
func (s *Store) Insert(ctx context.Context, e *types.CacheEntry) (string, error) {
	id := e.ID
	if id == "" {
		id = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cached_responses (`+columns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, e.Query, e.Response, e.Model, e.Provider, e.UserID,
		encodeVector(e.Embedding), e.AccessCount, e.PopularityScore, e.Tier.String(),
		e.CostSaved, e.ResponseTimeMs, e.TokensUsed, e.ResponseCost,
		toUnix(e.CreatedAt), toUnix(e.LastAccessed), toUnix(e.LastScoreUpdate), boolToInt(e.IsArchived),
	)
	if err != nil {
		return "", fmt.Errorf("insert entry: %w", err)
	}
	return id, nil
}

// Update implements store.RecordStore.
func (s *Store) Update(ctx context.Context, id string, u store.Update) error {
	var sets []string
	var args []any

	if u.PopularityScore != nil {
		sets = append(sets, "popularity_score = ?")
		args = append(args, *u.PopularityScore)
	}
	if u.Tier != nil {
		sets = append(sets, "tier = ?")
		args = append(args, u.Tier.String())
	}
	if u.LastScoreUpdate != nil {
		sets = append(sets, "last_score_update = ?")
		args = append(args, toUnix(*u.LastScoreUpdate))
	}
	if u.Archive {
		sets = append(sets, "is_archived = 1")
	}
	if len(sets) == 0 {
		_, err := s.Get(ctx, id)
		return err
	}

	query := "UPDATE cached_responses SET " + strings.Join(sets, ", ") + " WHERE id = ? AND is_archived = 0"
	args = append(args, id)
	if u.IfAccessCount != nil {
		query += " AND access_count = ?"
		args = append(args, *u.IfAccessCount)
	}
	if u.IfTier != nil {
		query += " AND tier = ?"
		args = append(args, u.IfTier.String())
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	if n == 0 {
		return s.missReason(ctx, id, store.ErrConflict)
	}
	return nil
}

// IncrementAccess implements store.RecordStore with a single
// UPDATE ... RETURNING statement.
func (s *Store) IncrementAccess(ctx context.Context, id string, at time.Time, costDelta float64) (*types.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE cached_responses
		 SET access_count = access_count + 1, cost_saved = cost_saved + ?, last_accessed = ?
		 WHERE id = ? AND is_archived = 0
		 RETURNING `+columns,
		costDelta, toUnix(at), id,
	)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.missReason(ctx, id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("increment access: %w", err)
	}
	return e, nil
}

// Get implements store.RecordStore.
func (s *Store) Get(ctx context.Context, id string) (*types.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM cached_responses WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return e, nil
}

// Count returns the number of rows, archived included.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cached_responses`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// missReason explains why a conditional write touched no row.
func (s *Store) missReason(ctx context.Context, id string, fallback error) error {
	var archived int
	err := s.db.QueryRowContext(ctx, `SELECT is_archived FROM cached_responses WHERE id = ?`, id).Scan(&archived)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return store.ErrNotFound
	case err != nil:
		return fmt.Errorf("lookup entry: %w", err)
	case archived != 0:
		return store.ErrArchived
	default:
		return fallback
	}
}

func buildWhere(f store.Filter) (string, []any) {
	var conds []string
	var args []any

	if !f.IncludeArchived {
		conds = append(conds, "is_archived = 0")
	}
	if f.Tier != nil {
		conds = append(conds, "tier = ?")
		args = append(args, f.Tier.String())
	}
	var target []string
	if f.Model != "" {
		target = append(target, "model = ?")
		args = append(args, f.Model)
	}
	if f.Provider != "" {
		target = append(target, "provider = ?")
		args = append(args, f.Provider)
	}
	if len(target) > 0 {
		cond := strings.Join(target, " AND ")
		if f.Pooled() {
			cond = "((" + cond + ") OR (model = ? AND provider = ?))"
			args = append(args, f.PoolModel, f.PoolProvider)
		}
		conds = append(conds, cond)
	}
	if f.UserScoped() {
		conds = append(conds, "(user_id = '' OR user_id = ?)")
		args = append(args, f.UserID)
	}
	if f.MinAccessCount > 0 {
		conds = append(conds, "access_count >= ?")
		args = append(args, f.MinAccessCount)
	}
	if !f.LastAccessedBefore.IsZero() {
		conds = append(conds, "last_accessed < ?")
		args = append(args, toUnix(f.LastAccessedBefore))
	}
	return strings.Join(conds, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (*types.CacheEntry, error) {
	var (
		e                                  types.CacheEntry
		blob                               []byte
		tier                               string
		created, accessed, scored, archive int64
	)
	err := sc.Scan(&e.ID, &e.Query, &e.Response, &e.Model, &e.Provider, &e.UserID,
		&blob, &e.AccessCount, &e.PopularityScore, &tier, &e.CostSaved, &e.ResponseTimeMs,
		&e.TokensUsed, &e.ResponseCost, &created, &accessed, &scored, &archive)
	if err != nil {
		return nil, err
	}

	t, err := types.ParseTier(tier)
	if err != nil {
		return nil, fmt.Errorf("entry %s: %w", e.ID, err)
	}
	e.Tier = t
	e.Embedding = decodeVector(blob)
	e.CreatedAt = fromUnix(created)
	e.LastAccessed = fromUnix(accessed)
	e.LastScoreUpdate = fromUnix(scored)
	e.IsArchived = archive != 0
	return &e, nil
}

// encodeVector packs v as little-endian float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
