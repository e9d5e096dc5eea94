package pgstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	_ "github.com/lib/pq"

	"github.com/park285/cheese-pvp-server/internal/domain"
	"github.com/park285/cheese-pvp-server/internal/store"
)

//go:embed schema.sql
var schemaSQL string

const defaultRating = 1200

const gameColumns = `game_id, white_id, white_name, black_id, black_name, status, position, current_turn,
    move_log, start_time, end_time, winner_id, loser_id, is_draw, reason, settled, version, created_at, updated_at`

// Store persists sessions and ratings in Postgres. Mutations lock the game row
// with SELECT ... FOR UPDATE and commit in one transaction.
type Store struct {
	db            *sql.DB
	defaultRating int
	now           func() time.Time
}

type Option func(*Store)

func WithDefaultRating(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.defaultRating = n
		}
	}
}

var _ store.Store = (*Store)(nil)

// Open connects to DATABASE_URL with the pool settings used across the service.
func Open(ctx context.Context, databaseURL string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(db, opts...), nil
}

func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, defaultRating: defaultRating, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Migrate creates the tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) LoadGame(ctx context.Context, gameID string) (*domain.GameSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM pvp_games WHERE game_id = $1`, gameID)
	g, err := scanGame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrGameNotFound, gameID)
	}
	return g, err
}

func (s *Store) CreateGame(ctx context.Context, gameID, whiteID, whiteName string) (*domain.GameSession, error) {
	if strings.TrimSpace(gameID) == "" || strings.TrimSpace(whiteID) == "" {
		return nil, fmt.Errorf("create game: empty id")
	}
	g := domain.NewGameSession(gameID, whiteID, whiteName, s.now())
	res, err := s.db.ExecContext(ctx, `INSERT INTO pvp_games (
        game_id, white_id, white_name, status, position, current_turn, move_log, version, created_at, updated_at
      ) VALUES ($1,$2,$3,$4,$5,$6,'[]'::jsonb,$7,$8,$9)
      ON CONFLICT (game_id) DO NOTHING`,
		g.ID, g.WhiteID, g.WhiteName, string(g.Status), g.Position, string(g.CurrentTurn), g.Version, g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, store.ErrGameExists
	}
	return g, nil
}

func (s *Store) UpdateGame(ctx context.Context, gameID string, expectVersion int64, patch store.Patch) (*domain.GameSession, error) {
	var out *domain.GameSession
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := lockGame(ctx, tx, gameID)
		if err != nil {
			return err
		}
		if err := store.CheckVersion(cur, expectVersion); err != nil {
			return err
		}
		if err := store.ApplyPatch(cur, patch, s.now()); err != nil {
			return err
		}
		if err := writeGame(ctx, tx, cur, ""); err != nil {
			return err
		}
		out = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Settle(ctx context.Context, gameID string, expectVersion int64, patch store.Patch, deltas []store.RatingDelta) (*domain.GameSession, error) {
	var out *domain.GameSession
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := lockGame(ctx, tx, gameID)
		if err != nil {
			return err
		}
		if cur.Settled {
			out = cur
			return store.ErrAlreadySettled
		}
		if err := store.CheckVersion(cur, expectVersion); err != nil {
			return err
		}
		if err := store.ApplyPatch(cur, patch, s.now()); err != nil {
			return err
		}
		if cur.Status != domain.StatusFinished {
			return fmt.Errorf("%w: settle requires finished, got %s", store.ErrInvalidTransition, cur.Status)
		}
		cur.Settled = true
		if err := writeGame(ctx, tx, cur, BuildPGN(cur)); err != nil {
			return err
		}
		for _, d := range deltas {
			if err := addRating(ctx, tx, d.UserID, d.Delta); err != nil {
				return err
			}
		}
		out = cur
		return nil
	})
	if errors.Is(err, store.ErrAlreadySettled) {
		return out, err
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpdateUserRating(ctx context.Context, userID string, delta int) error {
	return s.withTx(ctx, func(tx *sql.Tx) error { return addRating(ctx, tx, userID, delta) })
}

func (s *Store) EnsureUser(ctx context.Context, userID, username string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("ensure user: empty id")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO pvp_players (user_id, username, rating) VALUES ($1, $2, $3)
      ON CONFLICT (user_id) DO UPDATE SET
        username = CASE WHEN EXCLUDED.username <> '' THEN EXCLUDED.username ELSE pvp_players.username END,
        updated_at = now()`,
		userID, strings.TrimSpace(username), s.defaultRating,
	)
	return err
}

func (s *Store) Rating(ctx context.Context, userID string) (int, error) {
	var r int
	err := s.db.QueryRowContext(ctx, `SELECT rating FROM pvp_players WHERE user_id = $1`, userID).Scan(&r)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", store.ErrUserNotFound, userID)
	}
	return r, err
}

func (s *Store) ListGamesByUser(ctx context.Context, userID string, limit int) ([]*domain.GameSession, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+gameColumns+` FROM pvp_games
      WHERE white_id = $1 OR black_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.GameSession
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func lockGame(ctx context.Context, tx *sql.Tx, gameID string) (*domain.GameSession, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM pvp_games WHERE game_id = $1 FOR UPDATE`, gameID)
	g, err := scanGame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrGameNotFound, gameID)
	}
	return g, err
}

func writeGame(ctx context.Context, tx *sql.Tx, g *domain.GameSession, pgn string) error {
	moves, err := json.Marshal(g.MoveLog)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE pvp_games SET
        white_id=$2, white_name=$3, black_id=$4, black_name=$5, status=$6, position=$7, current_turn=$8,
        move_log=$9::jsonb, start_time=$10, end_time=$11, winner_id=$12, loser_id=$13, is_draw=$14,
        reason=$15, settled=$16, version=$17, updated_at=$18,
        pgn = CASE WHEN $19::text <> '' THEN $19::text ELSE pgn END
      WHERE game_id=$1`,
		g.ID,
		nullString(g.WhiteID), g.WhiteName, nullString(g.BlackID), g.BlackName,
		string(g.Status), g.Position, string(g.CurrentTurn), string(moves),
		nullTime(g.StartTime), nullTime(g.EndTime),
		nullString(g.WinnerID), nullString(g.LoserID), g.IsDraw,
		g.Reason, g.Settled, g.Version, g.UpdatedAt, pgn,
	)
	return err
}

func addRating(ctx context.Context, tx *sql.Tx, userID string, delta int) error {
	res, err := tx.ExecContext(ctx, `UPDATE pvp_players SET rating = rating + $2, updated_at = now() WHERE user_id = $1`, userID, delta)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", store.ErrUserNotFound, userID)
	}
	return nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanGame(row rowScanner) (*domain.GameSession, error) {
	var (
		g                                   domain.GameSession
		whiteID, blackID, winnerID, loserID sql.NullString
		status, turn                        string
		moveLog                             []byte
		start, end                          sql.NullTime
	)
	err := row.Scan(&g.ID, &whiteID, &g.WhiteName, &blackID, &g.BlackName, &status, &g.Position, &turn,
		&moveLog, &start, &end, &winnerID, &loserID, &g.IsDraw, &g.Reason, &g.Settled, &g.Version, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	g.WhiteID, g.BlackID = whiteID.String, blackID.String
	g.WinnerID, g.LoserID = winnerID.String, loserID.String
	g.Status, g.CurrentTurn = domain.Status(status), domain.Color(turn)
	if start.Valid {
		t := start.Time
		g.StartTime = &t
	}
	if end.Valid {
		t := end.Time
		g.EndTime = &t
	}
	g.MoveLog = []domain.Move{}
	if len(moveLog) > 0 {
		if err := json.Unmarshal(moveLog, &g.MoveLog); err != nil {
			return nil, fmt.Errorf("decode move_log: %w", err)
		}
	}
	return &g, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: strings.TrimSpace(s) != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
