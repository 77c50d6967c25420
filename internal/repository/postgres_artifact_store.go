package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"StockSense/internal/domain/models"
	domrepo "StockSense/internal/domain/repository"
	applogger "StockSense/pkg/logger"
)

// PgQuerier is the subset of a pgx pool used by the store.
type PgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// PostgresArtifactStore keeps every scaler and model version as a row. A put
// inserts the next version in one statement, and reads take the highest
// version, so a retrain never changes a row a reader may be using.
type PostgresArtifactStore struct {
	db PgQuerier
	l  *applogger.Logger
}

func NewPostgresArtifactStore(db PgQuerier) *PostgresArtifactStore {
	return &PostgresArtifactStore{db: db}
}

// SetLogger injects a structured logger.
func (s *PostgresArtifactStore) SetLogger(l *applogger.Logger) { s.l = l }

const (
	insertVersionSQL = `INSERT INTO %s (ticker, version, payload)
        SELECT $1, COALESCE(MAX(version), 0) + 1, $2 FROM %s WHERE ticker = $1
        RETURNING version`
	latestVersionSQL = `SELECT version, payload FROM %s WHERE ticker = $1 ORDER BY version DESC LIMIT 1`
	exactVersionSQL  = `SELECT version, payload FROM %s WHERE ticker = $1 AND version = $2`
)

func (s *PostgresArtifactStore) insert(ctx context.Context, table, ticker string, value interface{}) (int64, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("marshal %s: %w", table, err)
	}
	var v int64
	q := fmt.Sprintf(insertVersionSQL, table, table)
	if err := s.db.QueryRow(ctx, q, ticker, payload).Scan(&v); err != nil {
		if s.l != nil {
			s.l.Error("postgres artifact insert error",
				applogger.String("table", table),
				applogger.String("ticker", ticker),
				applogger.Error(err),
			)
		}
		return 0, fmt.Errorf("insert %s %s: %w", table, ticker, err)
	}
	if s.l != nil {
		s.l.Info("artifact published",
			applogger.String("table", table),
			applogger.String("ticker", ticker),
			applogger.Int64("version", v),
		)
	}
	return v, nil
}

func (s *PostgresArtifactStore) latest(ctx context.Context, table, ticker string, dest interface{}) (int64, error) {
	return s.read(ctx, table, ticker, dest, fmt.Sprintf(latestVersionSQL, table), ticker)
}

func (s *PostgresArtifactStore) read(ctx context.Context, table, ticker string, dest interface{}, q string, args ...interface{}) (int64, error) {
	var (
		v       int64
		payload []byte
	)
	err := s.db.QueryRow(ctx, q, args...).Scan(&v, &payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domrepo.ErrNotFound
		}
		return 0, fmt.Errorf("read %s %s: %w", table, ticker, err)
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return 0, fmt.Errorf("decode %s %s: %w", table, ticker, err)
	}
	return v, nil
}

func (s *PostgresArtifactStore) GetScaler(ctx context.Context, ticker string) (*models.ScalerState, error) {
	var st models.ScalerState
	if _, err := s.latest(ctx, "scalers", ticker, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *PostgresArtifactStore) GetScalerVersion(ctx context.Context, ticker string, version int64) (*models.ScalerState, error) {
	var st models.ScalerState
	if _, err := s.read(ctx, "scalers", ticker, &st, fmt.Sprintf(exactVersionSQL, "scalers"), ticker, version); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *PostgresArtifactStore) PutScaler(ctx context.Context, ticker string, st *models.ScalerState) (int64, error) {
	return s.insert(ctx, "scalers", ticker, st)
}

func (s *PostgresArtifactStore) GetModel(ctx context.Context, ticker string) (*models.TrainedModel, error) {
	var m models.TrainedModel
	v, err := s.latest(ctx, "models", ticker, &m)
	if err != nil {
		return nil, err
	}
	m.Version = v
	return &m, nil
}

func (s *PostgresArtifactStore) PutModel(ctx context.Context, ticker string, m *models.TrainedModel) error {
	_, err := s.insert(ctx, "models", ticker, m)
	return err
}

func (s *PostgresArtifactStore) ListModels(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT DISTINCT ticker FROM models ORDER BY ticker`)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan ticker: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Prune deletes all but the newest keep versions of every ticker.
func (s *PostgresArtifactStore) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}
	var total int64
	for _, table := range []string{"scalers", "models"} {
		q := fmt.Sprintf(`DELETE FROM %s t WHERE version <= (SELECT MAX(version) FROM %s WHERE ticker = t.ticker) - $1`, table, table)
		tag, err := s.db.Exec(ctx, q, keep)
		if err != nil {
			return total, fmt.Errorf("prune %s: %w", table, err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

var _ domrepo.ArtifactStore = (*PostgresArtifactStore)(nil)
