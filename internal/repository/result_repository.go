package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/barrysci/stationtest-backend/internal/model"
)

// ResultRepository journals graded final submissions in PostgreSQL. The
// grading endpoint remains the system of record; the journal exists for
// operator queries and survives upstream spreadsheet resets.
type ResultRepository struct {
	db *pgxpool.Pool
}

func NewResultRepository(db *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{db: db}
}

// Insert stores one final result row.
func (r *ResultRepository) Insert(ctx context.Context, res *model.FinalResult) error {
	query := `
		INSERT INTO final_results (identity, test_name, name, email, stations, score, oob_seconds, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Exec(ctx, query,
		res.Identity, res.TestName, res.Name, res.Email,
		res.Stations, res.Score, res.OOBSeconds, res.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("insert final result: %w", err)
	}
	return nil
}

// BulkInsert stores a batch of final results via COPY. Falls back to
// row-by-row inserts when COPY fails, so one bad row cannot discard the
// whole drained batch.
func (r *ResultRepository) BulkInsert(ctx context.Context, results []*model.FinalResult) error {
	if len(results) == 0 {
		return nil
	}

	rows := make([][]interface{}, 0, len(results))
	for _, res := range results {
		rows = append(rows, []interface{}{
			res.Identity, res.TestName, res.Name, res.Email,
			res.Stations, res.Score, res.OOBSeconds, res.SubmittedAt,
		})
	}

	_, err := r.db.CopyFrom(
		ctx,
		pgx.Identifier{"final_results"},
		[]string{"identity", "test_name", "name", "email", "stations", "score", "oob_seconds", "submitted_at"},
		pgx.CopyFromRows(rows),
	)
	if err == nil {
		return nil
	}

	var firstErr error
	for _, res := range results {
		if insErr := r.Insert(ctx, res); insErr != nil && firstErr == nil {
			firstErr = insErr
		}
	}
	if firstErr != nil {
		return fmt.Errorf("bulk insert fallback: %w", firstErr)
	}
	return nil
}

// ListByTest returns the journaled results for one test, newest first.
func (r *ResultRepository) ListByTest(ctx context.Context, testName string, limit int) ([]*model.FinalResult, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, identity, test_name, name, email, stations, score, oob_seconds, submitted_at
		FROM final_results
		WHERE test_name = $1
		ORDER BY submitted_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, testName, limit)
	if err != nil {
		return nil, fmt.Errorf("list final results: %w", err)
	}
	defer rows.Close()

	var results []*model.FinalResult
	for rows.Next() {
		var res model.FinalResult
		if err := rows.Scan(
			&res.ID, &res.Identity, &res.TestName, &res.Name, &res.Email,
			&res.Stations, &res.Score, &res.OOBSeconds, &res.SubmittedAt,
		); err != nil {
			return nil, fmt.Errorf("scan final result: %w", err)
		}
		results = append(results, &res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate final results: %w", err)
	}
	return results, nil
}
