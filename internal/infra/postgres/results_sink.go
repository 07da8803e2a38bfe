package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/domain"
)

// ResultsSink stores final session outcomes: one session_results row and one
// participant_results row per ranked participant, written in one transaction.
// Recording the same session twice keeps the first write.
type ResultsSink struct {
	pool *pgxpool.Pool
}

func NewResultsSink(pool *pgxpool.Pool) *ResultsSink {
	return &ResultsSink{pool: pool}
}

func (s *ResultsSink) RecordResults(ctx context.Context, results domain.SessionResults) error {
	rankings, err := json.Marshal(results.Rankings)
	if err != nil {
		return fmt.Errorf("marshal rankings: %w", err)
	}

	err = s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO session_results (session_id, quiz_id, title, started_at, ended_at, rankings)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (session_id) DO NOTHING`,
			results.SessionID, results.QuizID, results.Title, results.StartedAt, results.EndedAt, rankings)
		if err != nil {
			return fmt.Errorf("insert session results: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, entry := range results.Rankings {
			batch.Queue(
				`INSERT INTO participant_results (session_id, participant_id, display_name, rank, score, correct_count)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				results.SessionID, entry.ParticipantID, entry.DisplayName, entry.Rank, entry.Score, entry.CorrectCount)
		}
		br := tx.SendBatch(ctx, batch)
		for range results.Rankings {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("insert participant results: %w", err)
			}
		}
		return br.Close()
	})
	if err != nil {
		return err
	}
	log.Info().Str("module", "infra.postgres").Str("session", results.SessionID).
		Int("participants", len(results.Rankings)).Msg("session results recorded")
	return nil
}

// SessionRankings reads back the ranked participants of a finished session.
func (s *ResultsSink) SessionRankings(ctx context.Context, sessionID string) ([]domain.RankedEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT participant_id, display_name, rank, score, correct_count
		 FROM participant_results WHERE session_id=$1 ORDER BY rank`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query rankings: %w", err)
	}
	defer rows.Close()

	var out []domain.RankedEntry
	for rows.Next() {
		var e domain.RankedEntry
		if err := rows.Scan(&e.ParticipantID, &e.DisplayName, &e.Rank, &e.Score, &e.CorrectCount); err != nil {
			return nil, fmt.Errorf("scan ranking: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
