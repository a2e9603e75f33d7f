package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/visionclass/backend/internal/database"
	"github.com/visionclass/backend/internal/models"
)

var ErrRecordNotFound = errors.New("classification record not found")

const defaultHistoryLimit = 50

// HistoryRepository persists per-user classification history.
type HistoryRepository struct {
	db *database.DB
}

func NewHistoryRepository(db *database.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

func (r *HistoryRepository) Create(ctx context.Context, rec *models.ClassificationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO classification_history (id, user_id, filename, fingerprint, model,
			top_label, top_confidence, predictions, from_cache, processing_time_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.db.Exec(ctx, query,
		rec.ID, rec.UserID, rec.Filename, rec.Fingerprint, rec.Model,
		rec.TopLabel, rec.TopConfidence, rec.PredictionsRaw, rec.FromCache,
		rec.ProcessingTime.Milliseconds(), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert classification record: %w", err)
	}
	return nil
}

func (r *HistoryRepository) GetByID(ctx context.Context, id string) (*models.ClassificationRecord, error) {
	query := `
		SELECT id, user_id, filename, fingerprint, model, top_label, top_confidence,
			predictions, from_cache, processing_time_ms, created_at
		FROM classification_history WHERE id = $1`
	return r.scanRecord(r.db.QueryRow(ctx, query, id))
}

// List returns history entries matching the filter, newest first.
func (r *HistoryRepository) List(ctx context.Context, filter models.HistoryFilter) ([]models.ClassificationRecord, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = defaultHistoryLimit
	}

	var (
		conditions []string
		args       []interface{}
	)
	addCondition := func(clause string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	addCondition("user_id = $%d", filter.UserID)
	if filter.Model != "" {
		addCondition("model = $%d", filter.Model)
	}
	if filter.Since != nil {
		addCondition("created_at >= $%d", *filter.Since)
	}

	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`
		SELECT id, user_id, filename, fingerprint, model, top_label, top_confidence,
			predictions, from_cache, processing_time_ms, created_at
		FROM classification_history
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		strings.Join(conditions, " AND "), len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list classification history: %w", err)
	}
	defer rows.Close()

	var records []models.ClassificationRecord
	for rows.Next() {
		rec, err := r.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate classification history: %w", err)
	}
	return records, nil
}

// Count returns the number of history entries matching the filter, ignoring
// pagination.
func (r *HistoryRepository) Count(ctx context.Context, filter models.HistoryFilter) (int64, error) {
	var (
		conditions []string
		args       []interface{}
	)
	addCondition := func(clause string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	addCondition("user_id = $%d", filter.UserID)
	if filter.Model != "" {
		addCondition("model = $%d", filter.Model)
	}
	if filter.Since != nil {
		addCondition("created_at >= $%d", *filter.Since)
	}

	query := fmt.Sprintf(`SELECT COUNT(*) FROM classification_history WHERE %s`,
		strings.Join(conditions, " AND "))

	var count int64
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count classification history: %w", err)
	}
	return count, nil
}

// HistoryStats summarizes one user's classification history.
type HistoryStats struct {
	TotalRequests int64        `json:"total_requests"`
	CacheHits     int64        `json:"cache_hits"`
	CacheHitRate  float64      `json:"cache_hit_rate"`
	AvgTimeMs     float64      `json:"average_processing_time_ms"`
	ByModel       []ModelUsage `json:"by_model"`
}

// ModelUsage counts history entries per model.
type ModelUsage struct {
	Model    string `json:"model"`
	Requests int64  `json:"requests"`
}

// Stats aggregates a user's history: totals, cache hit rate, average
// processing time, and a per-model breakdown.
func (r *HistoryRepository) Stats(ctx context.Context, userID string) (*HistoryStats, error) {
	stats := &HistoryStats{}

	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE from_cache),
			COALESCE(AVG(processing_time_ms), 0)
		FROM classification_history
		WHERE user_id = $1`, userID).
		Scan(&stats.TotalRequests, &stats.CacheHits, &stats.AvgTimeMs)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate classification history: %w", err)
	}
	if stats.TotalRequests > 0 {
		stats.CacheHitRate = float64(stats.CacheHits) / float64(stats.TotalRequests)
	}

	rows, err := r.db.Query(ctx, `
		SELECT model, COUNT(*)
		FROM classification_history
		WHERE user_id = $1
		GROUP BY model
		ORDER BY COUNT(*) DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate history by model: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var mu ModelUsage
		if err := rows.Scan(&mu.Model, &mu.Requests); err != nil {
			return nil, fmt.Errorf("failed to scan history model usage: %w", err)
		}
		stats.ByModel = append(stats.ByModel, mu)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history model usage: %w", err)
	}
	return stats, nil
}

func (r *HistoryRepository) Delete(ctx context.Context, userID, id string) error {
	affected, err := r.db.Exec(ctx,
		`DELETE FROM classification_history WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete classification record: %w", err)
	}
	if affected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r *HistoryRepository) scanRecord(row pgx.Row) (*models.ClassificationRecord, error) {
	var (
		rec models.ClassificationRecord
		ms  int64
	)
	err := row.Scan(&rec.ID, &rec.UserID, &rec.Filename, &rec.Fingerprint, &rec.Model,
		&rec.TopLabel, &rec.TopConfidence, &rec.PredictionsRaw, &rec.FromCache,
		&ms, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to scan classification record: %w", err)
	}
	rec.ProcessingTime = time.Duration(ms) * time.Millisecond
	return &rec, nil
}
