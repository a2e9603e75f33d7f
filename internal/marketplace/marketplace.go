// Package marketplace manages user-published custom classification models.
package marketplace

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/visionclass/backend/internal/database"
)

var (
	ErrModelNotFound  = errors.New("custom model not found")
	ErrInvalidModel   = errors.New("invalid custom model")
	ErrNotModelOwner  = errors.New("not the model owner")
	ErrDuplicateModel = errors.New("a model with this name and version already exists")
)

// Supported training frameworks for published models.
var supportedFrameworks = map[string]bool{
	"tensorflow": true,
	"pytorch":    true,
	"onnx":       true,
	"keras":      true,
}

// CustomModel is one published model listing.
type CustomModel struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Framework   string    `json:"framework"`
	Version     string    `json:"version"`
	Accuracy    float64   `json:"accuracy"`
	Labels      []string  `json:"labels"`
	StoragePath string    `json:"-"`
	Public      bool      `json:"public"`
	Downloads   int64     `json:"downloads"`
	CreatedAt   time.Time `json:"created_at"`
}

// ListFilter narrows a marketplace listing query. An empty OwnerID lists
// public models only.
type ListFilter struct {
	OwnerID   string
	Framework string
	Query     string
	Limit     int
	Offset    int
}

// Stats summarizes the marketplace catalog.
type Stats struct {
	TotalModels    int64            `json:"total_models"`
	TotalDownloads int64            `json:"total_downloads"`
	ByFramework    map[string]int64 `json:"by_framework"`
}

// Registry persists marketplace listings in postgres. Model artifacts live
// under storageDir; clients never choose the path.
type Registry struct {
	db         *database.DB
	storageDir string
}

func NewRegistry(db *database.DB, storageDir string) *Registry {
	if storageDir == "" {
		storageDir = "./models"
	}
	return &Registry{db: db, storageDir: storageDir}
}

// validateModel checks a listing before it is stored.
func validateModel(m *CustomModel) error {
	if m.Name == "" || m.Version == "" {
		return fmt.Errorf("%w: name and version are required", ErrInvalidModel)
	}
	if !supportedFrameworks[strings.ToLower(m.Framework)] {
		return fmt.Errorf("%w: unsupported framework %q", ErrInvalidModel, m.Framework)
	}
	if m.Accuracy < 0 || m.Accuracy > 1 {
		return fmt.Errorf("%w: accuracy must be between 0 and 1", ErrInvalidModel)
	}
	return nil
}

// storagePathFor resolves where a published model's artifact lives.
func (r *Registry) storagePathFor(id string) string {
	return filepath.Join(r.storageDir, id+".model")
}

// Publish validates and stores a new model listing.
func (r *Registry) Publish(ctx context.Context, m *CustomModel) error {
	m.Name = strings.TrimSpace(m.Name)
	if err := validateModel(m); err != nil {
		return err
	}

	m.ID = uuid.New().String()
	m.Framework = strings.ToLower(m.Framework)
	m.StoragePath = r.storagePathFor(m.ID)
	m.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO custom_models (id, owner_id, name, description, framework, version,
			accuracy, labels, storage_path, public, downloads, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11)`
	_, err := r.db.Exec(ctx, query,
		m.ID, m.OwnerID, m.Name, m.Description, m.Framework, m.Version,
		m.Accuracy, m.Labels, m.StoragePath, m.Public, m.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateModel
		}
		return fmt.Errorf("failed to publish model: %w", err)
	}
	return nil
}

const modelColumns = `id, owner_id, name, description, framework, version,
	accuracy, labels, storage_path, public, downloads, created_at`

func (r *Registry) Get(ctx context.Context, id string) (*CustomModel, error) {
	query := `SELECT ` + modelColumns + ` FROM custom_models WHERE id = $1`
	return scanModel(r.db.QueryRow(ctx, query, id))
}

// List returns public listings matching the filter, plus the caller's own
// private models when OwnerID is set.
func (r *Registry) List(ctx context.Context, filter ListFilter) ([]CustomModel, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}

	var (
		conditions []string
		args       []interface{}
	)
	add := func(clause string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if filter.OwnerID != "" {
		add("(public = true OR owner_id = $%d)", filter.OwnerID)
	} else {
		conditions = append(conditions, "public = true")
	}
	if filter.Framework != "" {
		add("framework = $%d", strings.ToLower(filter.Framework))
	}
	if filter.Query != "" {
		args = append(args, filter.Query)
		p := len(args)
		conditions = append(conditions, fmt.Sprintf(
			"(name ILIKE '%%' || $%d || '%%' OR description ILIKE '%%' || $%d || '%%')", p, p))
	}

	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`
		SELECT `+modelColumns+`
		FROM custom_models
		WHERE %s
		ORDER BY downloads DESC, created_at DESC
		LIMIT $%d OFFSET $%d`,
		strings.Join(conditions, " AND "), len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer rows.Close()

	var out []CustomModel
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate models: %w", err)
	}
	return out, nil
}

// RecordDownload atomically bumps the download counter and returns the
// storage path for serving.
func (r *Registry) RecordDownload(ctx context.Context, id string) (string, error) {
	var path string
	query := `
		UPDATE custom_models
		SET downloads = downloads + 1
		WHERE id = $1
		RETURNING storage_path`
	if err := r.db.QueryRow(ctx, query, id).Scan(&path); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrModelNotFound
		}
		return "", fmt.Errorf("failed to record download: %w", err)
	}
	return path, nil
}

// Delete removes a listing owned by ownerID.
func (r *Registry) Delete(ctx context.Context, ownerID, id string) error {
	affected, err := r.db.Exec(ctx,
		`DELETE FROM custom_models WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete model: %w", err)
	}
	if affected == 0 {
		if _, getErr := r.Get(ctx, id); getErr == nil {
			return ErrNotModelOwner
		}
		return ErrModelNotFound
	}
	return nil
}

// Stats aggregates the catalog.
func (r *Registry) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByFramework: make(map[string]int64)}

	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(downloads), 0) FROM custom_models WHERE public = true`).
		Scan(&stats.TotalModels, &stats.TotalDownloads)
	if err != nil {
		return nil, fmt.Errorf("failed to load marketplace stats: %w", err)
	}

	rows, err := r.db.Query(ctx,
		`SELECT framework, COUNT(*) FROM custom_models WHERE public = true GROUP BY framework`)
	if err != nil {
		return nil, fmt.Errorf("failed to load framework stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			fw string
			n  int64
		)
		if err := rows.Scan(&fw, &n); err != nil {
			return nil, fmt.Errorf("failed to scan framework stats: %w", err)
		}
		stats.ByFramework[fw] = n
	}
	return stats, rows.Err()
}

func scanModel(row pgx.Row) (*CustomModel, error) {
	var m CustomModel
	err := row.Scan(&m.ID, &m.OwnerID, &m.Name, &m.Description, &m.Framework,
		&m.Version, &m.Accuracy, &m.Labels, &m.StoragePath, &m.Public,
		&m.Downloads, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrModelNotFound
		}
		return nil, fmt.Errorf("failed to scan model: %w", err)
	}
	return &m, nil
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
