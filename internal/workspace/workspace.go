// Package workspace implements shared team workspaces with role-based
// membership, projects, and an activity feed.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/visionclass/backend/internal/database"
)

var (
	ErrWorkspaceNotFound = errors.New("workspace not found")
	ErrNotMember         = errors.New("not a member of this workspace")
	ErrInsufficientRole  = errors.New("role does not permit this action")
	ErrAlreadyMember     = errors.New("user is already a member")
	ErrInvalidRole       = errors.New("invalid workspace role")
)

// Member roles, strongest first.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleViewer = "viewer"
)

var roleRank = map[string]int{
	RoleOwner:  4,
	RoleAdmin:  3,
	RoleMember: 2,
	RoleViewer: 1,
}

// RoleAtLeast reports whether role has at least the privileges of required.
func RoleAtLeast(role, required string) bool {
	return roleRank[role] >= roleRank[required]
}

type Workspace struct {
	ID          string `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OwnerID     string `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type Member struct {
	WorkspaceID string `json:"workspace_id"`
	UserID      string `json:"user_id"`
	Role        string    `json:"role"`
	JoinedAt    time.Time `json:"joined_at"`
}

type Project struct {
	ID           string `json:"id"`
	WorkspaceID  string `json:"workspace_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	DefaultModel string    `json:"default_model"`
	CreatedBy    string `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
}

type Activity struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	UserID      string `json:"user_id"`
	Action      string    `json:"action"`
	Detail      string    `json:"detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Service owns workspace persistence and the role checks around it.
type Service struct {
	db *database.DB
}

func NewService(db *database.DB) *Service {
	return &Service{db: db}
}

// Create makes a workspace and enrolls the creator as owner in one
// transaction.
func (s *Service) Create(ctx context.Context, ownerID string, name, description string) (*Workspace, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("workspace name is required")
	}

	ws := &Workspace{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		OwnerID:     ownerID,
		CreatedAt:   time.Now().UTC(),
	}

	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO workspaces (id, name, description, owner_id, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			ws.ID, ws.Name, ws.Description, ws.OwnerID, ws.CreatedAt)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO workspace_members (workspace_id, user_id, role, joined_at)
			VALUES ($1, $2, $3, $4)`,
			ws.ID, ownerID, RoleOwner, ws.CreatedAt)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	s.recordActivity(ctx, ws.ID, ownerID, "workspace.created", name)
	return ws, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Workspace, error) {
	var ws Workspace
	err := s.db.QueryRow(ctx,
		`SELECT id, name, description, owner_id, created_at FROM workspaces WHERE id = $1`, id).
		Scan(&ws.ID, &ws.Name, &ws.Description, &ws.OwnerID, &ws.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWorkspaceNotFound
		}
		return nil, fmt.Errorf("failed to load workspace: %w", err)
	}
	return &ws, nil
}

// ListForUser returns every workspace the user belongs to.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Workspace, error) {
	rows, err := s.db.Query(ctx, `
		SELECT w.id, w.name, w.description, w.owner_id, w.created_at
		FROM workspaces w
		JOIN workspace_members m ON m.workspace_id = w.id
		WHERE m.user_id = $1
		ORDER BY w.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	var out []Workspace
	for rows.Next() {
		var ws Workspace
		if err := rows.Scan(&ws.ID, &ws.Name, &ws.Description, &ws.OwnerID, &ws.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workspace: %w", err)
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

// MemberRole returns the caller's role, or ErrNotMember.
func (s *Service) MemberRole(ctx context.Context, workspaceID, userID string) (string, error) {
	var role string
	err := s.db.QueryRow(ctx,
		`SELECT role FROM workspace_members WHERE workspace_id = $1 AND user_id = $2`,
		workspaceID, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotMember
		}
		return "", fmt.Errorf("failed to load member role: %w", err)
	}
	return role, nil
}

// AddMember enrolls a user. The actor must be admin or owner, and nobody can
// grant a role above their own.
func (s *Service) AddMember(ctx context.Context, workspaceID, actorID, userID string, role string) error {
	if _, ok := roleRank[role]; !ok || role == RoleOwner {
		return ErrInvalidRole
	}
	actorRole, err := s.MemberRole(ctx, workspaceID, actorID)
	if err != nil {
		return err
	}
	if !RoleAtLeast(actorRole, RoleAdmin) || !RoleAtLeast(actorRole, role) {
		return ErrInsufficientRole
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO workspace_members (workspace_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)`,
		workspaceID, userID, role, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyMember
		}
		return fmt.Errorf("failed to add member: %w", err)
	}

	s.recordActivity(ctx, workspaceID, actorID, "member.added", userID)
	return nil
}

func (s *Service) RemoveMember(ctx context.Context, workspaceID, actorID, userID string) error {
	actorRole, err := s.MemberRole(ctx, workspaceID, actorID)
	if err != nil {
		return err
	}
	if actorID != userID && !RoleAtLeast(actorRole, RoleAdmin) {
		return ErrInsufficientRole
	}

	targetRole, err := s.MemberRole(ctx, workspaceID, userID)
	if err != nil {
		return err
	}
	if targetRole == RoleOwner {
		return ErrInsufficientRole
	}

	_, err = s.db.Exec(ctx,
		`DELETE FROM workspace_members WHERE workspace_id = $1 AND user_id = $2`,
		workspaceID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}

	s.recordActivity(ctx, workspaceID, actorID, "member.removed", userID)
	return nil
}

func (s *Service) ListMembers(ctx context.Context, workspaceID, actorID string) ([]Member, error) {
	if _, err := s.MemberRole(ctx, workspaceID, actorID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx,
		`SELECT workspace_id, user_id, role, joined_at
		FROM workspace_members WHERE workspace_id = $1 ORDER BY joined_at`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.WorkspaceID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CreateProject adds a project. Requires member role or above.
func (s *Service) CreateProject(ctx context.Context, workspaceID, actorID string, name, description, defaultModel string) (*Project, error) {
	actorRole, err := s.MemberRole(ctx, workspaceID, actorID)
	if err != nil {
		return nil, err
	}
	if !RoleAtLeast(actorRole, RoleMember) {
		return nil, ErrInsufficientRole
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("project name is required")
	}

	p := &Project{
		ID:           uuid.New().String(),
		WorkspaceID:  workspaceID,
		Name:         name,
		Description:  description,
		DefaultModel: defaultModel,
		CreatedBy:    actorID,
		CreatedAt:    time.Now().UTC(),
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO workspace_projects (id, workspace_id, name, description, default_model, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.WorkspaceID, p.Name, p.Description, p.DefaultModel, p.CreatedBy, p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	s.recordActivity(ctx, workspaceID, actorID, "project.created", name)
	return p, nil
}

func (s *Service) ListProjects(ctx context.Context, workspaceID, actorID string) ([]Project, error) {
	if _, err := s.MemberRole(ctx, workspaceID, actorID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, workspace_id, name, description, default_model, created_by, created_at
		FROM workspace_projects WHERE workspace_id = $1 ORDER BY created_at DESC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		err := rows.Scan(&p.ID, &p.WorkspaceID, &p.Name, &p.Description,
			&p.DefaultModel, &p.CreatedBy, &p.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecentActivity returns the latest feed entries, newest first.
func (s *Service) RecentActivity(ctx context.Context, workspaceID, actorID string, limit int) ([]Activity, error) {
	if _, err := s.MemberRole(ctx, workspaceID, actorID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, workspace_id, user_id, action, detail, created_at
		FROM workspace_activity WHERE workspace_id = $1
		ORDER BY created_at DESC LIMIT $2`, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.ID, &a.WorkspaceID, &a.UserID, &a.Action, &a.Detail, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// recordActivity appends to the feed, best effort. The feed is advisory and
// never blocks the action that produced it.
func (s *Service) recordActivity(ctx context.Context, workspaceID, userID string, action, detail string) {
	_, err := s.db.Exec(ctx,
		`INSERT INTO workspace_activity (id, workspace_id, user_id, action, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), workspaceID, userID, action, detail, time.Now().UTC())
	if err != nil {
		log.Printf("[workspace] failed to record activity %s: %v", action, err)
	}
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
