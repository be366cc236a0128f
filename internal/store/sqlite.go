package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/taskcrew/taskcrew/pkg/models"
)

// DB is the SQLite-backed Store.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.Mutex
}

// DefaultDBPath returns the path to the taskcrew database under the
// XDG data directory.
func DefaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "taskcrew", "taskcrew.db")
}

// Open opens (and migrates) an SQLite database at the given path, creating
// parent directories if needed. WAL mode is enabled for concurrent reads.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	db := &DB{conn: conn, path: path}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

const migrationV1 = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	squad_id TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	assigned_to TEXT NOT NULL DEFAULT '',
	blocked_reason TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	completed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_tasks_squad_status ON tasks(squad_id, status);

CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	squad_id TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL,
	type TEXT NOT NULL DEFAULT '',
	active INTEGER NOT NULL DEFAULT 1,
	profile TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agents_squad ON agents(squad_id, active);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT NOT NULL,
	agent_id TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	kind TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_task ON messages(task_id);
`

const migrationV2 = `
CREATE TABLE IF NOT EXISTS workflows (
	id TEXT PRIMARY KEY,
	squad_id TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL,
	definition TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS workflow_executions (
	id TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	current_step INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	context TEXT NOT NULL DEFAULT '{}',
	error TEXT NOT NULL DEFAULT '',
	started_at DATETIME NOT NULL,
	completed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_wf_exec_workflow ON workflow_executions(workflow_id);
`

// migrate applies all pending schema migrations.
func (db *DB) migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var current int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1},
		{2, migrationV2},
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}
	return nil
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// CreateTask inserts the task.
func (db *DB) CreateTask(ctx context.Context, t *models.Task) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO tasks (id, squad_id, title, description, type, status, priority, assigned_to, blocked_reason, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SquadID, t.Title, t.Description, t.Type, string(t.Status),
		t.Priority, t.AssignedTo, t.BlockedReason, t.CreatedAt, t.CompletedAt)
	return storeErr("create_task", err)
}

// GetTask returns the task, or (nil, nil) if absent.
func (db *DB) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, squad_id, title, description, type, status, priority, assigned_to, blocked_reason, created_at, completed_at
		FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get_task", err)
	}
	return t, nil
}

// GetTasksByStatus returns tasks for the squad with the given status,
// ordered by priority descending then creation time.
func (db *DB) GetTasksByStatus(ctx context.Context, squadID string, status models.TaskStatus) ([]*models.Task, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, squad_id, title, description, type, status, priority, assigned_to, blocked_reason, created_at, completed_at
		FROM tasks WHERE squad_id = ? AND status = ?
		ORDER BY priority DESC, created_at ASC`, squadID, string(status))
	if err != nil {
		return nil, storeErr("get_tasks_by_status", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, storeErr("get_tasks_by_status", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, storeErr("get_tasks_by_status", rows.Err())
}

// UpdateTaskStatus sets the task's status and blocked reason.
func (db *DB) UpdateTaskStatus(ctx context.Context, id string, status models.TaskStatus, reason string) error {
	var completedAt any
	if status == models.TaskStatusDone {
		completedAt = time.Now()
	}
	_, err := db.conn.ExecContext(ctx, `
		UPDATE tasks SET status = ?, blocked_reason = ?, completed_at = COALESCE(?, completed_at)
		WHERE id = ?`, string(status), reason, completedAt, id)
	return storeErr("update_task_status", err)
}

// AssignTask sets the task's assigned agent.
func (db *DB) AssignTask(ctx context.Context, taskID, agentID string) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE tasks SET assigned_to = ? WHERE id = ?`, agentID, taskID)
	return storeErr("assign_task", err)
}

// CreateAgent inserts or replaces the agent profile.
// The full profile is stored as JSON alongside the queryable columns.
func (db *DB) CreateAgent(ctx context.Context, p *models.AgentProfile) error {
	blob, err := json.Marshal(p)
	if err != nil {
		return storeErr("create_agent", err)
	}
	active := 0
	if p.Active {
		active = 1
	}
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO agents (id, squad_id, name, type, active, profile)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET squad_id = excluded.squad_id,
			name = excluded.name, type = excluded.type,
			active = excluded.active, profile = excluded.profile`,
		p.ID, p.SquadID, p.Name, p.Type, active, string(blob))
	return storeErr("create_agent", err)
}

// GetActiveAgents returns the active agent profiles for the squad.
func (db *DB) GetActiveAgents(ctx context.Context, squadID string) ([]*models.AgentProfile, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT profile FROM agents WHERE squad_id = ? AND active = 1 ORDER BY id`, squadID)
	if err != nil {
		return nil, storeErr("get_active_agents", err)
	}
	defer rows.Close()

	var agents []*models.AgentProfile
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, storeErr("get_active_agents", err)
		}
		var p models.AgentProfile
		if err := json.Unmarshal([]byte(blob), &p); err != nil {
			return nil, storeErr("get_active_agents", err)
		}
		agents = append(agents, &p)
	}
	return agents, storeErr("get_active_agents", rows.Err())
}

// CreateMessage records a message on a task.
func (db *DB) CreateMessage(ctx context.Context, taskID, agentID, content, kind string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO messages (task_id, agent_id, content, kind, created_at)
		VALUES (?, ?, ?, ?, ?)`, taskID, agentID, content, kind, time.Now())
	return storeErr("create_message", err)
}

// CreateWorkflow inserts the workflow; steps and triggers are stored as JSON.
func (db *DB) CreateWorkflow(ctx context.Context, w *models.Workflow) error {
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}
	blob, err := json.Marshal(w)
	if err != nil {
		return storeErr("create_workflow", err)
	}
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO workflows (id, squad_id, name, definition, created_at)
		VALUES (?, ?, ?, ?, ?)`, w.ID, w.SquadID, w.Name, string(blob), w.CreatedAt)
	return storeErr("create_workflow", err)
}

// GetWorkflow returns the workflow, or (nil, nil) if absent.
func (db *DB) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	var blob string
	err := db.conn.QueryRowContext(ctx,
		`SELECT definition FROM workflows WHERE id = ?`, id).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get_workflow", err)
	}
	var w models.Workflow
	if err := json.Unmarshal([]byte(blob), &w); err != nil {
		return nil, storeErr("get_workflow", err)
	}
	return &w, nil
}

// UpdateWorkflow replaces the stored workflow definition.
func (db *DB) UpdateWorkflow(ctx context.Context, w *models.Workflow) error {
	blob, err := json.Marshal(w)
	if err != nil {
		return storeErr("update_workflow", err)
	}
	_, err = db.conn.ExecContext(ctx,
		`UPDATE workflows SET squad_id = ?, name = ?, definition = ? WHERE id = ?`,
		w.SquadID, w.Name, string(blob), w.ID)
	return storeErr("update_workflow", err)
}

// CreateWorkflowExecution inserts the execution record.
func (db *DB) CreateWorkflowExecution(ctx context.Context, e *models.WorkflowExecution) error {
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now()
	}
	blob, err := json.Marshal(e.Context)
	if err != nil {
		return storeErr("create_workflow_execution", err)
	}
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO workflow_executions (id, workflow_id, current_step, status, context, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.WorkflowID, e.CurrentStep, string(e.Status), string(blob), e.Error, e.StartedAt, e.CompletedAt)
	return storeErr("create_workflow_execution", err)
}

// GetWorkflowExecution returns the execution, or (nil, nil) if absent.
func (db *DB) GetWorkflowExecution(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, workflow_id, current_step, status, context, error, started_at, completed_at
		FROM workflow_executions WHERE id = ?`, id)

	var (
		e           models.WorkflowExecution
		status      string
		contextBlob string
		completedAt sql.NullTime
	)
	err := row.Scan(&e.ID, &e.WorkflowID, &e.CurrentStep, &status, &contextBlob, &e.Error, &e.StartedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get_workflow_execution", err)
	}
	e.Status = models.WorkflowExecutionStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		e.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(contextBlob), &e.Context); err != nil {
		return nil, storeErr("get_workflow_execution", err)
	}
	return &e, nil
}

// UpdateWorkflowExecution writes back the execution's step index, status,
// context and error.
func (db *DB) UpdateWorkflowExecution(ctx context.Context, e *models.WorkflowExecution) error {
	blob, err := json.Marshal(e.Context)
	if err != nil {
		return storeErr("update_workflow_execution", err)
	}
	_, err = db.conn.ExecContext(ctx, `
		UPDATE workflow_executions
		SET current_step = ?, status = ?, context = ?, error = ?, completed_at = ?
		WHERE id = ?`,
		e.CurrentStep, string(e.Status), string(blob), e.Error, e.CompletedAt, e.ID)
	return storeErr("update_workflow_execution", err)
}

// scanner abstracts *sql.Row and *sql.Rows for scanTask.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*models.Task, error) {
	var (
		t           models.Task
		status      string
		completedAt sql.NullTime
	)
	err := s.Scan(&t.ID, &t.SquadID, &t.Title, &t.Description, &t.Type, &status,
		&t.Priority, &t.AssignedTo, &t.BlockedReason, &t.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	t.Status = models.TaskStatus(status)
	if completedAt.Valid {
		ct := completedAt.Time
		t.CompletedAt = &ct
	}
	return &t, nil
}
