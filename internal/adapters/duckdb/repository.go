package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/switchboardhq/switchboard/internal/core/domain"
	"github.com/switchboardhq/switchboard/internal/core/ports"
)

// Repository is the DuckDB-backed implementation of ports.Repository plus
// the trace persistence used by the trace collector.
type Repository struct {
	db *sql.DB
}

var _ ports.Repository = (*Repository)(nil)

// NewRepository opens (or creates) the DuckDB database at path and ensures
// the schema exists. An empty path opens an in-memory database.
func NewRepository(path string) (*Repository, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}

	r := &Repository{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id              VARCHAR PRIMARY KEY,
			organization_id VARCHAR NOT NULL,
			project_id      VARCHAR NOT NULL,
			name            VARCHAR NOT NULL,
			description     VARCHAR,
			kind            VARCHAR NOT NULL,
			system_prompt   VARCHAR NOT NULL,
			model           VARCHAR NOT NULL,
			max_iterations  INTEGER NOT NULL,
			tools           VARCHAR NOT NULL,
			created_at      TIMESTAMP DEFAULT current_timestamp
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id            VARCHAR PRIMARY KEY,
			agent_id      VARCHAR NOT NULL,
			user_id       VARCHAR,
			title         VARCHAR,
			handler_state VARCHAR NOT NULL,
			handoff_info  VARCHAR,
			created_at    TIMESTAMP NOT NULL,
			updated_at    TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id              VARCHAR PRIMARY KEY,
			conversation_id VARCHAR NOT NULL,
			role            VARCHAR NOT NULL,
			content         VARCHAR NOT NULL,
			metadata        VARCHAR,
			created_at      TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS executions (
			id              VARCHAR PRIMARY KEY,
			agent_id        VARCHAR NOT NULL,
			conversation_id VARCHAR,
			final_text      VARCHAR NOT NULL,
			thinking_steps  VARCHAR NOT NULL,
			tool_trace      VARCHAR NOT NULL,
			prompt_tokens   INTEGER NOT NULL,
			completion_tokens INTEGER NOT NULL,
			iterations_used INTEGER NOT NULL,
			started_at      TIMESTAMP NOT NULL,
			finished_at     TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key   VARCHAR PRIMARY KEY,
			value VARCHAR NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS traces (
			id              VARCHAR PRIMARY KEY,
			name            VARCHAR NOT NULL,
			status          VARCHAR NOT NULL,
			conversation_id VARCHAR,
			agent_id        VARCHAR,
			root_span_id    VARCHAR,
			start_time      TIMESTAMP NOT NULL,
			end_time        TIMESTAMP,
			duration_ms     BIGINT,
			span_count      INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS spans (
			id          VARCHAR PRIMARY KEY,
			trace_id    VARCHAR NOT NULL,
			parent_id   VARCHAR,
			name        VARCHAR NOT NULL,
			kind        VARCHAR NOT NULL,
			status      VARCHAR NOT NULL,
			input       VARCHAR,
			output      VARCHAR,
			error       VARCHAR,
			model       VARCHAR,
			attributes  VARCHAR,
			start_time  TIMESTAMP NOT NULL,
			end_time    TIMESTAMP,
			duration_ms BIGINT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// --- Agents ---

func (r *Repository) CreateAgent(ctx context.Context, agent domain.Agent) error {
	toolsJSON, err := json.Marshal(agent.Tools)
	if err != nil {
		return fmt.Errorf("marshal tools: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO agents (id, organization_id, project_id, name, description,
		                    kind, system_prompt, model, max_iterations, tools)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(agent.ID), agent.OrganizationID, agent.ProjectID,
		agent.Name, agent.Description, string(agent.Kind),
		agent.SystemPrompt, agent.Model, agent.MaxIterations, string(toolsJSON),
	)
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

func (r *Repository) GetAgent(ctx context.Context, id domain.AgentID) (domain.Agent, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, organization_id, project_id, name, description,
		       kind, system_prompt, model, max_iterations, tools
		FROM agents WHERE id = ?`, string(id))

	agent, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return domain.Agent{}, fmt.Errorf("%w: %s", domain.ErrAgentNotFound, id)
	}
	if err != nil {
		return domain.Agent{}, fmt.Errorf("get agent: %w", err)
	}
	return agent, nil
}

func (r *Repository) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, organization_id, project_id, name, description,
		       kind, system_prompt, model, max_iterations, tools
		FROM agents ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	out := []domain.Agent{}
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, agent)
	}
	return out, rows.Err()
}

func (r *Repository) UpdateAgent(ctx context.Context, agent domain.Agent) error {
	toolsJSON, err := json.Marshal(agent.Tools)
	if err != nil {
		return fmt.Errorf("marshal tools: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE agents SET organization_id = ?, project_id = ?, name = ?,
		       description = ?, kind = ?, system_prompt = ?, model = ?,
		       max_iterations = ?, tools = ?
		WHERE id = ?`,
		agent.OrganizationID, agent.ProjectID, agent.Name, agent.Description,
		string(agent.Kind), agent.SystemPrompt, agent.Model,
		agent.MaxIterations, string(toolsJSON), string(agent.ID),
	)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrAgentNotFound, agent.ID)
	}
	return nil
}

func (r *Repository) DeleteAgent(ctx context.Context, id domain.AgentID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, string(id))
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAgent(row rowScanner) (domain.Agent, error) {
	var a domain.Agent
	var kind, toolsJSON string
	err := row.Scan(
		&a.ID, &a.OrganizationID, &a.ProjectID, &a.Name, &a.Description,
		&kind, &a.SystemPrompt, &a.Model, &a.MaxIterations, &toolsJSON,
	)
	if err != nil {
		return domain.Agent{}, err
	}
	a.Kind = domain.AgentKind(kind)
	if err := json.Unmarshal([]byte(toolsJSON), &a.Tools); err != nil {
		return domain.Agent{}, fmt.Errorf("unmarshal tools: %w", err)
	}
	return a, nil
}

// --- Conversations ---

func (r *Repository) CreateConversation(ctx context.Context, conv domain.Conversation) error {
	handoffJSON, err := marshalHandoff(conv.HandoffInfo)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO conversations (id, agent_id, user_id, title, handler_state,
		                           handoff_info, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(conv.ID), string(conv.AgentID), conv.UserID, conv.Title,
		string(conv.HandlerState), handoffJSON, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (r *Repository) GetConversation(ctx context.Context, id domain.ConversationID) (domain.Conversation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, agent_id, user_id, title, handler_state, handoff_info,
		       created_at, updated_at
		FROM conversations WHERE id = ?`, string(id))

	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return domain.Conversation{}, fmt.Errorf("%w: %s", domain.ErrConversationNotFound, id)
	}
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

func (r *Repository) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, agent_id, user_id, title, handler_state, handoff_info,
		       created_at, updated_at
		FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := []domain.Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

func (r *Repository) UpdateConversation(ctx context.Context, conv domain.Conversation) error {
	handoffJSON, err := marshalHandoff(conv.HandoffInfo)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET handler_state = ?, handoff_info = ?,
		       title = ?, updated_at = ?
		WHERE id = ?`,
		string(conv.HandlerState), handoffJSON, conv.Title,
		conv.UpdatedAt, string(conv.ID),
	)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrConversationNotFound, conv.ID)
	}
	return nil
}

func (r *Repository) DeleteConversation(ctx context.Context, id domain.ConversationID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, string(id)); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, string(id)); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return tx.Commit()
}

func marshalHandoff(info *domain.HandoffInfo) (string, error) {
	if info == nil {
		return "", nil
	}
	b, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("marshal handoff info: %w", err)
	}
	return string(b), nil
}

func scanConversation(row rowScanner) (domain.Conversation, error) {
	var c domain.Conversation
	var state, handoffJSON string
	err := row.Scan(
		&c.ID, &c.AgentID, &c.UserID, &c.Title, &state, &handoffJSON,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return domain.Conversation{}, err
	}
	c.HandlerState = domain.HandlerState(state)
	if handoffJSON != "" {
		var info domain.HandoffInfo
		if err := json.Unmarshal([]byte(handoffJSON), &info); err == nil {
			c.HandoffInfo = &info
		}
	}
	return c, nil
}

// --- Messages ---

func (r *Repository) AddMessage(ctx context.Context, msg domain.Message) error {
	var metaJSON string
	if msg.Metadata != nil {
		b, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metaJSON = string(b)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(msg.ID), string(msg.ConversationID), string(msg.Role),
		msg.Content, metaJSON, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages returns messages in chronological order. limit > 0 returns
// only the most recent limit messages (still oldest-first).
func (r *Repository) ListMessages(ctx context.Context, convID domain.ConversationID, limit int) ([]domain.Message, error) {
	query := `
		SELECT id, conversation_id, role, content, metadata, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at ASC`
	args := []interface{}{string(convID)}
	if limit > 0 {
		query = `
			SELECT id, conversation_id, role, content, metadata, created_at
			FROM (
				SELECT id, conversation_id, role, content, metadata, created_at
				FROM messages WHERE conversation_id = ?
				ORDER BY created_at DESC LIMIT ?
			) ORDER BY created_at ASC`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := []domain.Message{}
	for rows.Next() {
		var m domain.Message
		var role, metaJSON string
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &metaJSON, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = domain.MessageRole(role)
		if metaJSON != "" {
			_ = json.Unmarshal([]byte(metaJSON), &m.Metadata)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Executions ---

func (r *Repository) SaveExecution(ctx context.Context, result domain.ExecutionResult) error {
	stepsJSON, err := json.Marshal(result.ThinkingSteps)
	if err != nil {
		return fmt.Errorf("marshal thinking steps: %w", err)
	}
	traceJSON, err := json.Marshal(result.ToolTrace)
	if err != nil {
		return fmt.Errorf("marshal tool trace: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO executions (id, agent_id, conversation_id, final_text,
		                        thinking_steps, tool_trace, prompt_tokens,
		                        completion_tokens, iterations_used,
		                        started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ExecutionID, string(result.AgentID), string(result.ConversationID),
		result.FinalText, string(stepsJSON), string(traceJSON),
		result.Usage.PromptTokens, result.Usage.CompletionTokens,
		result.IterationsUsed, result.StartedAt, result.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func (r *Repository) ListExecutions(ctx context.Context, agentID domain.AgentID, limit int) ([]domain.ExecutionResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, agent_id, conversation_id, final_text, thinking_steps,
		       tool_trace, prompt_tokens, completion_tokens, iterations_used,
		       started_at, finished_at
		FROM executions WHERE agent_id = ?
		ORDER BY started_at DESC LIMIT ?`, string(agentID), limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	out := []domain.ExecutionResult{}
	for rows.Next() {
		var e domain.ExecutionResult
		var stepsJSON, traceJSON string
		err := rows.Scan(
			&e.ExecutionID, &e.AgentID, &e.ConversationID, &e.FinalText,
			&stepsJSON, &traceJSON, &e.Usage.PromptTokens, &e.Usage.CompletionTokens,
			&e.IterationsUsed, &e.StartedAt, &e.FinishedAt,
		)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(stepsJSON), &e.ThinkingSteps); err != nil {
			return nil, fmt.Errorf("unmarshal thinking steps: %w", err)
		}
		if err := json.Unmarshal([]byte(traceJSON), &e.ToolTrace); err != nil {
			return nil, fmt.Errorf("unmarshal tool trace: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Settings ---

func (r *Repository) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: %s", domain.ErrSettingNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

func (r *Repository) SaveSetting(ctx context.Context, key string, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("save setting: %w", err)
	}
	return nil
}
