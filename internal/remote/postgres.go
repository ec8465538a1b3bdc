package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PostgresGateway implements Gateway against a Postgres backend, with
// realtime change events carried over Redis pub/sub. Subtask and comment
// rows cascade on task deletion at the schema level.
type PostgresGateway struct {
	db     *pgxpool.Pool
	rdb    *redis.Client
	logger *zap.Logger
}

// NewPostgresGateway connects a pgx pool to dsn, verifies the connection,
// and applies the schema. rdb may be nil, in which case no change events
// are published and Subscribe returns an error.
func NewPostgresGateway(ctx context.Context, dsn string, rdb *redis.Client, logger *zap.Logger) (*PostgresGateway, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnIdleTime = time.Minute

	connCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	g := &PostgresGateway{db: pool, rdb: rdb, logger: logger}
	if err := g.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("postgres gateway ready")
	return g, nil
}

// Close releases the connection pool.
func (g *PostgresGateway) Close() {
	g.db.Close()
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS projects (
	id                  TEXT PRIMARY KEY,
	title               TEXT NOT NULL,
	emoji               TEXT NOT NULL DEFAULT '',
	priority_rank       INTEGER NOT NULL DEFAULT 0,
	current_stage_index INTEGER NOT NULL DEFAULT 0,
	owner_id            TEXT NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	modified_by         TEXT NOT NULL DEFAULT '',
	modified_by_name    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS project_members (
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	user_id    TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL DEFAULT '',
	role       TEXT NOT NULL DEFAULT 'editor',
	PRIMARY KEY (project_id, user_id)
);

CREATE TABLE IF NOT EXISTS stages (
	id          TEXT PRIMARY KEY,
	project_id  TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name        TEXT NOT NULL,
	order_index INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS tasks (
	id               TEXT PRIMARY KEY,
	stage_id         TEXT NOT NULL REFERENCES stages(id) ON DELETE CASCADE,
	title            TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	is_completed     BOOLEAN NOT NULL DEFAULT FALSE,
	reminder_date    TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_by       TEXT NOT NULL DEFAULT '',
	created_by_name  TEXT NOT NULL DEFAULT '',
	modified_by      TEXT NOT NULL DEFAULT '',
	modified_by_name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS subtasks (
	id               TEXT PRIMARY KEY,
	task_id          TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	title            TEXT NOT NULL,
	is_completed     BOOLEAN NOT NULL DEFAULT FALSE,
	reminder_date    TIMESTAMPTZ,
	created_by       TEXT NOT NULL DEFAULT '',
	created_by_name  TEXT NOT NULL DEFAULT '',
	modified_by      TEXT NOT NULL DEFAULT '',
	modified_by_name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS comments (
	id          TEXT PRIMARY KEY,
	task_id     TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	content     TEXT NOT NULL,
	author_name TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS notifications (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	type          TEXT NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	message       TEXT NOT NULL DEFAULT '',
	project_id    TEXT NOT NULL DEFAULT '',
	task_id       TEXT NOT NULL DEFAULT '',
	subtask_id    TEXT NOT NULL DEFAULT '',
	is_read       BOOLEAN NOT NULL DEFAULT FALSE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	reminder_date TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS today_items (
	user_id TEXT NOT NULL,
	date    TEXT NOT NULL,
	items   JSONB NOT NULL DEFAULT '[]',
	PRIMARY KEY (user_id, date)
);

CREATE TABLE IF NOT EXISTS invitations (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	email      TEXT NOT NULL,
	invited_by TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects(owner_id);
CREATE INDEX IF NOT EXISTS idx_members_user ON project_members(user_id);
CREATE INDEX IF NOT EXISTS idx_stages_project ON stages(project_id);
CREATE INDEX IF NOT EXISTS idx_tasks_stage ON tasks(stage_id);
CREATE INDEX IF NOT EXISTS idx_subtasks_task ON subtasks(task_id);
CREATE INDEX IF NOT EXISTS idx_comments_task ON comments(task_id);
CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_invitations_project ON invitations(project_id);
`

func (g *PostgresGateway) migrate(ctx context.Context) error {
	if _, err := g.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// userChannel and projectChannel name the Redis pub/sub channels carrying
// change events.
func userChannel(userID string) string { return "tracker:user:" + userID }
func projectChannel(id string) string  { return "tracker:project:" + id }

// publish sends a change event on the project channel and the owner's
// user channel. Publish failures are logged, never returned: the primary
// mutation already succeeded.
func (g *PostgresGateway) publish(ctx context.Context, ev ChangeEvent) {
	if g.rdb == nil {
		return
	}
	ev.At = time.Now().UTC()

	payload, err := json.Marshal(ev)
	if err != nil {
		g.logger.Warn("marshaling change event", zap.Error(err))
		return
	}

	channels := []string{}
	if ev.ProjectID != "" {
		channels = append(channels, projectChannel(ev.ProjectID))
		var ownerID string
		err := g.db.QueryRow(ctx, "SELECT owner_id FROM projects WHERE id = $1", ev.ProjectID).Scan(&ownerID)
		if err == nil && ownerID != "" {
			channels = append(channels, userChannel(ownerID))
		}
	}
	for _, ch := range channels {
		if err := g.rdb.Publish(ctx, ch, payload).Err(); err != nil {
			g.logger.Warn("publishing change event",
				zap.String("channel", ch),
				zap.Error(err),
			)
		}
	}
}

// projectIDForStage resolves the owning project of a stage.
func (g *PostgresGateway) projectIDForStage(ctx context.Context, stageID string) (string, error) {
	var projectID string
	err := g.db.QueryRow(ctx,
		"SELECT project_id FROM stages WHERE id = $1", stageID,
	).Scan(&projectID)
	if err != nil {
		return "", fmt.Errorf("resolving project for stage %s: %w", stageID, err)
	}
	return projectID, nil
}

// projectIDForTask resolves the owning project of a task.
func (g *PostgresGateway) projectIDForTask(ctx context.Context, taskID string) (string, error) {
	var projectID string
	err := g.db.QueryRow(ctx, `
		SELECT s.project_id FROM tasks t
		JOIN stages s ON s.id = t.stage_id
		WHERE t.id = $1`, taskID,
	).Scan(&projectID)
	if err != nil {
		return "", fmt.Errorf("resolving project for task %s: %w", taskID, err)
	}
	return projectID, nil
}

// redisSub adapts a go-redis PubSub to the Subscription interface.
type redisSub struct {
	pubsub *redis.PubSub
	done   chan struct{}
}

func (s *redisSub) Close() error {
	close(s.done)
	return s.pubsub.Close()
}

// Subscribe opens a Redis pub/sub feed on the user's channel plus one
// channel per watched project, decoding events onto onChange.
func (g *PostgresGateway) Subscribe(ctx context.Context, userID string, projectIDs []string, onChange func(ChangeEvent)) (Subscription, error) {
	if g.rdb == nil {
		return nil, fmt.Errorf("realtime subscription requires a redis client")
	}

	channels := []string{userChannel(userID)}
	for _, id := range projectIDs {
		channels = append(channels, projectChannel(id))
	}

	pubsub := g.rdb.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribing to change feed: %w", err)
	}

	sub := &redisSub{pubsub: pubsub, done: make(chan struct{})}
	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-sub.done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					g.logger.Warn("decoding change event", zap.Error(err))
					continue
				}
				onChange(ev)
			}
		}
	}()

	return sub, nil
}
