package app

import (
	"database/sql"

	"authorline/internal/config"
	"authorline/internal/db"
	"authorline/internal/engine"
	"authorline/internal/migrate"
	"authorline/internal/review"
	"authorline/internal/upstream"
)

// Context bundles everything the CLI and server need: the local review
// store engine plus the upstream clients driven by authorline.yml.
type Context struct {
	DB         *sql.DB
	Engine     engine.Engine
	Config     *config.Config
	Tasks      *upstream.AuthoringClient
	Aggregator review.Aggregator
}

// New opens the workspace store, applies migrations and wires the upstream
// clients. Callers own Close.
func New(workspace string) (*Context, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	e := engine.New(conn)
	authoring := upstream.NewAuthoringClient(cfg.Upstream.Authoring.BaseURL, cfg.Upstream.Authoring.Token)
	terminology := upstream.NewTerminologyClient(cfg.Upstream.Terminology.BaseURL, cfg.Upstream.Terminology.Token)
	return &Context{
		DB:     conn,
		Engine: e,
		Config: cfg,
		Tasks:  authoring,
		Aggregator: review.Aggregator{
			Activities: authoring,
			Concepts:   terminology,
			State:      e.Repo,
		},
	}, nil
}

// Close releases the store connection.
func (c *Context) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
