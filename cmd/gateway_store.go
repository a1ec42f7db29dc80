package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/Leavesfly/TinyClaw-sub001/internal/config"
	"github.com/Leavesfly/TinyClaw-sub001/internal/scheduler"
	"github.com/Leavesfly/TinyClaw-sub001/internal/sessions"
	"github.com/Leavesfly/TinyClaw-sub001/internal/store/pg"
)

// openStores builds the session manager and the cron job store for the
// configured backend. Both share one Postgres pool when backend is
// "postgres"; the returned close func releases it.
func openStores(cfg *config.Config, workspace string) (*sessions.Manager, scheduler.Store, func(), error) {
	if cfg.Store.Backend == "postgres" {
		dsn := cfg.Store.PostgresDSN
		if dsn == "" {
			return nil, nil, nil, fmt.Errorf("store backend is postgres but the TINYCLAW_STORE_POSTGRES_DSN environment variable is not set")
		}
		db, err := pg.Open(dsn)
		if err != nil {
			return nil, nil, nil, err
		}
		sess := sessions.NewManagerWithStore(pg.NewSessionStore(db))
		return sess, pg.NewCronStore(db), func() { _ = db.Close() }, nil
	}

	sess := sessions.NewManager(filepath.Join(workspace, "sessions"))
	cronStore := scheduler.NewFileStore(filepath.Join(workspace, "cron", "jobs.json"))
	return sess, cronStore, func() {}, nil
}
