// Package pg bootstraps the PostgreSQL layer: a retrying pgxpool connector,
// goose migrations applied from an embedded filesystem, a health probe and
// helpers that classify *pgconn.PgError values.
//
//	var cfg pg.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, cfg, pgstore.Migrations(), log); err != nil {
//		return err
//	}
package pg
