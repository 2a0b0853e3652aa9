// Package pg bootstraps the PostgreSQL layer on pgx/v5: a retrying pool
// connect, goose migrations read from an embedded filesystem, a transaction
// helper and classifiers for the pg error codes the stores care about
// (unique and foreign key violations).
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	if err := pg.Migrate(ctx, pool, cfg, pgstore.Migrations, log); err != nil {
//		return err
//	}
package pg
