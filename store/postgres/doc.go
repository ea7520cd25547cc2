// Package postgres implements authcore.Store on PostgreSQL through
// database/sql and the pgx stdlib driver.
//
// UpdateUser locks the user row with SELECT ... FOR UPDATE inside a
// transaction, so concurrent updates to one account are applied one after
// another. Schema changes are goose migrations embedded in the binary; run
// them with Store.Migrate.
package postgres
