// Package app wires configuration, storage and the dashboard service for the
// binaries under cmd/.
package app

import (
	"context"
	"fmt"

	"ormdash.org/internal/audit"
	"ormdash.org/internal/auth"
	"ormdash.org/internal/config"
	"ormdash.org/internal/dashboard"
	"ormdash.org/internal/migrate"
	"ormdash.org/internal/obs"
	"ormdash.org/internal/store/sqlstore"
)

type App struct {
	Config  config.Config
	Store   *sqlstore.Store
	Service *dashboard.Service
	Users   *auth.UserService
	// Authn is nil when no auth secret is configured.
	Authn *auth.Authenticator
}

// Open connects to the database, applies migrations when configured to and
// builds the service graph.
func Open(ctx context.Context, cfg config.Config) (*App, error) {
	store, err := sqlstore.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a := &App{Config: cfg, Store: store}
	if err := a.build(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	if err := a.Store.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	if a.Config.AutoMigrate {
		mgr, err := Migrator(a.Store)
		if err != nil {
			return err
		}
		if err := mgr.Up(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	engine, err := auth.NewEngine(a.Config.PIIPolicy())
	if err != nil {
		return err
	}
	recorder, err := audit.NewRecorder(a.Store)
	if err != nil {
		return err
	}
	if a.Service, err = dashboard.New(a.Store, engine, recorder, a.Config.DefaultBands); err != nil {
		return err
	}
	if a.Users, err = auth.NewUserService(a.Store); err != nil {
		return err
	}
	if a.Config.AuthSecret == "" {
		obs.Log("warn", "auth secret not configured; API requests will be rejected", nil)
		return nil
	}
	var opts []auth.AuthenticatorOption
	if a.Config.AuthIssuer != "" {
		opts = append(opts, auth.WithIssuer(a.Config.AuthIssuer))
	}
	a.Authn, err = auth.NewAuthenticator(a.Store, a.Config.AuthSecret, opts...)
	return err
}

// Migrator returns a migration manager over the dialect's embedded files.
func Migrator(store *sqlstore.Store) (*migrate.Manager, error) {
	dialect := store.Dialect()
	fsys, err := dialect.Migrations()
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	return migrate.NewManager(store.DB(), fsys, migrate.WithTimestampType(dialect.TimestampType)), nil
}

func (a *App) Close() error {
	return a.Store.Close()
}
