package sqlstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-psd2-connector/core"
	connectormigrations "github.com/goliatone/go-psd2-connector/migrations"
	sqlstore "github.com/goliatone/go-psd2-connector/store/sql"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-psd2-connector-tests"
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:connector-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = connectormigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != connectormigrations.DialectSQLite {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, connectormigrations.WithValidationTargets(connectormigrations.DialectSQLite))
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}

func newTestTokenStore(t *testing.T) (*sqlstore.TokenStore, func()) {
	t.Helper()
	client, cleanup := newSQLiteClient(t)
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		cleanup()
		t.Fatalf("new repository factory: %v", err)
	}
	store := factory.TokenStore()
	if store == nil {
		cleanup()
		t.Fatalf("expected token store from factory")
	}
	return store, cleanup
}

func unconfirmedToken(sessionSecret string, expiresAt time.Time) core.Token {
	now := time.Now().UTC()
	return core.Token{
		ID:                uuid.NewString(),
		SessionSecret:     sessionSecret,
		ProviderCode:      "demobank",
		TPPAppName:        "Spendwise",
		AuthorizationType: "oauth",
		Status:            core.TokenStatusUnconfirmed,
		TokenExpiresAt:    expiresAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	var tableName string
	if err := client.DB().NewRaw(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
		"connector_tokens",
	).Scan(context.Background(), &tableName); err != nil {
		t.Fatalf("query sqlite master: %v", err)
	}
	if tableName != "connector_tokens" {
		t.Fatalf("expected connector_tokens table, got %q", tableName)
	}
}

func TestTokenStore_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	store, cleanup := newTestTokenStore(t)
	defer cleanup()

	expiresAt := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	created, err := store.Create(ctx, unconfirmedToken("session-1", expiresAt))
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	found, err := store.FindBySessionSecret(ctx, "session-1")
	if err != nil {
		t.Fatalf("find by session secret: %v", err)
	}
	if found.ID != created.ID || found.Status != core.TokenStatusUnconfirmed {
		t.Fatalf("unexpected token: %+v", found)
	}
	if found.Consent != nil {
		t.Fatalf("deferred token must round-trip without consent, got %+v", found.Consent)
	}

	if _, err := store.FindBySessionSecret(ctx, "nobody"); !errors.Is(err, core.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got: %v", err)
	}
	if _, err := store.FindByAccessToken(ctx, "nothing"); !errors.Is(err, core.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got: %v", err)
	}

	if _, err := store.Create(ctx, unconfirmedToken("session-1", expiresAt)); err == nil {
		t.Fatalf("expected unique session secret constraint violation")
	}
}

func TestTokenStore_SaveCASRoundTripsConsent(t *testing.T) {
	ctx := context.Background()
	store, cleanup := newTestTokenStore(t)
	defer cleanup()

	expiresAt := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	created, err := store.Create(ctx, unconfirmedToken("session-1", expiresAt))
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	created.UserID = "user-7"
	created.AccessToken = uuid.NewString()
	created.Consent = &core.Consent{
		Scope:      core.ScopeAccounts,
		Accounts:   []string{"acc-1", "acc-2"},
		ValidUntil: expiresAt,
	}
	created.Status = core.TokenStatusConfirmed

	saved, err := store.SaveCAS(ctx, created, core.TokenStatusUnconfirmed)
	if err != nil {
		t.Fatalf("save cas: %v", err)
	}
	if saved.Status != core.TokenStatusConfirmed {
		t.Fatalf("expected CONFIRMED, got %q", saved.Status)
	}

	found, err := store.FindByAccessToken(ctx, created.AccessToken)
	if err != nil {
		t.Fatalf("find by access token: %v", err)
	}
	if found.UserID != "user-7" {
		t.Fatalf("expected user bound, got %q", found.UserID)
	}
	if found.Consent == nil || found.Consent.Scope != core.ScopeAccounts || len(found.Consent.Accounts) != 2 {
		t.Fatalf("consent did not round-trip: %+v", found.Consent)
	}

	// The guard must reject a second write expecting the old status.
	if _, err := store.SaveCAS(ctx, created, core.TokenStatusUnconfirmed); !errors.Is(err, core.ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got: %v", err)
	}
	missing := created
	missing.ID = uuid.NewString()
	if _, err := store.SaveCAS(ctx, missing, core.TokenStatusUnconfirmed); !errors.Is(err, core.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got: %v", err)
	}
}

func TestTokenStore_UpdateStatusCAS(t *testing.T) {
	ctx := context.Background()
	store, cleanup := newTestTokenStore(t)
	defer cleanup()

	expiresAt := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	created, err := store.Create(ctx, unconfirmedToken("session-1", expiresAt))
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	created.AccessToken = uuid.NewString()
	created.Status = core.TokenStatusConfirmed
	if _, err := store.SaveCAS(ctx, created, core.TokenStatusUnconfirmed); err != nil {
		t.Fatalf("confirm token: %v", err)
	}

	revoked, err := store.UpdateStatusCAS(ctx, created.ID, core.TokenStatusConfirmed, core.TokenStatusRevoked)
	if err != nil {
		t.Fatalf("update status cas: %v", err)
	}
	if revoked.Status != core.TokenStatusRevoked {
		t.Fatalf("expected REVOKED, got %q", revoked.Status)
	}
	if revoked.AccessToken != "" {
		t.Fatalf("leaving CONFIRMED must clear the access token")
	}
	if _, err := store.FindByAccessToken(ctx, created.AccessToken); !errors.Is(err, core.ErrTokenNotFound) {
		t.Fatalf("cleared access token must not resolve, got: %v", err)
	}

	if _, err := store.UpdateStatusCAS(ctx, created.ID, core.TokenStatusConfirmed, core.TokenStatusExpired); !errors.Is(err, core.ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got: %v", err)
	}
	if _, err := store.UpdateStatusCAS(ctx, uuid.NewString(), core.TokenStatusConfirmed, core.TokenStatusExpired); !errors.Is(err, core.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got: %v", err)
	}
}

func TestTokenStore_ListExpired(t *testing.T) {
	ctx := context.Background()
	store, cleanup := newTestTokenStore(t)
	defer cleanup()

	now := time.Now().UTC().Truncate(time.Second)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	expired, err := store.Create(ctx, unconfirmedToken("session-old", past))
	if err != nil {
		t.Fatalf("create expired token: %v", err)
	}
	if _, err := store.Create(ctx, unconfirmedToken("session-live", future)); err != nil {
		t.Fatalf("create live token: %v", err)
	}
	revokedSeed := unconfirmedToken("session-revoked", past)
	revokedToken, err := store.Create(ctx, revokedSeed)
	if err != nil {
		t.Fatalf("create revoked token: %v", err)
	}
	if _, err := store.UpdateStatusCAS(ctx, revokedToken.ID, core.TokenStatusUnconfirmed, core.TokenStatusRevoked); err != nil {
		t.Fatalf("revoke token: %v", err)
	}

	list, err := store.ListExpired(ctx, now, 10)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(list) != 1 || list[0].ID != expired.ID {
		t.Fatalf("expected exactly the expired live token, got %+v", list)
	}
}
