package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Raywonder/flexpbx-mailer/internal/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "mail.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	return db
}

func testConfig(active bool) *models.SMTPConfig {
	return &models.SMTPConfig{
		Host:        "smtp.example.com",
		Port:        587,
		Security:    models.SecurityTLS,
		Username:    "mailer",
		PasswordEnc: "ZW5j",
		PasswordIV:  "aXY=",
		FromAddress: "noreply@example.com",
		FromName:    "Example",
		MaxAttempts: 3,
		SendTimeout: 30 * time.Second,
		RatePerHour: 100,
		Active:      active,
	}
}

func TestConfigSaveAndActive(t *testing.T) {
	db := openTestDB(t)
	repo := NewConfigRepository(db.DB)
	ctx := context.Background()

	active, err := repo.Active(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if active != nil {
		t.Fatalf("expected no active config, got %+v", active)
	}

	cfg := testConfig(true)
	if err := repo.Save(ctx, cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.ID == 0 {
		t.Fatal("ID not assigned on insert")
	}

	active, err = repo.Active(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if active == nil || active.ID != cfg.ID {
		t.Fatalf("Active = %+v, want id %d", active, cfg.ID)
	}
	if active.Security != models.SecurityTLS {
		t.Errorf("Security = %q", active.Security)
	}
	if active.SendTimeout != 30*time.Second {
		t.Errorf("SendTimeout = %v", active.SendTimeout)
	}
	if active.PasswordEnc != "ZW5j" || active.PasswordIV != "aXY=" {
		t.Errorf("encrypted credential not round-tripped: %q %q", active.PasswordEnc, active.PasswordIV)
	}
}

func TestConfigExactlyOneActive(t *testing.T) {
	db := openTestDB(t)
	repo := NewConfigRepository(db.DB)
	ctx := context.Background()

	first := testConfig(true)
	if err := repo.Save(ctx, first); err != nil {
		t.Fatal(err)
	}

	second := testConfig(true)
	second.Host = "smtp2.example.com"
	if err := repo.Save(ctx, second); err != nil {
		t.Fatal(err)
	}

	active, err := repo.Active(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if active.ID != second.ID {
		t.Errorf("active id = %d, want %d", active.ID, second.ID)
	}

	// The first config was deactivated, not deleted.
	old, err := repo.Get(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if old == nil {
		t.Fatal("first config deleted")
	}
	if old.Active {
		t.Error("first config still active")
	}
}

func TestConfigUpdate(t *testing.T) {
	db := openTestDB(t)
	repo := NewConfigRepository(db.DB)
	ctx := context.Background()

	cfg := testConfig(true)
	if err := repo.Save(ctx, cfg); err != nil {
		t.Fatal(err)
	}

	cfg.Host = "relay.example.net"
	cfg.MaxAttempts = 5
	if err := repo.Save(ctx, cfg); err != nil {
		t.Fatal(err)
	}

	got, err := repo.Get(ctx, cfg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Host != "relay.example.net" || got.MaxAttempts != 5 {
		t.Errorf("updated config = %+v", got)
	}
}

func TestConfigRejectsZeroAttempts(t *testing.T) {
	db := openTestDB(t)
	repo := NewConfigRepository(db.DB)

	cfg := testConfig(true)
	cfg.MaxAttempts = 0
	if err := repo.Save(context.Background(), cfg); err == nil {
		t.Error("expected error for max_attempts 0")
	}
}

func TestConfigGetMissing(t *testing.T) {
	db := openTestDB(t)
	repo := NewConfigRepository(db.DB)

	got, err := repo.Get(context.Background(), 999)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("Get(999) = %+v, want nil", got)
	}
}
