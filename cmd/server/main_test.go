package main

import (
	"context"
	"strings"
	"testing"

	"ventaspos/backend/internal/config"
	"ventaspos/backend/internal/store/memory"
)

func TestValidateSecurityConfig(t *testing.T) {
	valid := config.Config{
		AuthSecret:    strings.Repeat("s", 32),
		AllowedOrigin: "http://127.0.0.1:3000",
	}
	if err := validateSecurityConfig(valid); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	short := valid
	short.AuthSecret = "too-short"
	if err := validateSecurityConfig(short); err == nil {
		t.Fatal("short AUTH_SECRET accepted")
	}

	noOrigin := valid
	noOrigin.AllowedOrigin = "  "
	if err := validateSecurityConfig(noOrigin); err == nil {
		t.Fatal("blank ALLOWED_ORIGIN accepted")
	}
}

func TestBootstrapUsersCreatesAccountsFromEnv(t *testing.T) {
	t.Setenv("SEED_ADMIN_PASSWORD", "bootstrap-admin-pw")
	t.Setenv("SEED_CASHIER_PASSWORD", "bootstrap-cashier-pw")

	repo := memory.New()
	if err := bootstrapUsers(context.Background(), repo); err != nil {
		t.Fatalf("bootstrapUsers: %v", err)
	}

	users, err := repo.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("users = %d, want 2", len(users))
	}
	for _, user := range users {
		if !strings.HasPrefix(user.Password, "$2") {
			t.Fatalf("password for %s stored unhashed", user.Username)
		}
		if !user.Active {
			t.Fatalf("user %s created inactive", user.Username)
		}
	}

	// A second run against a populated store is a no-op.
	if err := bootstrapUsers(context.Background(), repo); err != nil {
		t.Fatalf("bootstrapUsers rerun: %v", err)
	}
	users, _ = repo.ListUsers(context.Background())
	if len(users) != 2 {
		t.Fatalf("rerun changed users: %d", len(users))
	}
}

func TestBootstrapUsersSkipsWithoutSeedPasswords(t *testing.T) {
	t.Setenv("SEED_ADMIN_PASSWORD", "")
	t.Setenv("SEED_CASHIER_PASSWORD", "")

	repo := memory.New()
	if err := bootstrapUsers(context.Background(), repo); err != nil {
		t.Fatalf("bootstrapUsers: %v", err)
	}
	users, _ := repo.ListUsers(context.Background())
	if len(users) != 0 {
		t.Fatalf("accounts created without seed passwords: %d", len(users))
	}
}
