// seed inserts development sample data for local testing.
// Idempotent: skips inserts if the dev user (dev@example.com) already exists.
package main

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"session-control-plane/internal/config"
	"session-control-plane/internal/db"
	orgdomain "session-control-plane/internal/organization/domain"
	orgrepo "session-control-plane/internal/organization/repository"
	"session-control-plane/internal/security"
	userdomain "session-control-plane/internal/user/domain"
	userrepo "session-control-plane/internal/user/repository"
)

const (
	devUserEmail = "dev@example.com"
	devPassword  = "Password123"
	devOrgName   = "Dev Org"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	users := userrepo.NewPostgresRepository(conn)
	orgs := orgrepo.NewPostgresRepository(conn)

	existing, err := users.GetByEmail(ctx, devUserEmail)
	if err != nil {
		log.Fatalf("seed: lookup: %v", err)
	}
	if existing != nil {
		log.Printf("seed: %s already exists, nothing to do", devUserEmail)
		return
	}

	hasher := security.NewHasher(cfg.BcryptCost)
	hash, err := hasher.Hash([]byte(devPassword))
	if err != nil {
		log.Fatalf("seed: hash: %v", err)
	}

	now := time.Now().UTC()
	org := &orgdomain.Org{
		ID:        uuid.New().String(),
		Name:      devOrgName,
		Status:    orgdomain.OrgStatusActive,
		CreatedAt: now,
	}
	user := &userdomain.User{
		ID:           uuid.New().String(),
		Email:        devUserEmail,
		Name:         "Dev User",
		PasswordHash: hash,
		Role:         userdomain.RoleOwner,
		OrgID:        org.ID,
		Status:       userdomain.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := orgs.Create(ctx, org); err != nil {
		log.Fatalf("seed: create org: %v", err)
	}
	if err := users.Create(ctx, user); err != nil {
		log.Fatalf("seed: create user: %v", err)
	}
	log.Printf("seed: created %s in org %q", devUserEmail, devOrgName)
}
