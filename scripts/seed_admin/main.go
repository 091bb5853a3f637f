// Command seed_admin bootstraps the first back-office administrator account.
// Run it once against a fresh database; subsequent admins are invited through
// the API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/campusreg/enroll-api/internal/models"
	"github.com/campusreg/enroll-api/internal/repository"
	"github.com/campusreg/enroll-api/pkg/config"
	"github.com/campusreg/enroll-api/pkg/database"
)

func main() {
	var (
		email    string
		fullName string
		password string
	)

	flag.StringVar(&email, "email", "", "Admin email address")
	flag.StringVar(&fullName, "name", "Administrator", "Admin display name")
	flag.StringVar(&password, "password", "", "Initial password (falls back to SEED_ADMIN_PASSWORD)")
	flag.Parse()

	if email == "" {
		log.Fatal("missing required -email flag")
	}
	if password == "" {
		password = os.Getenv("SEED_ADMIN_PASSWORD")
	}
	if len(password) < 8 {
		log.Fatal("password must be at least 8 characters; set -password or SEED_ADMIN_PASSWORD")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	users := repository.NewUserRepository(db)
	if existing, err := users.FindByEmail(ctx, email); err == nil && existing != nil {
		log.Fatalf("user %s already exists", email)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("failed to hash password: %v", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: string(hash),
		FullName:     fullName,
		Role:         models.RoleAdmin,
		Active:       true,
	}
	if err := users.Create(ctx, user); err != nil {
		log.Fatalf("failed to create admin: %v", err)
	}

	fmt.Printf("created admin %s (%s)\n", user.Email, user.ID)
}
