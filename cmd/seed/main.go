// seed inserts development users so the login flows can be exercised locally.
// Idempotent: existing ids are left untouched. Refuses to run when APP_ENV=production.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"edu-platform/auth/internal/config"
	"edu-platform/auth/internal/db"
	"edu-platform/auth/internal/security"
	userdomain "edu-platform/auth/internal/user/domain"
	userrepo "edu-platform/auth/internal/user/repository"
)

const devPassword = "password123"

var devUsers = []userdomain.User{
	{ID: "dev-super-admin", Email: "superadmin@example.com", Role: userdomain.RoleSuperAdmin},
	{ID: "dev-admin", Email: "admin@example.com", Role: userdomain.RoleAdmin},
	{ID: "dev-teacher", Email: "teacher@example.com", Phone: "+15550100001", Role: userdomain.RoleInternalTeacher},
	{ID: "dev-external-teacher", Email: "tutor@example.com", Role: userdomain.RoleExternalTeacher},
	{ID: "dev-student", Phone: "+15550100002", Role: userdomain.RoleInternalStudent},
}

func main() {
	password := flag.String("password", devPassword, "Password set on every seeded user")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.IsProduction() {
		log.Fatal("seed: refusing to run with APP_ENV=production")
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is not set")
		os.Exit(1)
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	defer conn.Close()

	hash, err := security.NewHasher(cfg.BcryptCost).Hash([]byte(*password))
	if err != nil {
		log.Fatalf("seed: hash password: %v", err)
	}

	repo := userrepo.NewPostgresRepository(conn)
	for _, u := range devUsers {
		u.PasswordHash = hash
		created, err := repo.CreateIfAbsent(ctx, &u)
		if err != nil {
			log.Fatalf("seed: insert %s: %v", u.ID, err)
		}
		if created {
			log.Printf("seed: created %s (%s)", u.ID, u.Role)
		} else {
			log.Printf("seed: %s already exists, skipped", u.ID)
		}
	}
}
