package main

import (
	"context"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bitredict/relayer/db/migrator"
)

func main() {
	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		log.Fatal("required environment variable not set: DATABASE_URL")
	}
	dir := os.Getenv("MIGRATIONS_DIR")
	if dir == "" {
		dir = "./db/migrations"
	}
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	m := migrator.New(pool, dir)
	if err := m.ApplyAll(ctx); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	log.Println("all migrations up to date")
}
