package main

import (
	"context"
	"fmt"
	"os"

	"github.com/selffetch-portal/auth/database"
)

// Applies pending schema migrations and exits. The server runs migrations
// on startup too; this command exists for deploy pipelines that migrate
// before rolling instances.
func main() {
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		fmt.Println("DATABASE_DSN not set")
		os.Exit(1)
	}

	if err := database.Migrate(context.Background(), dsn); err != nil {
		fmt.Printf("Migration failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Migrations applied")
}
