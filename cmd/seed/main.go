// Command seed sets up the database schema for the configured environment.
// Table names carry the environment prefix, so dev, test, and prod schemas
// coexist in one database.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"valet/internal/config"
	"valet/internal/repository/postgres"
)

func main() {
	dropTables := flag.Bool("drop-tables", false, "Drop all tables before creating them (fresh start)")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	// Destructive operations stay out of prod.
	if cfg.Environment == "prod" && *dropTables {
		log.Fatal("BLOCKED: cannot run --drop-tables in the prod environment")
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	log.Printf("Setting up schema (environment: %s, prefix: %s)", cfg.Environment, cfg.TablePrefix)

	ctx := context.Background()
	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	tables := postgres.NewTableNames(cfg.TablePrefix)

	if *dropTables {
		log.Println("Dropping all tables...")
		if err := dropAllTables(ctx, pool, tables); err != nil {
			log.Fatalf("Failed to drop tables: %v", err)
		}
		log.Println("Tables dropped")
	}

	if err := runSchema(ctx, pool, tables, cfg.TablePrefix); err != nil {
		log.Fatalf("Failed to run schema: %v", err)
	}
	log.Println("Schema ready")
}

// runSchema creates tables if they don't exist
func runSchema(ctx context.Context, pool *pgxpool.Pool, tables *postgres.TableNames, tablePrefix string) error {
	createConversations := `
		CREATE TABLE IF NOT EXISTS ` + tables.Conversations + ` (
			id UUID PRIMARY KEY,
			user_name TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			compressed_at TIMESTAMPTZ,
			compressed_context TEXT
		)
	`
	if _, err := pool.Exec(ctx, createConversations); err != nil {
		return err
	}

	createTurns := `
		CREATE TABLE IF NOT EXISTS ` + tables.Turns + ` (
			id UUID PRIMARY KEY,
			conversation_id UUID NOT NULL REFERENCES ` + tables.Conversations + `(id) ON DELETE CASCADE,
			is_thinking_mode BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	if _, err := pool.Exec(ctx, createTurns); err != nil {
		return err
	}

	createMessages := `
		CREATE TABLE IF NOT EXISTS ` + tables.Messages + ` (
			id UUID PRIMARY KEY,
			conversation_id UUID NOT NULL REFERENCES ` + tables.Conversations + `(id) ON DELETE CASCADE,
			turn_id UUID NOT NULL REFERENCES ` + tables.Turns + `(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			replaced_by_message_id UUID,
			is_edited BOOLEAN NOT NULL DEFAULT FALSE,
			attached_paths TEXT[],
			requested_skill_ids TEXT[]
		)
	`
	if _, err := pool.Exec(ctx, createMessages); err != nil {
		return err
	}

	createToolCalls := `
		CREATE TABLE IF NOT EXISTS ` + tables.ToolCalls + ` (
			id UUID PRIMARY KEY,
			conversation_id UUID NOT NULL REFERENCES ` + tables.Conversations + `(id) ON DELETE CASCADE,
			turn_id UUID NOT NULL REFERENCES ` + tables.Turns + `(id) ON DELETE CASCADE,
			tool_name TEXT NOT NULL,
			arguments TEXT,
			result TEXT,
			sort_order INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	if _, err := pool.Exec(ctx, createToolCalls); err != nil {
		return err
	}

	createThinkBlocks := `
		CREATE TABLE IF NOT EXISTS ` + tables.ThinkBlocks + ` (
			id UUID PRIMARY KEY,
			conversation_id UUID NOT NULL REFERENCES ` + tables.Conversations + `(id) ON DELETE CASCADE,
			turn_id UUID NOT NULL REFERENCES ` + tables.Turns + `(id) ON DELETE CASCADE,
			content TEXT NOT NULL,
			sort_order INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	if _, err := pool.Exec(ctx, createThinkBlocks); err != nil {
		return err
	}

	createTasks := `
		CREATE TABLE IF NOT EXISTS ` + tables.Tasks + ` (
			id UUID PRIMARY KEY,
			conversation_id UUID NOT NULL REFERENCES ` + tables.Conversations + `(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			sort_order INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	if _, err := pool.Exec(ctx, createTasks); err != nil {
		return err
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_` + tablePrefix + `conversations_user ON ` + tables.Conversations + `(user_name, updated_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_` + tablePrefix + `turns_conversation ON ` + tables.Turns + `(conversation_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_` + tablePrefix + `messages_conversation ON ` + tables.Messages + `(conversation_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_` + tablePrefix + `messages_turn ON ` + tables.Messages + `(turn_id)`,
		`CREATE INDEX IF NOT EXISTS idx_` + tablePrefix + `tool_calls_turn ON ` + tables.ToolCalls + `(turn_id)`,
		`CREATE INDEX IF NOT EXISTS idx_` + tablePrefix + `think_blocks_turn ON ` + tables.ThinkBlocks + `(turn_id)`,
		`CREATE INDEX IF NOT EXISTS idx_` + tablePrefix + `tasks_conversation ON ` + tables.Tasks + `(conversation_id, sort_order)`,
	}
	for _, indexSQL := range indexes {
		if _, err := pool.Exec(ctx, indexSQL); err != nil {
			return err
		}
	}

	return nil
}

// dropAllTables drops all tables in reverse order (to respect foreign keys)
func dropAllTables(ctx context.Context, pool *pgxpool.Pool, tables *postgres.TableNames) error {
	tableNames := []string{
		tables.Tasks,
		tables.ThinkBlocks,
		tables.ToolCalls,
		tables.Messages,
		tables.Turns,
		tables.Conversations,
	}

	for _, table := range tableNames {
		if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE"); err != nil {
			return err
		}
		log.Printf("  dropped %s", table)
	}

	return nil
}
