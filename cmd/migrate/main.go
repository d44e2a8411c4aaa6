package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"autoforwardx/internal/migrations"
	"autoforwardx/internal/security"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

func main() {
	driver := flag.String("driver", "sqlite3", "Database driver (sqlite3 or postgres)")
	dsn := flag.String("dsn", "./autoforwardx.db", "Database connection string")
	list := flag.Bool("list", false, "List embedded migrations and exit")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if *list {
		all, err := migrations.All()
		if err != nil {
			logger.Fatalf("Failed to read migrations: %v", err)
		}
		for _, m := range all {
			fmt.Printf("%04d  %s\n", m.Version, m.Name)
		}
		return
	}

	if *driver == "sqlite3" {
		if err := security.ValidateSQLiteDSN(*dsn); err != nil {
			logger.Fatalf("Invalid database path: %v", err)
		}
		if _, err := os.Stat(*dsn); os.IsNotExist(err) {
			logger.Fatalf("Database file not found: %s", *dsn)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := sqlx.Open(*driver, *dsn)
	if err != nil {
		logger.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	applied, err := migrations.Apply(ctx, db)
	if err != nil {
		logger.WithField("applied", applied).Fatalf("Migration failed: %v", err)
	}

	if len(applied) == 0 {
		logger.Info("Schema is up to date")
		return
	}
	logger.WithField("versions", applied).Info("Migrations applied. You can now restart AutoForwardX.")
}
