package config

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var DB *pgxpool.Pool

// DSN builds the connection string for the configured database.
func (s DBSettings) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		s.User, s.Password, s.Host, s.Port, s.Name, s.SSLMode)
}

func ConnectDB(ctx context.Context, s DBSettings) error {
	cfg, err := pgxpool.ParseConfig(s.DSN())
	if err != nil {
		return fmt.Errorf("parse db config: %w", err)
	}

	cfg.MaxConns = int32(s.MaxConns)
	cfg.MinConns = int32(s.MinConns)
	cfg.MaxConnIdleTime = 2 * time.Minute
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.HealthCheckPeriod = 1 * time.Minute
	cfg.ConnConfig.ConnectTimeout = 10 * time.Second

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, "SET statement_timeout = 10000"); err != nil {
			return err
		}
		_, err := conn.Exec(ctx, "SET idle_in_transaction_session_timeout = 30000")
		return err
	}

	DB, err = pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	if err := DB.Ping(ctx); err != nil {
		DB.Close()
		DB = nil
		return fmt.Errorf("ping db: %w", err)
	}

	log.Println("✅ Database connected")
	return nil
}

// MonitorDB logs pool utilisation every minute until ctx is done.
func MonitorDB(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if DB == nil {
			continue
		}
		stats := DB.Stat()
		utilization := 0.0
		if stats.TotalConns() > 0 {
			utilization = (float64(stats.AcquiredConns()) / float64(stats.TotalConns())) * 100
		}
		log.Printf("📊 DB Pool: Total=%d, Active=%d, Idle=%d, Empty acquires=%d (%.1f%% utilized)",
			stats.TotalConns(), stats.AcquiredConns(), stats.IdleConns(), stats.EmptyAcquireCount(), utilization)
	}
}

func CloseDB() {
	if DB != nil {
		DB.Close()
		log.Println("✅ Database pool closed")
	}
}
