package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kbchat/backend/internal/infrastructure/config"
	_ "modernc.org/sqlite"
)

// OpenDB 打开数据库连接
func OpenDB(dbPath string) (*sql.DB, error) {
	// 确保目录存在
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 启用 WAL 模式，避免读写互斥
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// 测试连接
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// ProvideDB 打开数据库并初始化表结构（wire provider）
func ProvideDB(cfg *config.Config) (*sql.DB, error) {
	db, err := OpenDB(cfg.ResolvedDBPath())
	if err != nil {
		return nil, err
	}

	if err := InitSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return db, nil
}

// InitSchema 初始化表结构
func InitSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS kb_files (
			id TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			original_name TEXT NOT NULL,
			mime_type TEXT NOT NULL,
			size INTEGER NOT NULL,
			storage_path TEXT NOT NULL,
			status TEXT NOT NULL,
			progress INTEGER NOT NULL,
			tags TEXT,
			auto_tags TEXT,
			summary TEXT,
			chunk_count INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			source TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_kb_files_status ON kb_files(status);`,

		`CREATE TABLE IF NOT EXISTS kb_chunks (
			id TEXT PRIMARY KEY,
			file_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			text TEXT NOT NULL,
			point_id TEXT,
			created_at INTEGER NOT NULL,
			UNIQUE(file_id, chunk_index)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_kb_chunks_file ON kb_chunks(file_id);`,

		`CREATE TABLE IF NOT EXISTS kb_ingest_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			file_id TEXT NOT NULL,
			stage TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 3,
			created_at INTEGER NOT NULL,
			next_retry_at INTEGER,
			last_error TEXT,
			UNIQUE(file_id, stage)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_kb_ingest_queue_status ON kb_ingest_queue(status);`,

		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			owner_key TEXT NOT NULL,
			mode TEXT NOT NULL,
			is_title_generated INTEGER NOT NULL DEFAULT 0,
			memory TEXT,
			summary TEXT,
			last_activity_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations(owner_key, last_activity_at);`,

		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			score INTEGER,
			is_training INTEGER NOT NULL DEFAULT 0,
			metadata TEXT,
			context_snapshot TEXT,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);`,

		`CREATE TABLE IF NOT EXISTS feedbacks (
			id TEXT PRIMARY KEY,
			question TEXT NOT NULL,
			answer TEXT NOT NULL,
			score INTEGER NOT NULL,
			meta TEXT,
			created_at INTEGER NOT NULL
		);`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}
