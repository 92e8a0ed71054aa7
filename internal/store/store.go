// Package store реализует слой сохранения: управление схемой, идемпотентный
// upsert хитов и ведение watermark по каждому чату, на database/sql с
// чисто-Go драйвером modernc.org/sqlite. Upsert никогда не заменяет
// непустой text_ja пустым, а watermark никогда не двигается назад; оба
// правила зашиты прямо в SQL.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	_ "modernc.org/sqlite"

	"teleosint/internal/infra/storage"
	"teleosint/internal/model"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS messages (
	pk INTEGER PRIMARY KEY,
	chat_id INTEGER,
	chat_title TEXT,
	chat_username TEXT,
	date TEXT,
	message_id INTEGER,
	text TEXT,
	lang TEXT,
	matched_keywords TEXT,
	score INTEGER,
	url TEXT,
	text_ja TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_chat_msg ON messages(chat_id, message_id);

CREATE TABLE IF NOT EXISTS state (
	chat_id INTEGER PRIMARY KEY,
	last_msg_id INTEGER,
	last_date TEXT
);
`

const upsertMessageSQL = `
INSERT INTO messages(
	pk, chat_id, chat_title, chat_username, date, message_id, text, lang, matched_keywords, score, url, text_ja
) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(pk) DO UPDATE SET
	chat_title       = excluded.chat_title,
	chat_username    = excluded.chat_username,
	date             = excluded.date,
	text             = excluded.text,
	lang             = excluded.lang,
	matched_keywords = excluded.matched_keywords,
	score            = excluded.score,
	url              = excluded.url,
	text_ja          = CASE
	                     WHEN excluded.text_ja IS NOT NULL AND excluded.text_ja <> ''
	                     THEN excluded.text_ja
	                     ELSE messages.text_ja
	                   END;
`

const upsertStateSQL = `
INSERT INTO state(chat_id, last_msg_id, last_date)
VALUES (?, ?, ?)
ON CONFLICT(chat_id) DO UPDATE SET
	last_msg_id = CASE WHEN excluded.last_msg_id > state.last_msg_id OR state.last_msg_id IS NULL
	                   THEN excluded.last_msg_id ELSE state.last_msg_id END,
	last_date   = CASE WHEN excluded.last_msg_id > state.last_msg_id OR state.last_msg_id IS NULL
	                   THEN excluded.last_date   ELSE state.last_date   END;
`

// Store оборачивает один общий *sql.DB. Пишет только сторона сбора; каждая
// запись коммитится сразу (ни одна транзакция не пересекает блокирующий
// вызов).
type Store struct {
	db *sql.DB
}

// Open создаёт родительский каталог, открывает path с прагмами
// WAL/NORMAL-sync/temp-store-в-памяти, создаёт схему при её отсутствии и
// мигрирует колонку text_ja, если её нет (обновление со старой установки).
func Open(path string) (*Store, error) {
	if err := storage.EnsureDir(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Одно общее соединение соответствует модели единственного писателя;
	// заодно уходит ошибка "database is locked" под драйвером
	// modernc.org/sqlite.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=MEMORY;",
		"PRAGMA cache_size=-20000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: apply pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	if err := migrateTextJA(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func migrateTextJA(db *sql.DB) error {
	rows, err := db.Query("PRAGMA table_info(messages)")
	if err != nil {
		return fmt.Errorf("store: inspect schema: %w", err)
	}
	defer rows.Close()

	hasTextJA := false
	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notNull    int
			dflt       sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &primaryKey); err != nil {
			return fmt.Errorf("store: scan schema row: %w", err)
		}
		if name == "text_ja" {
			hasTextJA = true
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if hasTextJA {
		return nil
	}
	if _, err := db.Exec("ALTER TABLE messages ADD COLUMN text_ja TEXT;"); err != nil {
		return fmt.Errorf("store: migrate text_ja column: %w", err)
	}
	return nil
}

// Close освобождает соединение.
func (s *Store) Close() error {
	return s.db.Close()
}

// AlreadyScored сообщает, есть ли уже строка для (chatID, messageID).
func (s *Store) AlreadyScored(ctx context.Context, chatID int64, messageID int) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM messages WHERE chat_id = ? AND message_id = ? LIMIT 1", chatID, messageID,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: already_scored: %w", err)
	}
	return true, nil
}

// LastSeen возвращает watermark last_msg_id чата, либо 0, если он неизвестен.
func (s *Store) LastSeen(ctx context.Context, chatID int64) (int, error) {
	var lastMsgID sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT last_msg_id FROM state WHERE chat_id = ?", chatID).Scan(&lastMsgID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: last_seen: %w", err)
	}
	if !lastMsgID.Valid {
		return 0, nil
	}
	return int(lastMsgID.Int64), nil
}

// Persist за один вызов апсертит строку хита и watermark её чата. Нарушение
// уникальности от конкурентной вставки считается успехом; на практике
// ON CONFLICT разрешает конфликты до того, как они всплывут ошибкой, так
// что проверка покрывает только уникальный индекс (chat_id, message_id).
func (s *Store) Persist(ctx context.Context, hit model.PersistedHit) error {
	pk := derivePK(hit.ChatID, hit.MessageID)
	matchedJSON, err := json.Marshal(hit.MatchedKeywords)
	if err != nil {
		return fmt.Errorf("store: marshal matched keywords: %w", err)
	}
	dateUTC := hit.DateUTC.UTC().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, upsertMessageSQL,
		pk, hit.ChatID, hit.ChatTitle, hit.ChatUsername, dateUTC, hit.MessageID,
		hit.Text, hit.Lang, string(matchedJSON), hit.Score, hit.URL, hit.TextJA,
	)
	if err != nil && !isUniqueConstraintErr(err) {
		return fmt.Errorf("store: upsert message: %w", err)
	}

	_, err = tx.ExecContext(ctx, upsertStateSQL, hit.ChatID, hit.MessageID, dateUTC)
	if err != nil && !isUniqueConstraintErr(err) {
		return fmt.Errorf("store: upsert state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func isUniqueConstraintErr(err error) bool {
	// modernc.org/sqlite отдаёт нарушения ограничений как *sqlite.Error с
	// текстом "UNIQUE constraint failed"; сравнение по строке избавляет от
	// type assertion на тип ошибки драйвера, чреватого циклом импортов.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// derivePK выводит стабильный устойчивый к коллизиям идентификатор строки из
// (chatID, messageID) через FNV-1a, с маской в положительный диапазон int63.
func derivePK(chatID int64, messageID int) int64 {
	h := fnv.New64a()
	var buf [16]byte
	putInt64(buf[:8], chatID)
	putInt64(buf[8:], int64(messageID))
	_, _ = h.Write(buf[:])
	return int64(h.Sum64() & 0x7fffffffffffffff)
}

func putInt64(b []byte, v int64) {
	u := uint64(v)
	for i := 0; i < 8; i++ {
		b[i] = byte(u >> (8 * i))
	}
}
