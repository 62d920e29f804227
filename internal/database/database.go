package database

import (
	"database/sql"
	"encoding/json"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hnguyen/pitchside/internal/models"
)

// savedPicksKey is the single app_state slot holding the whole pick history.
const savedPicksKey = "saved_picks"

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// New creates a new database connection and initializes schema
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, err
	}

	log.Printf("Database initialized at %s", dbPath)
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	schema := `
	-- Application state blobs (one slot per key)
	CREATE TABLE IF NOT EXISTS app_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Notification preferences (single user for now)
	CREATE TABLE IF NOT EXISTS preferences (
		id INTEGER PRIMARY KEY CHECK (id = 1),

		enable_push BOOLEAN DEFAULT false,
		push_subscription TEXT,

		-- Quiet hours
		quiet_start TEXT DEFAULT '23:00',
		quiet_end TEXT DEFAULT '08:00',
		timezone TEXT DEFAULT 'Asia/Ho_Chi_Minh',

		-- Rate limits (per hour)
		rate_limit_push INTEGER DEFAULT 20,

		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Insert default preferences if not exists
	INSERT OR IGNORE INTO preferences (id) VALUES (1);

	-- Which pick resolutions have already been announced
	CREATE TABLE IF NOT EXISTS notified_picks (
		pick_id TEXT NOT NULL,
		status TEXT NOT NULL,
		notified_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(pick_id, status)
	);

	-- Rate limit tracking
	CREATE TABLE IF NOT EXISTS rate_limits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel TEXT NOT NULL,
		window_start TIMESTAMP NOT NULL,
		count INTEGER DEFAULT 0,
		UNIQUE(channel, window_start)
	);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// LoadPicks reads the saved pick collection. A missing or corrupt blob
// degrades to an empty collection; startup never fails on bad history.
func (db *DB) LoadPicks() ([]models.SavedPick, error) {
	var blob string
	err := db.conn.QueryRow(`SELECT value FROM app_state WHERE key = ?`, savedPicksKey).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var picks []models.SavedPick
	if err := json.Unmarshal([]byte(blob), &picks); err != nil {
		log.Printf("Saved picks blob is corrupt, starting empty: %v", err)
		return nil, nil
	}
	return picks, nil
}

// SavePicks rewrites the whole pick collection in one slot.
func (db *DB) SavePicks(picks []models.SavedPick) error {
	if picks == nil {
		picks = []models.SavedPick{}
	}
	blob, err := json.Marshal(picks)
	if err != nil {
		return err
	}
	_, err = db.conn.Exec(`
		INSERT INTO app_state (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`, savedPicksKey, string(blob))
	return err
}

// Preferences represents user notification preferences
type Preferences struct {
	EnablePush       bool   `json:"enable_push"`
	PushSubscription string `json:"push_subscription,omitempty"`

	// Quiet hours
	QuietStart string `json:"quiet_start"`
	QuietEnd   string `json:"quiet_end"`
	Timezone   string `json:"timezone"`

	// Rate limits
	RateLimitPush int `json:"rate_limit_push"`

	UpdatedAt time.Time `json:"updated_at"`
}

// GetPreferences retrieves user preferences
func (db *DB) GetPreferences() (*Preferences, error) {
	row := db.conn.QueryRow(`
		SELECT enable_push, push_subscription,
			   quiet_start, quiet_end, timezone,
			   rate_limit_push, updated_at
		FROM preferences WHERE id = 1
	`)

	var p Preferences
	var pushSub sql.NullString

	err := row.Scan(
		&p.EnablePush, &pushSub,
		&p.QuietStart, &p.QuietEnd, &p.Timezone,
		&p.RateLimitPush, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if pushSub.Valid {
		p.PushSubscription = pushSub.String
	}
	return &p, nil
}

// SetPushSubscription updates the push subscription
func (db *DB) SetPushSubscription(subscription string) error {
	_, err := db.conn.Exec(`
		UPDATE preferences SET
			push_subscription = ?,
			enable_push = true,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
	`, subscription)
	return err
}

// Unsubscribe disables push notifications
func (db *DB) Unsubscribe() error {
	_, err := db.conn.Exec(`
		UPDATE preferences SET
			enable_push = false,
			push_subscription = NULL,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
	`)
	return err
}

// WasNotified reports whether a pick's resolution was already announced.
func (db *DB) WasNotified(pickID string, status models.PickStatus) (bool, error) {
	row := db.conn.QueryRow(`
		SELECT 1 FROM notified_picks WHERE pick_id = ? AND status = ?
	`, pickID, string(status))

	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkNotified records that a pick's resolution was announced.
func (db *DB) MarkNotified(pickID string, status models.PickStatus) error {
	_, err := db.conn.Exec(`
		INSERT INTO notified_picks (pick_id, status)
		VALUES (?, ?)
		ON CONFLICT(pick_id, status) DO UPDATE SET notified_at = CURRENT_TIMESTAMP
	`, pickID, string(status))
	return err
}

// CheckRateLimit checks if we can send on a channel
func (db *DB) CheckRateLimit(channel string, limit int) (bool, int, error) {
	windowStart := time.Now().Truncate(time.Hour)

	row := db.conn.QueryRow(`
		SELECT count FROM rate_limits
		WHERE channel = ? AND window_start = ?
	`, channel, windowStart)

	var count int
	err := row.Scan(&count)
	if err == sql.ErrNoRows {
		count = 0
	} else if err != nil {
		return false, 0, err
	}

	remaining := limit - count
	return count < limit, remaining, nil
}

// IncrementRateLimit increments the rate limit counter
func (db *DB) IncrementRateLimit(channel string) error {
	windowStart := time.Now().Truncate(time.Hour)

	_, err := db.conn.Exec(`
		INSERT INTO rate_limits (channel, window_start, count)
		VALUES (?, ?, 1)
		ON CONFLICT(channel, window_start)
		DO UPDATE SET count = count + 1
	`, channel, windowStart)
	return err
}

// CleanupOldRateLimits removes old rate limit records
func (db *DB) CleanupOldRateLimits() error {
	_, err := db.conn.Exec(`
		DELETE FROM rate_limits
		WHERE window_start < datetime('now', '-2 hours')
	`)
	return err
}
