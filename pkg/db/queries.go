package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("record not found")

// ----------------------------------------
// Users / book classification
// ----------------------------------------

// CreateUser inserts a user row.
func (d *Database) CreateUser(ctx context.Context, u User) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO users (id, email, first_name, phone, password_hash, book_type, is_admin, is_blocked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.Email, u.FirstName, u.Phone, u.PasswordHash, normalizeBook(u.BookType), u.IsAdmin, u.IsBlocked)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByEmail fetches a user by email, or (nil, nil) when none exists.
func (d *Database) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, email, first_name, phone, password_hash, book_type, is_admin, is_blocked, created_at
		FROM users WHERE email = ?
	`, email)

	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.Phone, &u.PasswordHash, &u.BookType, &u.IsAdmin, &u.IsBlocked, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// GetUser fetches a single user by id.
func (d *Database) GetUser(ctx context.Context, id string) (*User, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, email, first_name, phone, book_type, is_admin, is_blocked, created_at
		FROM users WHERE id = ?
	`, id)

	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.Phone, &u.BookType, &u.IsAdmin, &u.IsBlocked, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// GetUserBookType returns the book classification for a user.
func (d *Database) GetUserBookType(ctx context.Context, userID string) (string, error) {
	var book string
	err := d.DB.QueryRowContext(ctx, `SELECT book_type FROM users WHERE id = ?`, userID).Scan(&book)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query book type: %w", err)
	}
	return normalizeBook(book), nil
}

// ListUsers returns users filtered by book type and/or a name/email/phone
// search term. Empty filters match everything.
func (d *Database) ListUsers(ctx context.Context, bookType, search string) ([]User, error) {
	query := `
		SELECT id, email, first_name, phone, book_type, is_admin, is_blocked, created_at
		FROM users WHERE 1=1`
	var args []any

	if bookType == BookA || bookType == BookB {
		query += ` AND book_type = ?`
		args = append(args, bookType)
	}
	if search != "" {
		query += ` AND (first_name LIKE ? OR email LIKE ? OR phone LIKE ?)`
		like := "%" + search + "%"
		args = append(args, like, like, like)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.FirstName, &u.Phone, &u.BookType, &u.IsAdmin, &u.IsBlocked, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.BookType = normalizeBook(u.BookType)
		users = append(users, u)
	}
	return users, rows.Err()
}

// AssignBook classifies one user as book A or B.
func (d *Database) AssignBook(ctx context.Context, userID, bookType string) error {
	if bookType != BookA && bookType != BookB {
		return fmt.Errorf("invalid book type %q", bookType)
	}
	res, err := d.DB.ExecContext(ctx, `
		UPDATE users SET book_type = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, bookType, userID)
	if err != nil {
		return fmt.Errorf("assign book: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// BulkAssignBook classifies many users at once.
func (d *Database) BulkAssignBook(ctx context.Context, userIDs []string, bookType string) error {
	if bookType != BookA && bookType != BookB {
		return fmt.Errorf("invalid book type %q", bookType)
	}
	if len(userIDs) == 0 {
		return nil
	}

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE users SET book_type = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range userIDs {
		if _, err := stmt.ExecContext(ctx, bookType, id); err != nil {
			return fmt.Errorf("bulk assign user %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// GetBookStats counts A and B book users. Users never classified count as B.
func (d *Database) GetBookStats(ctx context.Context) (BookStats, error) {
	var stats BookStats
	err := d.DB.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN book_type = 'A' THEN 1 END),
			COUNT(CASE WHEN book_type IS NULL OR book_type != 'A' THEN 1 END)
		FROM users
	`).Scan(&stats.TotalABook, &stats.TotalBBook)
	if err != nil {
		return stats, fmt.Errorf("book stats: %w", err)
	}
	stats.Total = stats.TotalABook + stats.TotalBBook
	return stats, nil
}

// ----------------------------------------
// Trades
// ----------------------------------------

// CreateTrade inserts a trade row.
func (d *Database) CreateTrade(ctx context.Context, t Trade) error {
	status := t.Status
	if status == "" {
		status = "OPEN"
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trades (id, user_id, symbol, side, volume, open_price, stop_loss, take_profit, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.UserID, t.Symbol, t.Side, t.Volume, t.OpenPrice, t.StopLoss, t.TakeProfit, status)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// GetTrade fetches a single trade by id.
func (d *Database) GetTrade(ctx context.Context, id string) (*Trade, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, user_id, symbol, side, volume, open_price, close_price, stop_loss, take_profit,
		       status, COALESCE(push_status, ''), COALESCE(position_id, ''), COALESCE(push_error, ''),
		       pushed_at, created_at, closed_at
		FROM trades WHERE id = ?
	`, id)
	return scanTrade(row)
}

// ListTrades returns recent trades, optionally for one user.
func (d *Database) ListTrades(ctx context.Context, userID string, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, user_id, symbol, side, volume, open_price, close_price, stop_loss, take_profit,
		       status, COALESCE(push_status, ''), COALESCE(position_id, ''), COALESCE(push_error, ''),
		       pushed_at, created_at, closed_at
		FROM trades`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, *t)
	}
	return trades, rows.Err()
}

// CloseTrade marks a trade CLOSED at the given price.
func (d *Database) CloseTrade(ctx context.Context, id string, closePrice float64) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE trades SET status = 'CLOSED', close_price = ?, closed_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'OPEN'
	`, closePrice, id)
	if err != nil {
		return fmt.Errorf("close trade: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTradePushStatus applies a push-pipeline status write. PositionID is
// only touched when the update carries one; pushed_at only when set.
func (d *Database) UpdateTradePushStatus(ctx context.Context, tradeID string, upd PushStatusUpdate) error {
	query := `UPDATE trades SET push_status = ?, push_error = ?`
	args := []any{upd.Status, nullableString(upd.Error)}

	if upd.PositionID != nil {
		query += `, position_id = ?`
		args = append(args, *upd.PositionID)
	}
	if upd.PushedAt != nil {
		query += `, pushed_at = ?`
		args = append(args, upd.PushedAt.UTC())
	}
	query += ` WHERE id = ?`
	args = append(args, tradeID)

	res, err := d.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update push status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetPushStats aggregates push outcomes across all trades.
func (d *Database) GetPushStats(ctx context.Context) (PushStats, error) {
	var stats PushStats
	err := d.DB.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN push_status = 'PUSHED' THEN 1 END),
			COUNT(CASE WHEN push_status IN ('FAILED', 'CLOSE_FAILED') THEN 1 END),
			COUNT(CASE WHEN push_status = 'PENDING' THEN 1 END)
		FROM trades
	`).Scan(&stats.Pushed, &stats.Failed, &stats.Pending)
	if err != nil {
		return stats, fmt.Errorf("push stats: %w", err)
	}
	return stats, nil
}

// CountTrades returns open and total trade counts for one user.
func (d *Database) CountTrades(ctx context.Context, userID string) (open, total int, err error) {
	err = d.DB.QueryRowContext(ctx, `
		SELECT COUNT(CASE WHEN status = 'OPEN' THEN 1 END), COUNT(*)
		FROM trades WHERE user_id = ?
	`, userID).Scan(&open, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("count trades: %w", err)
	}
	return open, total, nil
}

// ----------------------------------------
// Broker settings (singleton row)
// ----------------------------------------

// GetSettings returns the settings row, creating the empty singleton first if
// it does not exist yet.
func (d *Database) GetSettings(ctx context.Context) (*BrokerSettings, error) {
	if _, err := d.DB.ExecContext(ctx, `
		INSERT INTO broker_settings (id) VALUES (1) ON CONFLICT(id) DO NOTHING
	`); err != nil {
		return nil, fmt.Errorf("ensure settings row: %w", err)
	}

	row := d.DB.QueryRowContext(ctx, `
		SELECT token, account_id, region, label, is_active, last_connected_at
		FROM broker_settings WHERE id = 1
	`)

	var s BrokerSettings
	var lastConnected sql.NullTime
	if err := row.Scan(&s.Token, &s.AccountID, &s.Region, &s.Label, &s.IsActive, &lastConnected); err != nil {
		return nil, fmt.Errorf("scan settings: %w", err)
	}
	if lastConnected.Valid {
		t := lastConnected.Time
		s.LastConnectedAt = &t
	}
	return &s, nil
}

// SaveSettings upserts the settings row. Activating a populated credential
// set stamps last_connected_at.
func (d *Database) SaveSettings(ctx context.Context, s BrokerSettings) error {
	var lastConnected any
	if s.LastConnectedAt != nil {
		lastConnected = s.LastConnectedAt.UTC()
	} else if s.IsActive && s.Token != "" && s.AccountID != "" {
		lastConnected = time.Now().UTC()
	}

	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO broker_settings (id, token, account_id, region, label, is_active, last_connected_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			token = excluded.token,
			account_id = excluded.account_id,
			region = excluded.region,
			label = excluded.label,
			is_active = excluded.is_active,
			last_connected_at = excluded.last_connected_at,
			updated_at = CURRENT_TIMESTAMP
	`, s.Token, s.AccountID, s.Region, s.Label, s.IsActive, lastConnected)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// ClearSettings wipes credentials and deactivates the upstream connection.
func (d *Database) ClearSettings(ctx context.Context) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE broker_settings SET token = '', account_id = '', is_active = 0,
			last_connected_at = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
	`)
	if err != nil {
		return fmt.Errorf("clear settings: %w", err)
	}
	return nil
}

// ----------------------------------------
// helpers
// ----------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(row rowScanner) (*Trade, error) {
	var t Trade
	var closePrice sql.NullFloat64
	var pushedAt, closedAt sql.NullTime

	err := row.Scan(&t.ID, &t.UserID, &t.Symbol, &t.Side, &t.Volume, &t.OpenPrice, &closePrice,
		&t.StopLoss, &t.TakeProfit, &t.Status, &t.PushStatus, &t.PositionID, &t.PushError,
		&pushedAt, &t.CreatedAt, &closedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan trade: %w", err)
	}

	if closePrice.Valid {
		v := closePrice.Float64
		t.ClosePrice = &v
	}
	if pushedAt.Valid {
		v := pushedAt.Time
		t.PushedAt = &v
	}
	if closedAt.Valid {
		v := closedAt.Time
		t.ClosedAt = &v
	}
	return &t, nil
}

func normalizeBook(book string) string {
	if book == BookA {
		return BookA
	}
	return BookB
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
