// Package database persists users, accounts, forwarding pairs and delivery
// logs. Store speaks SQLite or PostgreSQL through sqlx; MemoryStore backs
// tests and the "memory" driver.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "autoforwardx/internal/errors"
	"autoforwardx/internal/migrations"
	"autoforwardx/internal/models"
	"autoforwardx/internal/security"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Repository is the full persistence surface. Consumers declare the narrow
// subset they need.
type Repository interface {
	EnsureUser(ctx context.Context, userID string) (*models.User, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
	SetUserPlan(ctx context.Context, userID string, plan models.PlanTier, expiresAt *time.Time) error

	CreateAccount(ctx context.Context, account *models.Account) error
	CreateAccountWithin(ctx context.Context, account *models.Account, max int) (bool, error)
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	ListAccounts(ctx context.Context, userID string) ([]models.Account, error)
	UpdateAccountStatus(ctx context.Context, id string, status models.AccountStatus, reason string, lastSeen *time.Time) error
	DeleteAccount(ctx context.Context, id string) error
	CountAccountsByPlatform(ctx context.Context, userID string) (map[models.Platform]int, error)

	CreatePair(ctx context.Context, pair *models.ForwardingPair) error
	CreatePairWithin(ctx context.Context, pair *models.ForwardingPair, max int) (bool, error)
	UpdatePair(ctx context.Context, pair *models.ForwardingPair) error
	GetPair(ctx context.Context, id string) (*models.ForwardingPair, error)
	ListPairs(ctx context.Context, userID string) ([]models.ForwardingPair, error)
	DeletePair(ctx context.Context, id string) (bool, error)
	CountPairsByShape(ctx context.Context, userID string) (map[models.PairShape]int, error)
	CountPairsByAccount(ctx context.Context, accountID string) (int, error)
	UpdatePairCheckpoint(ctx context.Context, id, messageID string) error

	InsertDeliveryLog(ctx context.Context, entry *models.DeliveryLog) error
	FindDeliveryLog(ctx context.Context, pairID, sourceMessageID string) (*models.DeliveryLog, error)
	ListDeliveryLogs(ctx context.Context, userID, pairID string, limit int) ([]models.DeliveryLog, error)
	CountDeliveriesSince(ctx context.Context, userID string, since time.Time) (int, error)
	CleanupDeliveryLogs(ctx context.Context, before time.Time) (int64, error)

	Close() error
}

var (
	_ Repository = (*Store)(nil)
	_ Repository = (*MemoryStore)(nil)
)

// Store is the SQL-backed Repository.
type Store struct {
	db        *sqlx.DB
	encryptor *encryptor
}

// Open connects to driver/dsn, applies pending migrations and prepares
// credential encryption from secret (empty disables it).
func Open(ctx context.Context, driver, dsn, secret string) (*Store, error) {
	switch driver {
	case "sqlite3":
		if err := security.ValidateSQLiteDSN(dsn); err != nil {
			return nil, err
		}
	case "postgres":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == "sqlite3" {
		// Writers serialize on the file lock anyway.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := migrations.Apply(ctx, db); err != nil {
		_ = db.Close()
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseMigration, "failed to apply schema")
	}

	enc, err := newEncryptor(secret)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}

	return &Store{db: db, encryptor: enc}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) q(query string) string {
	return s.db.Rebind(query)
}

func (s *Store) EnsureUser(ctx context.Context, userID string) (*models.User, error) {
	err := withRetry(ctx, "ensure user", func() error {
		_, err := s.db.ExecContext(ctx, s.q(EnsureUserQuery), userID, string(models.PlanFree), time.Now().UTC())
		return err
	})
	if err != nil {
		return nil, apperrors.NewDatabaseError("ensure user", err)
	}
	return s.GetUser(ctx, userID)
}

func (s *Store) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	if err := s.db.GetContext(ctx, &user, s.q(GetUserQuery), userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("user", userID)
		}
		return nil, apperrors.NewDatabaseError("get user", err)
	}
	return &user, nil
}

func (s *Store) SetUserPlan(ctx context.Context, userID string, plan models.PlanTier, expiresAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, s.q(SetUserPlanQuery), string(plan), utcPtr(expiresAt), userID)
	if err != nil {
		return apperrors.NewDatabaseError("set user plan", err)
	}
	return requireRow(res, "user", userID)
}

func (s *Store) CreateAccount(ctx context.Context, account *models.Account) error {
	return s.insertAccount(ctx, s.db, account)
}

// CreateAccountWithin inserts account unless its owner already holds max
// accounts on that platform. The count and the insert share one transaction
// holding the owner's lock, so the cap holds across server instances.
func (s *Store) CreateAccountWithin(ctx context.Context, account *models.Account, max int) (bool, error) {
	created := false
	err := s.withUserTx(ctx, account.UserID, "create account", func(tx *sqlx.Tx) error {
		if max != models.Unlimited {
			var n int
			if err := tx.GetContext(ctx, &n, tx.Rebind(CountAccountsOfPlatformQuery), account.UserID, string(account.Platform)); err != nil {
				return apperrors.NewDatabaseError("count accounts", err)
			}
			if n >= max {
				return nil
			}
		}
		if err := s.insertAccount(ctx, tx, account); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (s *Store) insertAccount(ctx context.Context, ex sqlx.ExtContext, account *models.Account) error {
	credential, err := s.encryptor.Encrypt(account.Credential)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential: %w", err)
	}
	_, err = ex.ExecContext(ctx, ex.Rebind(InsertAccountQuery),
		account.ID, account.UserID, string(account.Platform), account.DisplayName, credential,
		string(account.Status), account.StatusReason, utcPtr(account.LastSeen),
		account.CreatedAt.UTC(), account.UpdatedAt.UTC())
	if err != nil {
		return writeError("create account", "account", account.ID, err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	var account models.Account
	if err := s.db.GetContext(ctx, &account, s.q(GetAccountQuery), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("account", id)
		}
		return nil, apperrors.NewDatabaseError("get account", err)
	}
	if err := s.decryptAccount(&account); err != nil {
		return nil, err
	}
	return &account, nil
}

// ListAccounts returns the accounts of userID, or every account when userID is empty.
func (s *Store) ListAccounts(ctx context.Context, userID string) ([]models.Account, error) {
	var accounts []models.Account
	var err error
	if userID == "" {
		err = s.db.SelectContext(ctx, &accounts, s.q(ListAllAccountsQuery))
	} else {
		err = s.db.SelectContext(ctx, &accounts, s.q(ListAccountsByUserQuery), userID)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("list accounts", err)
	}
	for i := range accounts {
		if err := s.decryptAccount(&accounts[i]); err != nil {
			return nil, err
		}
	}
	return accounts, nil
}

func (s *Store) decryptAccount(account *models.Account) error {
	plain, err := s.encryptor.Decrypt(account.Credential)
	if err != nil {
		return fmt.Errorf("failed to decrypt credential for account %s: %w", account.ID, err)
	}
	account.Credential = plain
	return nil
}

func (s *Store) UpdateAccountStatus(ctx context.Context, id string, status models.AccountStatus, reason string, lastSeen *time.Time) error {
	var res sql.Result
	err := withRetry(ctx, "update account status", func() error {
		var err error
		res, err = s.db.ExecContext(ctx, s.q(UpdateAccountStatusQuery), string(status), reason, utcPtr(lastSeen), time.Now().UTC(), id)
		return err
	})
	if err != nil {
		return apperrors.NewDatabaseError("update account status", err)
	}
	return requireRow(res, "account", id)
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.q(DeleteAccountQuery), id); err != nil {
		return apperrors.NewDatabaseError("delete account", err)
	}
	return nil
}

func (s *Store) CountAccountsByPlatform(ctx context.Context, userID string) (map[models.Platform]int, error) {
	var rows []struct {
		Platform models.Platform `db:"platform"`
		N        int             `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &rows, s.q(CountAccountsByPlatformQuery), userID); err != nil {
		return nil, apperrors.NewDatabaseError("count accounts", err)
	}
	counts := make(map[models.Platform]int, len(rows))
	for _, row := range rows {
		counts[row.Platform] = row.N
	}
	return counts, nil
}

func (s *Store) CreatePair(ctx context.Context, pair *models.ForwardingPair) error {
	return insertPair(ctx, s.db, pair)
}

// CreatePairWithin inserts pair unless its owner already holds max pairs of
// the same shape, reporting whether the row was written.
func (s *Store) CreatePairWithin(ctx context.Context, pair *models.ForwardingPair, max int) (bool, error) {
	created := false
	err := s.withUserTx(ctx, pair.UserID, "create pair", func(tx *sqlx.Tx) error {
		if max != models.Unlimited {
			var n int
			if err := tx.GetContext(ctx, &n, tx.Rebind(CountPairsOfShapeQuery), pair.UserID, string(pair.Shape())); err != nil {
				return apperrors.NewDatabaseError("count pairs", err)
			}
			if n >= max {
				return nil
			}
		}
		if err := insertPair(ctx, tx, pair); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func insertPair(ctx context.Context, ex sqlx.ExtContext, pair *models.ForwardingPair) error {
	row, err := toPairRow(pair)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, ex.Rebind(InsertPairQuery),
		row.ID, row.UserID,
		row.SourceAccountID, row.SourceChatID, row.SourcePlatform,
		row.DestAccountID, row.DestChatID, row.DestPlatform,
		row.DelayMode, row.DelaySeconds, row.ModeConfig, row.EditConfig, row.FilterConfig, row.SyncEdits,
		row.Status, row.StatusReason, row.ConsecutiveFailures, row.LastSourceMessageID,
		row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return writeError("create pair", "pair", pair.ID, err)
	}
	return nil
}

// withUserTx runs fn in a transaction that first locks userID's row. On
// PostgreSQL that is SELECT ... FOR UPDATE; SQLite has no row locks, so a
// no-op UPDATE takes the database write lock instead.
func (s *Store) withUserTx(ctx context.Context, userID, operation string, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.NewDatabaseError(operation, err)
	}
	defer func() { _ = tx.Rollback() }()

	lock := LockUserQuery
	if s.db.DriverName() == "postgres" {
		lock = LockUserForUpdateQuery
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(lock), userID); err != nil {
		return apperrors.NewDatabaseError(operation, err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.NewDatabaseError(operation, err)
	}
	return nil
}

func (s *Store) UpdatePair(ctx context.Context, pair *models.ForwardingPair) error {
	row, err := toPairRow(pair)
	if err != nil {
		return err
	}
	var res sql.Result
	err = withRetry(ctx, "update pair", func() error {
		var err error
		res, err = s.db.ExecContext(ctx, s.q(UpdatePairQuery),
			row.DestChatID,
			row.DelayMode, row.DelaySeconds,
			row.ModeConfig, row.EditConfig, row.FilterConfig, row.SyncEdits,
			row.Status, row.StatusReason, row.ConsecutiveFailures, row.LastSourceMessageID,
			row.UpdatedAt, row.ID)
		return err
	})
	if err != nil {
		return apperrors.NewDatabaseError("update pair", err)
	}
	return requireRow(res, "pair", pair.ID)
}

func (s *Store) GetPair(ctx context.Context, id string) (*models.ForwardingPair, error) {
	var row pairRow
	if err := s.db.GetContext(ctx, &row, s.q(GetPairQuery), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("pair", id)
		}
		return nil, apperrors.NewDatabaseError("get pair", err)
	}
	return row.toModel()
}

// ListPairs returns the pairs of userID, or every pair when userID is empty.
func (s *Store) ListPairs(ctx context.Context, userID string) ([]models.ForwardingPair, error) {
	var rows []pairRow
	var err error
	if userID == "" {
		err = s.db.SelectContext(ctx, &rows, s.q(ListAllPairsQuery))
	} else {
		err = s.db.SelectContext(ctx, &rows, s.q(ListPairsByUserQuery), userID)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("list pairs", err)
	}

	pairs := make([]models.ForwardingPair, 0, len(rows))
	for i := range rows {
		pair, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, *pair)
	}
	return pairs, nil
}

// DeletePair reports whether a row was removed.
func (s *Store) DeletePair(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(DeletePairQuery), id)
	if err != nil {
		return false, apperrors.NewDatabaseError("delete pair", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.NewDatabaseError("delete pair", err)
	}
	return n > 0, nil
}

func (s *Store) CountPairsByShape(ctx context.Context, userID string) (map[models.PairShape]int, error) {
	var rows []struct {
		Shape models.PairShape `db:"shape"`
		N     int              `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &rows, s.q(CountPairsByShapeQuery), userID); err != nil {
		return nil, apperrors.NewDatabaseError("count pairs", err)
	}
	counts := make(map[models.PairShape]int, len(rows))
	for _, row := range rows {
		counts[row.Shape] = row.N
	}
	return counts, nil
}

func (s *Store) CountPairsByAccount(ctx context.Context, accountID string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, s.q(CountPairsByAccountQuery), accountID, accountID); err != nil {
		return 0, apperrors.NewDatabaseError("count pairs by account", err)
	}
	return n, nil
}

func (s *Store) UpdatePairCheckpoint(ctx context.Context, id, messageID string) error {
	return withRetry(ctx, "update pair checkpoint", func() error {
		_, err := s.db.ExecContext(ctx, s.q(UpdatePairCheckpointQuery), messageID, time.Now().UTC(), id)
		return err
	})
}

func (s *Store) InsertDeliveryLog(ctx context.Context, entry *models.DeliveryLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	err := withRetry(ctx, "insert delivery log", func() error {
		_, err := s.db.ExecContext(ctx, s.q(InsertDeliveryLogQuery),
			entry.ID, entry.PairID, entry.UserID, entry.SourceMessageID, entry.DestMessageID,
			string(entry.Status), entry.Error, entry.Attempts, entry.ProcessingMs, entry.CreatedAt.UTC())
		return err
	})
	if err != nil {
		return apperrors.NewDatabaseError("insert delivery log", err)
	}
	return nil
}

// FindDeliveryLog returns the newest log for a source message that produced a
// destination message, or nil when there is none.
func (s *Store) FindDeliveryLog(ctx context.Context, pairID, sourceMessageID string) (*models.DeliveryLog, error) {
	var entry models.DeliveryLog
	if err := s.db.GetContext(ctx, &entry, s.q(FindDeliveryLogQuery), pairID, sourceMessageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.NewDatabaseError("find delivery log", err)
	}
	return &entry, nil
}

// ListDeliveryLogs returns the newest logs of userID, optionally narrowed to one pair.
func (s *Store) ListDeliveryLogs(ctx context.Context, userID, pairID string, limit int) ([]models.DeliveryLog, error) {
	var (
		where []string
		args  []interface{}
	)
	if userID != "" {
		where = append(where, "user_id = ?")
		args = append(args, userID)
	}
	if pairID != "" {
		where = append(where, "pair_id = ?")
		args = append(args, pairID)
	}

	query := selectDeliveryColumns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var entries []models.DeliveryLog
	if err := s.db.SelectContext(ctx, &entries, s.q(query), args...); err != nil {
		return nil, apperrors.NewDatabaseError("list delivery logs", err)
	}
	return entries, nil
}

func (s *Store) CountDeliveriesSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, s.q(CountDeliveriesSinceQuery), userID, since.UTC()); err != nil {
		return 0, apperrors.NewDatabaseError("count deliveries", err)
	}
	return n, nil
}

func (s *Store) CleanupDeliveryLogs(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(CleanupDeliveryLogsQuery), before.UTC())
	if err != nil {
		return 0, apperrors.NewDatabaseError("cleanup delivery logs", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.NewDatabaseError("cleanup delivery logs", err)
	}
	return n, nil
}

func requireRow(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.NewDatabaseError("rows affected", err)
	}
	if n == 0 {
		return apperrors.NewNotFoundError(resource, id)
	}
	return nil
}

func utcPtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// pairRow flattens a ForwardingPair; nested configs are stored as JSON text.
type pairRow struct {
	ID                  string    `db:"id"`
	UserID              string    `db:"user_id"`
	SourceAccountID     string    `db:"source_account_id"`
	SourceChatID        string    `db:"source_chat_id"`
	SourcePlatform      string    `db:"source_platform"`
	DestAccountID       string    `db:"dest_account_id"`
	DestChatID          string    `db:"dest_chat_id"`
	DestPlatform        string    `db:"dest_platform"`
	DelayMode           string    `db:"delay_mode"`
	DelaySeconds        int       `db:"delay_seconds"`
	ModeConfig          string    `db:"mode_config"`
	EditConfig          string    `db:"edit_config"`
	FilterConfig        string    `db:"filter_config"`
	SyncEdits           int       `db:"sync_edits"`
	Status              string    `db:"status"`
	StatusReason        string    `db:"status_reason"`
	ConsecutiveFailures int       `db:"consecutive_failures"`
	LastSourceMessageID string    `db:"last_source_message_id"`
	CreatedAt           time.Time `db:"created_at"`
	UpdatedAt           time.Time `db:"updated_at"`
}

func toPairRow(pair *models.ForwardingPair) (*pairRow, error) {
	mode, err := json.Marshal(pair.Mode)
	if err != nil {
		return nil, fmt.Errorf("failed to encode mode config: %w", err)
	}
	edit, err := json.Marshal(pair.Edit)
	if err != nil {
		return nil, fmt.Errorf("failed to encode edit config: %w", err)
	}
	filters, err := json.Marshal(pair.Filters)
	if err != nil {
		return nil, fmt.Errorf("failed to encode filter config: %w", err)
	}

	syncEdits := 0
	if pair.SyncEdits {
		syncEdits = 1
	}
	delayMode := pair.Delay.Mode
	if delayMode == "" {
		delayMode = models.DelayRealtime
	}

	return &pairRow{
		ID:                  pair.ID,
		UserID:              pair.UserID,
		SourceAccountID:     pair.SourceAccountID,
		SourceChatID:        pair.SourceChatID,
		SourcePlatform:      string(pair.SourcePlatform),
		DestAccountID:       pair.DestAccountID,
		DestChatID:          pair.DestChatID,
		DestPlatform:        string(pair.DestPlatform),
		DelayMode:           string(delayMode),
		DelaySeconds:        pair.Delay.Seconds,
		ModeConfig:          string(mode),
		EditConfig:          string(edit),
		FilterConfig:        string(filters),
		SyncEdits:           syncEdits,
		Status:              string(pair.Status),
		StatusReason:        pair.StatusReason,
		ConsecutiveFailures: pair.ConsecutiveFailures,
		LastSourceMessageID: pair.LastSourceMessageID,
		CreatedAt:           pair.CreatedAt.UTC(),
		UpdatedAt:           pair.UpdatedAt.UTC(),
	}, nil
}

func (r *pairRow) toModel() (*models.ForwardingPair, error) {
	pair := &models.ForwardingPair{
		ID:                  r.ID,
		UserID:              r.UserID,
		SourceAccountID:     r.SourceAccountID,
		SourceChatID:        r.SourceChatID,
		SourcePlatform:      models.Platform(r.SourcePlatform),
		DestAccountID:       r.DestAccountID,
		DestChatID:          r.DestChatID,
		DestPlatform:        models.Platform(r.DestPlatform),
		Delay:               models.DelayPolicy{Mode: models.DelayMode(r.DelayMode), Seconds: r.DelaySeconds},
		SyncEdits:           r.SyncEdits != 0,
		Status:              models.PairStatus(r.Status),
		StatusReason:        r.StatusReason,
		ConsecutiveFailures: r.ConsecutiveFailures,
		LastSourceMessageID: r.LastSourceMessageID,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(r.ModeConfig), &pair.Mode); err != nil {
		return nil, fmt.Errorf("failed to decode mode config of pair %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.EditConfig), &pair.Edit); err != nil {
		return nil, fmt.Errorf("failed to decode edit config of pair %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.FilterConfig), &pair.Filters); err != nil {
		return nil, fmt.Errorf("failed to decode filter config of pair %s: %w", r.ID, err)
	}
	return pair, nil
}

// writeError maps primary key collisions from either driver to Conflict.
func writeError(operation, resource, id string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return apperrors.NewConflictError(resource, id, "already exists")
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) &&
		(liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || liteErr.ExtendedCode == sqlite3.ErrConstraintUnique) {
		return apperrors.NewConflictError(resource, id, "already exists")
	}
	return apperrors.NewDatabaseError(operation, err)
}
