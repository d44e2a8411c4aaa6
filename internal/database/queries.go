package database

// Queries are written with ? placeholders and rebound per driver.
const (
	EnsureUserQuery = `
		INSERT INTO users (id, plan, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (id) DO NOTHING`

	GetUserQuery = `
		SELECT id, plan, plan_expires_at, created_at
		FROM users
		WHERE id = ?`

	SetUserPlanQuery = `
		UPDATE users SET plan = ?, plan_expires_at = ?
		WHERE id = ?`

	InsertAccountQuery = `
		INSERT INTO accounts (
			id, user_id, platform, display_name, credential,
			status, status_reason, last_seen, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectAccountColumns = `
		SELECT id, user_id, platform, display_name, credential,
			status, status_reason, last_seen, created_at, updated_at
		FROM accounts`

	GetAccountQuery = selectAccountColumns + ` WHERE id = ?`

	ListAccountsByUserQuery = selectAccountColumns + ` WHERE user_id = ? ORDER BY created_at, id`

	ListAllAccountsQuery = selectAccountColumns + ` ORDER BY created_at, id`

	UpdateAccountStatusQuery = `
		UPDATE accounts
		SET status = ?, status_reason = ?, last_seen = COALESCE(?, last_seen), updated_at = ?
		WHERE id = ?`

	DeleteAccountQuery = `DELETE FROM accounts WHERE id = ?`

	CountAccountsByPlatformQuery = `
		SELECT platform, COUNT(*) AS n
		FROM accounts
		WHERE user_id = ?
		GROUP BY platform`

	InsertPairQuery = `
		INSERT INTO forwarding_pairs (
			id, user_id,
			source_account_id, source_chat_id, source_platform,
			dest_account_id, dest_chat_id, dest_platform,
			delay_mode, delay_seconds, mode_config, edit_config, filter_config, sync_edits,
			status, status_reason, consecutive_failures, last_source_message_id,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	UpdatePairQuery = `
		UPDATE forwarding_pairs SET
			dest_chat_id = ?,
			delay_mode = ?, delay_seconds = ?,
			mode_config = ?, edit_config = ?, filter_config = ?, sync_edits = ?,
			status = ?, status_reason = ?, consecutive_failures = ?, last_source_message_id = ?,
			updated_at = ?
		WHERE id = ?`

	selectPairColumns = `
		SELECT id, user_id,
			source_account_id, source_chat_id, source_platform,
			dest_account_id, dest_chat_id, dest_platform,
			delay_mode, delay_seconds, mode_config, edit_config, filter_config, sync_edits,
			status, status_reason, consecutive_failures, last_source_message_id,
			created_at, updated_at
		FROM forwarding_pairs`

	GetPairQuery = selectPairColumns + ` WHERE id = ?`

	ListPairsByUserQuery = selectPairColumns + ` WHERE user_id = ? ORDER BY created_at, id`

	ListAllPairsQuery = selectPairColumns + ` ORDER BY created_at, id`

	DeletePairQuery = `DELETE FROM forwarding_pairs WHERE id = ?`

	// LockUserQuery takes the row lock (postgres) or the database write lock
	// (sqlite) that serializes capped inserts for one user across instances.
	LockUserQuery = `UPDATE users SET plan = plan WHERE id = ?`

	LockUserForUpdateQuery = `SELECT id FROM users WHERE id = ? FOR UPDATE`

	CountPairsOfShapeQuery = `
		SELECT COUNT(*)
		FROM forwarding_pairs
		WHERE user_id = ?
			AND CASE WHEN source_platform = dest_platform THEN 'same_platform' ELSE 'cross_platform' END = ?`

	CountAccountsOfPlatformQuery = `SELECT COUNT(*) FROM accounts WHERE user_id = ? AND platform = ?`

	CountPairsByShapeQuery = `
		SELECT CASE WHEN source_platform = dest_platform THEN 'same_platform' ELSE 'cross_platform' END AS shape,
			COUNT(*) AS n
		FROM forwarding_pairs
		WHERE user_id = ?
		GROUP BY 1`

	CountPairsByAccountQuery = `
		SELECT COUNT(*)
		FROM forwarding_pairs
		WHERE source_account_id = ? OR dest_account_id = ?`

	UpdatePairCheckpointQuery = `
		UPDATE forwarding_pairs SET last_source_message_id = ?, updated_at = ?
		WHERE id = ?`

	InsertDeliveryLogQuery = `
		INSERT INTO delivery_logs (
			id, pair_id, user_id, source_message_id, dest_message_id,
			status, error, attempts, processing_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectDeliveryColumns = `
		SELECT id, pair_id, user_id, source_message_id, dest_message_id,
			status, error, attempts, processing_ms, created_at
		FROM delivery_logs`

	FindDeliveryLogQuery = selectDeliveryColumns + `
		WHERE pair_id = ? AND source_message_id = ? AND dest_message_id <> ''
		ORDER BY created_at DESC
		LIMIT 1`

	CountDeliveriesSinceQuery = `
		SELECT COUNT(*)
		FROM delivery_logs
		WHERE user_id = ? AND status = 'delivered' AND created_at >= ?`

	CleanupDeliveryLogsQuery = `DELETE FROM delivery_logs WHERE created_at < ?`
)
