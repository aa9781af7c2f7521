package database

const (
	selectValueQuery = `SELECT value FROM kv_store WHERE key = ?`

	upsertValueQuery = `
		INSERT INTO kv_store (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`

	deleteValueQuery = `DELETE FROM kv_store WHERE key = ?`

	insertAuditQuery = `
		INSERT INTO forward_audit (request_id, ca, chain, source_chat, outcome, error)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	selectRecentAuditQuery = `
		SELECT request_id, ca, chain, source_chat, outcome, error, created_at
		FROM forward_audit
		ORDER BY id DESC
		LIMIT ?
	`
)
