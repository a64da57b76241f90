package mysql

const upsertSlotSQL = `
INSERT INTO snapshot_slots
  (slot_key, payload, expires_at)
VALUES
  (?, ?, ?)
ON DUPLICATE KEY UPDATE
  payload    = VALUES(payload),
  expires_at = VALUES(expires_at),
  updated_at = CURRENT_TIMESTAMP
`

// Expired rows read as misses; they are purged lazily by PurgeExpired.
const getSlotSQL = `
SELECT payload
FROM snapshot_slots
WHERE slot_key = ?
  AND (expires_at IS NULL OR expires_at > UTC_TIMESTAMP())
`

const deleteSlotSQL = `DELETE FROM snapshot_slots WHERE slot_key = ?`

const purgeExpiredSQL = `
DELETE FROM snapshot_slots
WHERE expires_at IS NOT NULL AND expires_at <= UTC_TIMESTAMP()
`
