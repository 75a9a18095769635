// Package mysql provides a MySQL implementation of the fulfill.OrderStore
// and ledger.Ledger interfaces.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"fulfill/ledger"
	"fulfill/store"

	fulfill "fulfill"
)

// MySQLStore implements fulfill.OrderStore backed by MySQL. It also
// implements ledger.Ledger so standalone stock adjustments share the same
// tables and movement audit trail as the transition path.
type MySQLStore struct {
	db *sql.DB
}

// New creates a new MySQLStore with the given database connection.
func New(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// ============================================================================
// Order Operations
// ============================================================================

// CreateOrder inserts the order and deducts each line item from stock in
// one transaction. If any deduction would go negative, nothing is written
// and ErrInsufficientStock is returned.
func (s *MySQLStore) CreateOrder(ctx context.Context, order *fulfill.Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin create order: %v", fulfill.ErrStoreOperationFailed, err)
	}
	defer tx.Rollback()

	record := store.NewOrderRecord(order)
	query := `
		INSERT INTO fulfill_orders (
			order_id, channel, status, line_items, currency,
			customer_email, customer_phone, meta, version,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, query,
		record.OrderID, record.Channel, record.Status, record.LineItems, record.Currency,
		record.CustomerEmail, record.CustomerPhone, record.Meta, record.Version,
		record.CreatedAt, record.UpdatedAt,
	); err != nil {
		if isDuplicateKeyError(err) {
			return fulfill.ErrOrderAlreadyExists
		}
		return fmt.Errorf("%w: create order: %v", fulfill.ErrStoreOperationFailed, err)
	}

	for _, item := range order.LineItems {
		if err := deductStock(ctx, tx, item.VariantID, item.Quantity); err != nil {
			return err
		}
		if err := insertMovement(ctx, tx, &store.MovementRecord{
			VariantID: item.VariantID,
			Delta:     -item.Quantity,
			OrderID:   order.ID,
			ToStatus:  string(order.Status),
			CreatedAt: time.Now(),
		}); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit create order: %v", fulfill.ErrStoreOperationFailed, err)
	}
	return nil
}

// GetOrder retrieves an order by its ID.
func (s *MySQLStore) GetOrder(ctx context.Context, id string) (*fulfill.Order, error) {
	query := `
		SELECT id, order_id, channel, status, line_items, currency,
			customer_email, customer_phone, meta, version, created_at, updated_at
		FROM fulfill_orders
		WHERE order_id = ?
	`

	record := &store.OrderRecord{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&record.ID, &record.OrderID, &record.Channel, &record.Status,
		&record.LineItems, &record.Currency,
		&record.CustomerEmail, &record.CustomerPhone, &record.Meta,
		&record.Version, &record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fulfill.ErrOrderNotFound
		}
		return nil, fmt.Errorf("%w: get order: %v", fulfill.ErrStoreOperationFailed, err)
	}

	return record.ToOrder(), nil
}

// CommitTransition applies the status change conditionally on the
// expected from-status, together with any stock restoration, in one
// transaction. A stale from-status leaves the database untouched and
// returns ErrCommitConflict.
func (s *MySQLStore) CommitTransition(ctx context.Context, commit *fulfill.TransitionCommit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin commit transition: %v", fulfill.ErrStoreOperationFailed, err)
	}
	defer tx.Rollback()

	ev := commit.Event
	query := `
		UPDATE fulfill_orders SET
			status = ?, version = version + 1, updated_at = ?
		WHERE order_id = ? AND status = ?
	`
	result, err := tx.ExecContext(ctx, query, string(ev.To), time.Now(), ev.OrderID, string(ev.From))
	if err != nil {
		return fmt.Errorf("%w: commit transition: %v", fulfill.ErrStoreOperationFailed, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		exists, err := s.orderExists(ctx, tx, ev.OrderID)
		if err != nil {
			return err
		}
		if !exists {
			return fulfill.ErrOrderNotFound
		}
		return fulfill.ErrCommitConflict
	}

	for _, adj := range commit.Restock {
		if err := restoreStock(ctx, tx, adj.VariantID, adj.Quantity); err != nil {
			return err
		}
		if err := insertMovement(ctx, tx, &store.MovementRecord{
			VariantID:  adj.VariantID,
			Delta:      adj.Quantity,
			OrderID:    ev.OrderID,
			FromStatus: string(ev.From),
			ToStatus:   string(ev.To),
			CreatedAt:  time.Now(),
		}); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit transition: %v", fulfill.ErrStoreOperationFailed, err)
	}
	return nil
}

// SetOrderMeta upserts a single meta key on an order. The meta column is
// read under a row lock so concurrent writers never lose keys.
func (s *MySQLStore) SetOrderMeta(ctx context.Context, orderID, key, value string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin set meta: %v", fulfill.ErrStoreOperationFailed, err)
	}
	defer tx.Rollback()

	var meta store.MetaMap
	err = tx.QueryRowContext(ctx,
		"SELECT meta FROM fulfill_orders WHERE order_id = ? FOR UPDATE", orderID,
	).Scan(&meta)
	if err != nil {
		if err == sql.ErrNoRows {
			return fulfill.ErrOrderNotFound
		}
		return fmt.Errorf("%w: load meta: %v", fulfill.ErrStoreOperationFailed, err)
	}

	if meta == nil {
		meta = store.MetaMap{}
	}
	meta[key] = value

	if _, err := tx.ExecContext(ctx,
		"UPDATE fulfill_orders SET meta = ?, updated_at = ? WHERE order_id = ?",
		meta, time.Now(), orderID,
	); err != nil {
		return fmt.Errorf("%w: set meta: %v", fulfill.ErrStoreOperationFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit set meta: %v", fulfill.ErrStoreOperationFailed, err)
	}
	return nil
}

// orderExists checks if an order exists.
func (s *MySQLStore) orderExists(ctx context.Context, tx *sql.Tx, orderID string) (bool, error) {
	var count int
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM fulfill_orders WHERE order_id = ?", orderID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("%w: check order exists: %v", fulfill.ErrStoreOperationFailed, err)
	}
	return count > 0, nil
}

// ============================================================================
// Stock Operations
// ============================================================================

// OnHand returns the current on-hand quantity for a variant.
func (s *MySQLStore) OnHand(ctx context.Context, variantID string) (int64, error) {
	var onHand int64
	err := s.db.QueryRowContext(ctx,
		"SELECT on_hand FROM fulfill_stock WHERE variant_id = ?", variantID,
	).Scan(&onHand)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, fmt.Errorf("%w: %s", ledger.ErrUnknownVariant, variantID)
		}
		return 0, fmt.Errorf("%w: get on hand: %v", fulfill.ErrStoreOperationFailed, err)
	}
	return onHand, nil
}

// Restore implements ledger.Ledger for standalone stock adjustments
// outside the transition path.
func (s *MySQLStore) Restore(ctx context.Context, m ledger.Movement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin restore: %v", fulfill.ErrStoreOperationFailed, err)
	}
	defer tx.Rollback()

	if err := restoreStock(ctx, tx, m.VariantID, m.Delta); err != nil {
		return err
	}
	if err := insertMovement(ctx, tx, &store.MovementRecord{
		VariantID:  m.VariantID,
		Delta:      m.Delta,
		OrderID:    m.OrderID,
		FromStatus: m.From,
		ToStatus:   m.To,
		CreatedAt:  time.Now(),
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit restore: %v", fulfill.ErrStoreOperationFailed, err)
	}
	return nil
}

// Deduct implements ledger.Ledger. The movement's Delta is taken as a
// magnitude and recorded negated.
func (s *MySQLStore) Deduct(ctx context.Context, m ledger.Movement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin deduct: %v", fulfill.ErrStoreOperationFailed, err)
	}
	defer tx.Rollback()

	if err := deductStock(ctx, tx, m.VariantID, m.Delta); err != nil {
		return err
	}
	if err := insertMovement(ctx, tx, &store.MovementRecord{
		VariantID:  m.VariantID,
		Delta:      -m.Delta,
		OrderID:    m.OrderID,
		FromStatus: m.From,
		ToStatus:   m.To,
		CreatedAt:  time.Now(),
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit deduct: %v", fulfill.ErrStoreOperationFailed, err)
	}
	return nil
}

// deductStock decrements on-hand inside tx, guarding against negative
// quantities at the SQL level.
func deductStock(ctx context.Context, tx *sql.Tx, variantID string, quantity int64) error {
	result, err := tx.ExecContext(ctx,
		"UPDATE fulfill_stock SET on_hand = on_hand - ? WHERE variant_id = ? AND on_hand >= ?",
		quantity, variantID, quantity,
	)
	if err != nil {
		return fmt.Errorf("%w: deduct stock: %v", fulfill.ErrStoreOperationFailed, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Either the variant is unknown or on-hand would go negative;
		// both block the deduction
		var count int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM fulfill_stock WHERE variant_id = ?", variantID,
		).Scan(&count); err != nil {
			return fmt.Errorf("%w: check variant: %v", fulfill.ErrStoreOperationFailed, err)
		}
		if count == 0 {
			return fmt.Errorf("%w: %s", ledger.ErrUnknownVariant, variantID)
		}
		return fmt.Errorf("%w: variant %s", ledger.ErrInsufficientStock, variantID)
	}
	return nil
}

// restoreStock increments on-hand inside tx, creating the stock row when
// the variant has none yet.
func restoreStock(ctx context.Context, tx *sql.Tx, variantID string, quantity int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO fulfill_stock (variant_id, on_hand) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE on_hand = on_hand + VALUES(on_hand)`,
		variantID, quantity,
	)
	if err != nil {
		return fmt.Errorf("%w: restore stock: %v", fulfill.ErrStoreOperationFailed, err)
	}
	return nil
}

// insertMovement appends one row to the stock movement audit trail.
func insertMovement(ctx context.Context, tx *sql.Tx, m *store.MovementRecord) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO fulfill_stock_movements (variant_id, delta, order_id, from_status, to_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.VariantID, m.Delta, m.OrderID, m.FromStatus, m.ToStatus, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: insert movement: %v", fulfill.ErrStoreOperationFailed, err)
	}
	return nil
}

// ListMovements retrieves the movement audit trail for a variant,
// newest first.
func (s *MySQLStore) ListMovements(ctx context.Context, variantID string, limit int) ([]*store.MovementRecord, error) {
	query := `
		SELECT id, variant_id, delta, order_id, from_status, to_status, created_at
		FROM fulfill_stock_movements
		WHERE variant_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, variantID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list movements: %v", fulfill.ErrStoreOperationFailed, err)
	}
	defer rows.Close()

	var movements []*store.MovementRecord
	for rows.Next() {
		m := &store.MovementRecord{}
		if err := rows.Scan(
			&m.ID, &m.VariantID, &m.Delta, &m.OrderID, &m.FromStatus, &m.ToStatus, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("%w: scan movement: %v", fulfill.ErrStoreOperationFailed, err)
		}
		movements = append(movements, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate movements: %v", fulfill.ErrStoreOperationFailed, err)
	}

	return movements, nil
}

// ============================================================================
// Listing Queries
// ============================================================================

// ListOrders lists orders with optional filters.
func (s *MySQLStore) ListOrders(ctx context.Context, filter *store.OrderFilter) ([]*fulfill.Order, int64, error) {
	var conditions []string
	var args []interface{}

	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}

	if filter.Channel != "" {
		conditions = append(conditions, "channel = ?")
		args = append(args, string(filter.Channel))
	}

	if !filter.StartTime.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.StartTime)
	}

	if !filter.EndTime.IsZero() {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, filter.EndTime)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM fulfill_orders %s", whereClause)
	var total int64
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: count orders: %v", fulfill.ErrStoreOperationFailed, err)
	}

	query := fmt.Sprintf(`
		SELECT id, order_id, channel, status, line_items, currency,
			customer_email, customer_phone, meta, version, created_at, updated_at
		FROM fulfill_orders
		%s
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, whereClause)

	args = append(args, filter.Limit, filter.Offset)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list orders: %v", fulfill.ErrStoreOperationFailed, err)
	}
	defer rows.Close()

	var orders []*fulfill.Order
	for rows.Next() {
		record := &store.OrderRecord{}
		if err := rows.Scan(
			&record.ID, &record.OrderID, &record.Channel, &record.Status,
			&record.LineItems, &record.Currency,
			&record.CustomerEmail, &record.CustomerPhone, &record.Meta,
			&record.Version, &record.CreatedAt, &record.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("%w: scan order: %v", fulfill.ErrStoreOperationFailed, err)
		}
		orders = append(orders, record.ToOrder())
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: iterate orders: %v", fulfill.ErrStoreOperationFailed, err)
	}

	return orders, total, nil
}

// ============================================================================
// Notification Records
// ============================================================================

// CreateNotification inserts a notification record.
func (s *MySQLStore) CreateNotification(ctx context.Context, record *fulfill.NotificationRecord) error {
	query := `
		INSERT INTO fulfill_notifications (
			event_id, event_name, order_id, payload, status,
			unmatched, error_msg, attempts, created_at, updated_at, sent_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		record.EventID, record.EventName, record.OrderID, record.Payload, string(record.Status),
		record.Unmatched, record.ErrorMsg, record.Attempts, record.CreatedAt, record.UpdatedAt, record.SentAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: notification already recorded", fulfill.ErrStoreOperationFailed)
		}
		return fmt.Errorf("%w: create notification: %v", fulfill.ErrStoreOperationFailed, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	record.ID = id

	return nil
}

// UpdateNotification updates an existing notification record.
func (s *MySQLStore) UpdateNotification(ctx context.Context, record *fulfill.NotificationRecord) error {
	query := `
		UPDATE fulfill_notifications SET
			payload = ?, status = ?, unmatched = ?, error_msg = ?,
			attempts = ?, updated_at = ?, sent_at = ?
		WHERE event_id = ? AND event_name = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		record.Payload, string(record.Status), record.Unmatched, record.ErrorMsg,
		record.Attempts, time.Now(), record.SentAt,
		record.EventID, record.EventName,
	)
	if err != nil {
		return fmt.Errorf("%w: update notification: %v", fulfill.ErrStoreOperationFailed, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: notification %s:%s not found",
			fulfill.ErrStoreOperationFailed, record.EventID, record.EventName)
	}

	record.UpdatedAt = time.Now()
	return nil
}

// GetNotificationByEvent retrieves a notification record by event id and
// name.
func (s *MySQLStore) GetNotificationByEvent(ctx context.Context, eventID, eventName string) (*fulfill.NotificationRecord, error) {
	query := `
		SELECT id, event_id, event_name, order_id, payload, status,
			unmatched, error_msg, attempts, created_at, updated_at, sent_at
		FROM fulfill_notifications
		WHERE event_id = ? AND event_name = ?
	`

	record := &fulfill.NotificationRecord{}
	var status string
	err := s.db.QueryRowContext(ctx, query, eventID, eventName).Scan(
		&record.ID, &record.EventID, &record.EventName, &record.OrderID, &record.Payload, &status,
		&record.Unmatched, &record.ErrorMsg, &record.Attempts,
		&record.CreatedAt, &record.UpdatedAt, &record.SentAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: notification %s:%s not found",
				fulfill.ErrStoreOperationFailed, eventID, eventName)
		}
		return nil, fmt.Errorf("%w: get notification: %v", fulfill.ErrStoreOperationFailed, err)
	}
	record.Status = fulfill.NotificationStatus(status)

	return record, nil
}

// ListFailedNotifications returns failed records oldest-first for replay.
func (s *MySQLStore) ListFailedNotifications(ctx context.Context, limit int) ([]*fulfill.NotificationRecord, error) {
	query := `
		SELECT id, event_id, event_name, order_id, payload, status,
			unmatched, error_msg, attempts, created_at, updated_at, sent_at
		FROM fulfill_notifications
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, string(fulfill.NotificationFailed), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list failed notifications: %v", fulfill.ErrStoreOperationFailed, err)
	}
	defer rows.Close()

	var records []*fulfill.NotificationRecord
	for rows.Next() {
		record := &fulfill.NotificationRecord{}
		var status string
		if err := rows.Scan(
			&record.ID, &record.EventID, &record.EventName, &record.OrderID, &record.Payload, &status,
			&record.Unmatched, &record.ErrorMsg, &record.Attempts,
			&record.CreatedAt, &record.UpdatedAt, &record.SentAt,
		); err != nil {
			return nil, fmt.Errorf("%w: scan notification: %v", fulfill.ErrStoreOperationFailed, err)
		}
		record.Status = fulfill.NotificationStatus(status)
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate notifications: %v", fulfill.ErrStoreOperationFailed, err)
	}

	return records, nil
}

// ============================================================================
// Idempotency Operations
// ============================================================================

// CheckIdempotency checks if an operation was already executed.
func (s *MySQLStore) CheckIdempotency(ctx context.Context, key string) (bool, []byte, error) {
	query := `
		SELECT result FROM fulfill_idempotency
		WHERE idempotency_key = ? AND expires_at > ?
	`

	var result []byte
	err := s.db.QueryRowContext(ctx, query, key, time.Now()).Scan(&result)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil, nil
		}
		return false, nil, fmt.Errorf("%w: check idempotency: %v", fulfill.ErrStoreOperationFailed, err)
	}

	return true, result, nil
}

// MarkIdempotency marks an operation as executed with its result.
func (s *MySQLStore) MarkIdempotency(ctx context.Context, key string, result []byte, ttl time.Duration) error {
	query := `
		INSERT INTO fulfill_idempotency (idempotency_key, result, created_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE result = VALUES(result), expires_at = VALUES(expires_at)
	`

	now := time.Now()
	expiresAt := now.Add(ttl)

	_, err := s.db.ExecContext(ctx, query, key, result, now, expiresAt)
	if err != nil {
		return fmt.Errorf("%w: mark idempotency: %v", fulfill.ErrStoreOperationFailed, err)
	}

	return nil
}

// DeleteExpiredIdempotency removes expired idempotency records.
func (s *MySQLStore) DeleteExpiredIdempotency(ctx context.Context) (int64, error) {
	query := `DELETE FROM fulfill_idempotency WHERE expires_at < ?`

	result, err := s.db.ExecContext(ctx, query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("%w: delete expired idempotency: %v", fulfill.ErrStoreOperationFailed, err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	return count, nil
}

// ============================================================================
// Helper Functions
// ============================================================================

// isDuplicateKeyError checks if the error is a MySQL duplicate key error.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	// MySQL error code 1062 is for duplicate entry
	return strings.Contains(err.Error(), "Duplicate entry") ||
		strings.Contains(err.Error(), "1062")
}

// Ensure MySQLStore implements the storage interfaces.
var (
	_ fulfill.OrderStore = (*MySQLStore)(nil)
	_ ledger.Ledger      = (*MySQLStore)(nil)
)
