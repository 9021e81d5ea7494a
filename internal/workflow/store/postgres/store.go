package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/fieldops/workflow-engine/internal/workflow"
	"github.com/fieldops/workflow-engine/internal/workflow/store"
)

// Store implements store.Store against a PostgreSQL database, using
// BaseStore's transactional-context pattern so the caller never has to know
// whether a given call is inside a transaction.
type Store struct {
	requests     *BaseStore
	transitions  *BaseStore
	staffAudit   *BaseStore
	users        *BaseStore
	notifyRetry  *BaseStore
	equipment    *BaseStore
	movements    *BaseStore
	errorRecords *BaseStore
	db           *sql.DB
}

// New constructs a Store backed by db.
func New(db *sql.DB) *Store {
	return &Store{
		requests:     NewBaseStore(db, "requests"),
		transitions:  NewBaseStore(db, "state_transitions"),
		staffAudit:   NewBaseStore(db, "staff_application_audit"),
		users:        NewBaseStore(db, "users"),
		notifyRetry:  NewBaseStore(db, "notification_retry"),
		equipment:    NewBaseStore(db, "equipment_stock"),
		movements:    NewBaseStore(db, "equipment_movements"),
		errorRecords: NewBaseStore(db, "error_records"),
		db:           db,
	}
}

var _ store.Store = (*Store)(nil)

func roleRef(r *string) *workflow.Role {
	if r == nil {
		return nil
	}
	v := workflow.Role(*r)
	return &v
}

func strOfRole(r *workflow.Role) *string {
	if r == nil {
		return nil
	}
	v := string(*r)
	return &v
}

func marshalJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return b
}

func unmarshalRequestRow(row storage_Scanner) (workflow.Request, error) {
	var (
		req                                            workflow.Request
		contactInfo, stateData, equipmentUsed, creationSource sql.NullString
		staffCreatorID, staffCreatorRole                sql.NullString
		completionRating                                sql.NullInt64
		feedbackComments                                sql.NullString
		clientNotifiedAt                                sql.NullTime
	)
	err := row.Scan(
		&req.ID, &req.WorkflowType, &req.ClientID, &req.CurrentRole, &req.CurrentStatus,
		&req.Priority, &req.Description, &req.Location, &contactInfo, &stateData,
		&equipmentUsed, &req.InventoryUpdated, &completionRating, &feedbackComments,
		&req.CreatedByStaff, &staffCreatorID, &staffCreatorRole, &creationSource,
		&clientNotifiedAt, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return workflow.Request{}, err
	}
	if contactInfo.Valid {
		_ = json.Unmarshal([]byte(contactInfo.String), &req.ContactInfo)
	}
	if stateData.Valid {
		_ = json.Unmarshal([]byte(stateData.String), &req.StateData)
	}
	if equipmentUsed.Valid {
		_ = json.Unmarshal([]byte(equipmentUsed.String), &req.EquipmentUsed)
	}
	if completionRating.Valid {
		v := int(completionRating.Int64)
		req.CompletionRating = &v
	}
	req.FeedbackComments = feedbackComments.String
	if staffCreatorID.Valid {
		req.StaffCreatorID = staffCreatorID.String
	}
	if staffCreatorRole.Valid {
		req.StaffCreatorRole = workflow.Role(staffCreatorRole.String)
	}
	req.CreationSource = creationSource.String
	if clientNotifiedAt.Valid {
		t := clientNotifiedAt.Time
		req.ClientNotifiedAt = &t
	}
	return req, nil
}

// storage_Scanner matches both *sql.Row and *sql.Rows' Scan signature.
type storage_Scanner interface {
	Scan(dest ...any) error
}

const requestColumns = `id, workflow_type, client_id, current_role, current_status, priority, description, location, contact_info, state_data, equipment_used, inventory_updated, completion_rating, feedback_comments, created_by_staff, staff_creator_id, staff_creator_role, creation_source, client_notified_at, created_at, updated_at`

func (s *Store) insertRequest(ctx context.Context, req workflow.Request) error {
	_, err := s.requests.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO requests (%s)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	`, requestColumns),
		req.ID, req.WorkflowType, req.ClientID, req.CurrentRole, req.CurrentStatus,
		req.Priority, req.Description, req.Location, marshalJSON(req.ContactInfo), marshalJSON(req.StateData),
		marshalJSON(req.EquipmentUsed), req.InventoryUpdated, nullableInt(req.CompletionRating), nullString(req.FeedbackComments),
		req.CreatedByStaff, nullString(req.StaffCreatorID), nullString(string(req.StaffCreatorRole)), req.CreationSource,
		PtrToNullTime(req.ClientNotifiedAt), req.CreatedAt, req.UpdatedAt,
	)
	return err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func (s *Store) insertTransition(ctx context.Context, t workflow.Transition) error {
	_, err := s.transitions.ExecContext(ctx, `
		INSERT INTO state_transitions (request_id, from_role, to_role, action, actor_id, transition_data, comments, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, t.RequestID, strOfRole(t.FromRole), strOfRole(t.ToRole), t.Action, t.ActorID, marshalJSON(t.TransitionData), t.Comments, t.CreatedAt)
	return err
}

// CreateRequest inserts the Request row and its initiation Transition row in
// a single transaction.
func (s *Store) CreateRequest(ctx context.Context, req workflow.Request, initTransition workflow.Transition) (string, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	initTransition.RequestID = req.ID
	err := s.requests.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.insertRequest(txCtx, req); err != nil {
			return fmt.Errorf("insert request: %w", err)
		}
		if err := s.insertTransition(txCtx, initTransition); err != nil {
			return fmt.Errorf("insert initiation transition: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return req.ID, nil
}

// GetRequest fetches one request snapshot by id.
func (s *Store) GetRequest(ctx context.Context, requestID string) (workflow.Request, error) {
	row := s.requests.QueryRowContext(ctx, fmt.Sprintf("SELECT %s FROM requests WHERE id = $1", requestColumns), requestID)
	return unmarshalRequestRow(row)
}

// UpdateRequestState re-reads the current row, applies mutate inside one
// transaction, writes the updated Request and — when mutate returns a
// non-nil transition — the paired audit row.
func (s *Store) UpdateRequestState(ctx context.Context, requestID string, mutate func(current workflow.Request) (workflow.Request, *workflow.Transition, error)) (workflow.Request, error) {
	var result workflow.Request
	err := s.requests.WithTx(ctx, func(txCtx context.Context) error {
		row := s.requests.QueryRowContext(txCtx, fmt.Sprintf("SELECT %s FROM requests WHERE id = $1 FOR UPDATE", requestColumns), requestID)
		current, err := unmarshalRequestRow(row)
		if err != nil {
			return err
		}
		updated, transition, err := mutate(current)
		if err != nil {
			return err
		}
		updated.UpdatedAt = time.Now().UTC()
		_, err = s.requests.ExecContext(txCtx, `
			UPDATE requests SET
				current_role=$2, current_status=$3, state_data=$4, equipment_used=$5,
				inventory_updated=$6, completion_rating=$7, feedback_comments=$8,
				client_notified_at=$9, updated_at=$10
			WHERE id=$1
		`, updated.ID, updated.CurrentRole, updated.CurrentStatus, marshalJSON(updated.StateData),
			marshalJSON(updated.EquipmentUsed), updated.InventoryUpdated, nullableInt(updated.CompletionRating),
			nullString(updated.FeedbackComments), PtrToNullTime(updated.ClientNotifiedAt), updated.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update request: %w", err)
		}
		if transition != nil {
			transition.RequestID = requestID
			if err := s.insertTransition(txCtx, *transition); err != nil {
				return fmt.Errorf("insert transition: %w", err)
			}
		}
		result = updated
		return nil
	})
	return result, err
}

// GetRequestHistory returns every Transition row for a request, ordered by
// (created_at, id).
func (s *Store) GetRequestHistory(ctx context.Context, requestID string) ([]workflow.Transition, error) {
	rows, err := s.transitions.QueryContext(ctx, `
		SELECT id, request_id, from_role, to_role, action, actor_id, transition_data, comments, created_at
		FROM state_transitions WHERE request_id = $1 ORDER BY created_at ASC, id ASC
	`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []workflow.Transition
	for rows.Next() {
		var (
			t                     workflow.Transition
			fromRole, toRole      sql.NullString
			transitionData        sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.RequestID, &fromRole, &toRole, &t.Action, &t.ActorID, &transitionData, &t.Comments, &t.CreatedAt); err != nil {
			return nil, err
		}
		if fromRole.Valid {
			t.FromRole = roleRef(&fromRole.String)
		}
		if toRole.Valid {
			t.ToRole = roleRef(&toRole.String)
		}
		if transitionData.Valid {
			_ = json.Unmarshal([]byte(transitionData.String), &t.TransitionData)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) queryRequests(ctx context.Context, where string, args ...any) ([]workflow.Request, error) {
	query := fmt.Sprintf("SELECT %s FROM requests", requestColumns)
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY priority DESC, created_at ASC"
	rows, err := s.requests.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []workflow.Request
	for rows.Next() {
		req, err := unmarshalRequestRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// GetRequestsByRole returns requests whose current_role matches role,
// priority-desc then oldest-first, optionally filtered by status.
func (s *Store) GetRequestsByRole(ctx context.Context, role workflow.Role, status store.StatusFilter) ([]workflow.Request, error) {
	if status.Set {
		return s.queryRequests(ctx, "current_role = $1 AND current_status = $2", role, status.Status)
	}
	return s.queryRequests(ctx, "current_role = $1", role)
}

// GetRequestsByClient returns every request belonging to clientID.
func (s *Store) GetRequestsByClient(ctx context.Context, clientID string) ([]workflow.Request, error) {
	return s.queryRequests(ctx, "client_id = $1", clientID)
}

// GetRequestsByStatus returns every request with the given status.
func (s *Store) GetRequestsByStatus(ctx context.Context, status workflow.Status) ([]workflow.Request, error) {
	return s.queryRequests(ctx, "current_status = $1", status)
}

// GetStuckRequests returns in_progress requests not updated within threshold.
func (s *Store) GetStuckRequests(ctx context.Context, threshold time.Duration, now time.Time) ([]workflow.Request, error) {
	cutoff := now.Add(-threshold)
	return s.queryRequests(ctx, "current_status = $1 AND updated_at < $2", workflow.StatusInProgress, cutoff)
}

// RecordStateTransition appends a free-form audit row outside a state change.
func (s *Store) RecordStateTransition(ctx context.Context, t workflow.Transition) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	return s.insertTransition(ctx, t)
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, userID string) (workflow.User, error) {
	return s.scanUser(s.users.QueryRowContext(ctx, `
		SELECT id, phone_normalised, full_name, role, language, COALESCE(address,''), created_at, updated_at
		FROM users WHERE id = $1
	`, userID))
}

// GetUserByPhone fetches a user by normalised phone number.
func (s *Store) GetUserByPhone(ctx context.Context, phoneNormalised string) (workflow.User, error) {
	return s.scanUser(s.users.QueryRowContext(ctx, `
		SELECT id, phone_normalised, full_name, role, language, COALESCE(address,''), created_at, updated_at
		FROM users WHERE phone_normalised = $1
	`, phoneNormalised))
}

func (s *Store) scanUser(row *sql.Row) (workflow.User, error) {
	var u workflow.User
	err := row.Scan(&u.ID, &u.PhoneNormalised, &u.FullName, &u.Role, &u.Language, &u.Address, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// FindUsersByName returns up to limit users whose full name contains query
// (case-insensitive), exact matches first.
func (s *Store) FindUsersByName(ctx context.Context, query string, limit int) ([]workflow.User, error) {
	rows, err := s.users.QueryContext(ctx, `
		SELECT id, phone_normalised, full_name, role, language, COALESCE(address,''), created_at, updated_at
		FROM users
		WHERE full_name ILIKE $1
		ORDER BY (LOWER(full_name) = LOWER($2)) DESC, full_name ASC
		LIMIT $3
	`, "%"+query+"%", query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []workflow.User
	for rows.Next() {
		var u workflow.User
		if err := rows.Scan(&u.ID, &u.PhoneNormalised, &u.FullName, &u.Role, &u.Language, &u.Address, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// CreateUser inserts a new user, rejecting duplicate normalised phones.
func (s *Store) CreateUser(ctx context.Context, u workflow.User) (workflow.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	_, err := s.users.ExecContext(ctx, `
		INSERT INTO users (id, phone_normalised, full_name, role, language, address, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, u.ID, u.PhoneNormalised, u.FullName, u.Role, u.Language, nullString(u.Address), u.CreatedAt, u.UpdatedAt)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return workflow.User{}, fmt.Errorf("phone %s already registered: %w", u.PhoneNormalised, err)
	}
	return u, err
}

// UserHasRole reports whether userID exists and currently holds role.
func (s *Store) UserHasRole(ctx context.Context, userID string, role workflow.Role) (bool, error) {
	var exists bool
	err := s.users.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1 AND role = $2)`, userID, role).Scan(&exists)
	return exists, err
}

// CreateStaffApplicationAudit inserts the denormalised staff-creation audit row.
func (s *Store) CreateStaffApplicationAudit(ctx context.Context, a workflow.StaffApplicationAudit) error {
	_, err := s.staffAudit.ExecContext(ctx, `
		INSERT INTO staff_application_audit (application_id, creator_id, creator_role, client_id, application_type, creation_timestamp, client_notified, workflow_initiated, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, a.ApplicationID, a.CreatorID, a.CreatorRole, a.ClientID, a.ApplicationType, a.CreationTimestamp, a.ClientNotified, a.WorkflowInitiated, marshalJSON(a.Metadata))
	return err
}

// CountStaffApplicationsToday counts audit rows created by creatorID since
// local midnight of now.
func (s *Store) CountStaffApplicationsToday(ctx context.Context, creatorID string, now time.Time) (int, error) {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var count int
	err := s.staffAudit.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM staff_application_audit WHERE creator_id = $1 AND creation_timestamp >= $2
	`, creatorID, midnight).Scan(&count)
	return count, err
}

// MarkStaffApplicationClientNotified flips client_notified to true.
func (s *Store) MarkStaffApplicationClientNotified(ctx context.Context, applicationID string) error {
	_, err := s.staffAudit.ExecContext(ctx, `UPDATE staff_application_audit SET client_notified = true WHERE application_id = $1`, applicationID)
	return err
}

// EnqueueNotificationRetry inserts a new retry-queue row.
func (s *Store) EnqueueNotificationRetry(ctx context.Context, e workflow.NotificationRetryEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := s.notifyRetry.ExecContext(ctx, `
		INSERT INTO notification_retry (id, request_id, intended_recipient_role, retry_count, next_retry_at, last_error, manual_review)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, e.ID, e.RequestID, e.IntendedRecipientRole, e.RetryCount, e.NextRetryAt, e.LastError, e.ManualReview)
	return err
}

// DequeueDueNotificationRetries returns retry rows whose next_retry_at has
// elapsed and which are not yet flagged for manual review.
func (s *Store) DequeueDueNotificationRetries(ctx context.Context, now time.Time) ([]workflow.NotificationRetryEntry, error) {
	rows, err := s.notifyRetry.QueryContext(ctx, `
		SELECT id, request_id, intended_recipient_role, retry_count, next_retry_at, COALESCE(last_error,''), manual_review
		FROM notification_retry WHERE next_retry_at <= $1 AND manual_review = false
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []workflow.NotificationRetryEntry
	for rows.Next() {
		var e workflow.NotificationRetryEntry
		if err := rows.Scan(&e.ID, &e.RequestID, &e.IntendedRecipientRole, &e.RetryCount, &e.NextRetryAt, &e.LastError, &e.ManualReview); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateNotificationRetry persists a retry entry's updated attempt count,
// schedule, or manual-review flag.
func (s *Store) UpdateNotificationRetry(ctx context.Context, e workflow.NotificationRetryEntry) error {
	_, err := s.notifyRetry.ExecContext(ctx, `
		UPDATE notification_retry SET retry_count=$2, next_retry_at=$3, last_error=$4, manual_review=$5 WHERE id=$1
	`, e.ID, e.RetryCount, e.NextRetryAt, e.LastError, e.ManualReview)
	return err
}

// DeleteNotificationRetry removes a retry entry on successful delivery.
func (s *Store) DeleteNotificationRetry(ctx context.Context, id string) error {
	_, err := s.notifyRetry.ExecContext(ctx, `DELETE FROM notification_retry WHERE id = $1`, id)
	return err
}

// CountPendingNotificationRetries counts rows not yet flagged for manual review.
func (s *Store) CountPendingNotificationRetries(ctx context.Context) (int, error) {
	var count int
	err := s.notifyRetry.QueryRowContext(ctx, `SELECT COUNT(*) FROM notification_retry WHERE manual_review = false`).Scan(&count)
	return count, err
}

// ListNotificationRetries returns every retry row, oldest-scheduled first,
// for the admin show_retries view.
func (s *Store) ListNotificationRetries(ctx context.Context) ([]workflow.NotificationRetryEntry, error) {
	rows, err := s.notifyRetry.QueryContext(ctx, `
		SELECT id, request_id, intended_recipient_role, retry_count, next_retry_at, COALESCE(last_error,''), manual_review
		FROM notification_retry ORDER BY next_retry_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []workflow.NotificationRetryEntry
	for rows.Next() {
		var e workflow.NotificationRetryEntry
		if err := rows.Scan(&e.ID, &e.RequestID, &e.IntendedRecipientRole, &e.RetryCount, &e.NextRetryAt, &e.LastError, &e.ManualReview); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetEquipmentStock returns the current stock counter for name.
func (s *Store) GetEquipmentStock(ctx context.Context, name string) (workflow.EquipmentStock, error) {
	var stock workflow.EquipmentStock
	err := s.equipment.QueryRowContext(ctx, `SELECT name, quantity FROM equipment_stock WHERE name = $1`, name).Scan(&stock.Name, &stock.Quantity)
	if err == sql.ErrNoRows {
		return workflow.EquipmentStock{Name: name, Quantity: 0}, nil
	}
	return stock, err
}

// AdjustEquipmentStock atomically adds delta to the stock counter (negative
// to consume, positive to restock), creating the row if it is absent.
func (s *Store) AdjustEquipmentStock(ctx context.Context, name string, delta int) (workflow.EquipmentStock, error) {
	var stock workflow.EquipmentStock
	err := s.equipment.WithTx(ctx, func(txCtx context.Context) error {
		_, err := s.equipment.ExecContext(txCtx, `
			INSERT INTO equipment_stock (name, quantity) VALUES ($1, $2)
			ON CONFLICT (name) DO UPDATE SET quantity = equipment_stock.quantity + $2
		`, name, delta)
		if err != nil {
			return err
		}
		return s.equipment.QueryRowContext(txCtx, `SELECT name, quantity FROM equipment_stock WHERE name = $1`, name).Scan(&stock.Name, &stock.Quantity)
	})
	return stock, err
}

// RecordEquipmentMovement appends an inventory ledger row.
func (s *Store) RecordEquipmentMovement(ctx context.Context, m workflow.EquipmentMovement) error {
	_, err := s.movements.ExecContext(ctx, `
		INSERT INTO equipment_movements (request_id, name, delta, created_at) VALUES ($1,$2,$3,$4)
	`, m.RequestID, m.Name, m.Delta, m.CreatedAt)
	return err
}

// GetRequestsPendingInventory returns requests of any status that list
// equipment_used but have inventory_updated=false, used by the
// reconciliation job.
func (s *Store) GetRequestsPendingInventory(ctx context.Context) ([]workflow.Request, error) {
	return s.queryRequests(ctx, "inventory_updated = false AND equipment_used != '[]'::jsonb AND equipment_used IS NOT NULL")
}

// RecordError inserts an observability error record.
func (s *Store) RecordError(ctx context.Context, category, severity, reason string, errContext map[string]any, createdAt time.Time) error {
	_, err := s.errorRecords.ExecContext(ctx, `
		INSERT INTO error_records (category, severity, reason, context, created_at) VALUES ($1,$2,$3,$4,$5)
	`, category, severity, reason, marshalJSON(errContext), createdAt)
	return err
}

// CountErrorsSince returns a count of error records per category since the
// given time, for the health report.
func (s *Store) CountErrorsSince(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := s.errorRecords.QueryContext(ctx, `
		SELECT category, COUNT(*) FROM error_records WHERE created_at >= $1 GROUP BY category
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var cat string
		var count int
		if err := rows.Scan(&cat, &count); err != nil {
			return nil, err
		}
		out[cat] = count
	}
	return out, rows.Err()
}

// CountErrorsBySeveritySince counts error records of the given severity
// since the given time.
func (s *Store) CountErrorsBySeveritySince(ctx context.Context, since time.Time, severity string) (int, error) {
	var count int
	err := s.errorRecords.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM error_records WHERE created_at >= $1 AND severity = $2
	`, since, severity).Scan(&count)
	return count, err
}
