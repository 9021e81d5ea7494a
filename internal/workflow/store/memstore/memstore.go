// Package memstore provides an in-memory store.Store used by unit tests for
// the registry, access control, state manager, and engine packages so they
// never need a live PostgreSQL connection.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/workflow-engine/internal/workflow"
	"github.com/fieldops/workflow-engine/internal/workflow/store"
)

// Store is a goroutine-safe, in-memory implementation of store.Store.
type Store struct {
	mu sync.Mutex

	requests      map[string]workflow.Request
	transitions   map[string][]workflow.Transition
	nextTxnID     int64
	users         map[string]workflow.User
	staffAudit    []workflow.StaffApplicationAudit
	notifyRetries map[string]workflow.NotificationRetryEntry
	equipment     map[string]int
	movements     []workflow.EquipmentMovement
	errors        []errorRecord
}

type errorRecord struct {
	category, severity, reason string
	context                    map[string]any
	createdAt                  time.Time
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		requests:      make(map[string]workflow.Request),
		transitions:   make(map[string][]workflow.Transition),
		users:         make(map[string]workflow.User),
		notifyRetries: make(map[string]workflow.NotificationRetryEntry),
		equipment:     make(map[string]int),
	}
}

var _ store.Store = (*Store)(nil)

func cloneRequest(r workflow.Request) workflow.Request {
	out := r
	out.StateData = r.StateData.Merge(nil)
	out.EquipmentUsed = append([]workflow.EquipmentItem(nil), r.EquipmentUsed...)
	if r.CompletionRating != nil {
		v := *r.CompletionRating
		out.CompletionRating = &v
	}
	if r.ClientNotifiedAt != nil {
		v := *r.ClientNotifiedAt
		out.ClientNotifiedAt = &v
	}
	return out
}

// CreateRequest inserts req and its initiation transition atomically.
func (s *Store) CreateRequest(ctx context.Context, req workflow.Request, initTransition workflow.Transition) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if _, exists := s.requests[req.ID]; exists {
		return "", fmt.Errorf("request %s already exists", req.ID)
	}
	initTransition.RequestID = req.ID
	initTransition.ID = s.nextTxnID + 1
	s.nextTxnID++
	s.requests[req.ID] = cloneRequest(req)
	s.transitions[req.ID] = append(s.transitions[req.ID], initTransition)
	return req.ID, nil
}

// GetRequest returns a snapshot of the request, or sql.ErrNoRows-equivalent.
func (s *Store) GetRequest(ctx context.Context, requestID string) (workflow.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok {
		return workflow.Request{}, fmt.Errorf("request %s: %w", requestID, errNotFound)
	}
	return cloneRequest(req), nil
}

var errNotFound = fmt.Errorf("not found")

// IsNotFound reports whether err was produced by a missing request lookup.
func IsNotFound(err error) bool {
	return err != nil && (err == errNotFound || isWrapped(err))
}

func isWrapped(err error) bool {
	type unwrapper interface{ Unwrap() error }
	for {
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
		if err == errNotFound {
			return true
		}
	}
}

// UpdateRequestState applies mutate under the store's lock, atomically with
// appending any returned transition row.
func (s *Store) UpdateRequestState(ctx context.Context, requestID string, mutate func(workflow.Request) (workflow.Request, *workflow.Transition, error)) (workflow.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.requests[requestID]
	if !ok {
		return workflow.Request{}, fmt.Errorf("request %s: %w", requestID, errNotFound)
	}
	updated, transition, err := mutate(cloneRequest(current))
	if err != nil {
		return workflow.Request{}, err
	}
	updated.UpdatedAt = time.Now().UTC()
	s.requests[requestID] = cloneRequest(updated)
	if transition != nil {
		transition.RequestID = requestID
		s.nextTxnID++
		transition.ID = s.nextTxnID
		if transition.CreatedAt.IsZero() {
			transition.CreatedAt = updated.UpdatedAt
		}
		s.transitions[requestID] = append(s.transitions[requestID], *transition)
	}
	return cloneRequest(s.requests[requestID]), nil
}

// GetRequestHistory returns all transitions for requestID in append order.
func (s *Store) GetRequestHistory(ctx context.Context, requestID string) ([]workflow.Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]workflow.Transition(nil), s.transitions[requestID]...), nil
}

func (s *Store) allRequests() []workflow.Request {
	out := make([]workflow.Request, 0, len(s.requests))
	for _, r := range s.requests {
		out = append(out, cloneRequest(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return priorityRank(out[i].Priority) > priorityRank(out[j].Priority)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func priorityRank(p workflow.Priority) int {
	switch p {
	case workflow.PriorityUrgent:
		return 3
	case workflow.PriorityHigh:
		return 2
	case workflow.PriorityMedium:
		return 1
	default:
		return 0
	}
}

// GetRequestsByRole returns requests currently at role, priority-desc then
// oldest-first, optionally filtered by status.
func (s *Store) GetRequestsByRole(ctx context.Context, role workflow.Role, status store.StatusFilter) ([]workflow.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []workflow.Request
	for _, r := range s.allRequests() {
		if r.CurrentRole != role {
			continue
		}
		if status.Set && r.CurrentStatus != status.Status {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// GetRequestsByClient returns every request belonging to clientID.
func (s *Store) GetRequestsByClient(ctx context.Context, clientID string) ([]workflow.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []workflow.Request
	for _, r := range s.allRequests() {
		if r.ClientID == clientID {
			out = append(out, r)
		}
	}
	return out, nil
}

// GetRequestsByStatus returns every request in the given status.
func (s *Store) GetRequestsByStatus(ctx context.Context, status workflow.Status) ([]workflow.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []workflow.Request
	for _, r := range s.allRequests() {
		if r.CurrentStatus == status {
			out = append(out, r)
		}
	}
	return out, nil
}

// GetStuckRequests returns in_progress requests not updated within threshold of now.
func (s *Store) GetStuckRequests(ctx context.Context, threshold time.Duration, now time.Time) ([]workflow.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-threshold)
	var out []workflow.Request
	for _, r := range s.allRequests() {
		if r.CurrentStatus == workflow.StatusInProgress && r.UpdatedAt.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out, nil
}

// RecordStateTransition appends a free-form audit row.
func (s *Store) RecordStateTransition(ctx context.Context, t workflow.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTxnID++
	t.ID = s.nextTxnID
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	s.transitions[t.RequestID] = append(s.transitions[t.RequestID], t)
	return nil
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, userID string) (workflow.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return workflow.User{}, fmt.Errorf("user %s: %w", userID, errNotFound)
	}
	return u, nil
}

// GetUserByPhone fetches a user by normalised phone.
func (s *Store) GetUserByPhone(ctx context.Context, phoneNormalised string) (workflow.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.PhoneNormalised == phoneNormalised {
			return u, nil
		}
	}
	return workflow.User{}, fmt.Errorf("phone %s: %w", phoneNormalised, errNotFound)
}

// FindUsersByName returns up to limit users whose name contains query.
func (s *Store) FindUsersByName(ctx context.Context, query string, limit int) ([]workflow.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var exact, partial []workflow.User
	lowerQuery := toLower(query)
	for _, u := range s.users {
		name := toLower(u.FullName)
		if name == lowerQuery {
			exact = append(exact, u)
		} else if contains(name, lowerQuery) {
			partial = append(partial, u)
		}
	}
	sort.Slice(exact, func(i, j int) bool { return exact[i].FullName < exact[j].FullName })
	sort.Slice(partial, func(i, j int) bool { return partial[i].FullName < partial[j].FullName })
	out := append(exact, partial...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func contains(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

// CreateUser inserts u, rejecting duplicate normalised phones.
func (s *Store) CreateUser(ctx context.Context, u workflow.User) (workflow.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.PhoneNormalised == u.PhoneNormalised {
			return workflow.User{}, fmt.Errorf("phone %s already registered", u.PhoneNormalised)
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.ID] = u
	return u, nil
}

// UserHasRole reports whether userID exists and holds role.
func (s *Store) UserHasRole(ctx context.Context, userID string, role workflow.Role) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	return ok && u.Role == role, nil
}

// CreateStaffApplicationAudit appends an audit row.
func (s *Store) CreateStaffApplicationAudit(ctx context.Context, a workflow.StaffApplicationAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staffAudit = append(s.staffAudit, a)
	return nil
}

// CountStaffApplicationsToday counts audit rows by creatorID since local midnight.
func (s *Store) CountStaffApplicationsToday(ctx context.Context, creatorID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	count := 0
	for _, a := range s.staffAudit {
		if a.CreatorID == creatorID && !a.CreationTimestamp.Before(midnight) {
			count++
		}
	}
	return count, nil
}

// MarkStaffApplicationClientNotified flips client_notified for applicationID.
func (s *Store) MarkStaffApplicationClientNotified(ctx context.Context, applicationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.staffAudit {
		if s.staffAudit[i].ApplicationID == applicationID {
			s.staffAudit[i].ClientNotified = true
			return nil
		}
	}
	return fmt.Errorf("application %s: %w", applicationID, errNotFound)
}

// EnqueueNotificationRetry inserts e.
func (s *Store) EnqueueNotificationRetry(ctx context.Context, e workflow.NotificationRetryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	s.notifyRetries[e.ID] = e
	return nil
}

// DequeueDueNotificationRetries returns entries due for retry.
func (s *Store) DequeueDueNotificationRetries(ctx context.Context, now time.Time) ([]workflow.NotificationRetryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []workflow.NotificationRetryEntry
	for _, e := range s.notifyRetries {
		if !e.ManualReview && !e.NextRetryAt.After(now) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRetryAt.Before(out[j].NextRetryAt) })
	return out, nil
}

// UpdateNotificationRetry persists e's updated fields.
func (s *Store) UpdateNotificationRetry(ctx context.Context, e workflow.NotificationRetryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifyRetries[e.ID] = e
	return nil
}

// DeleteNotificationRetry removes the entry by id.
func (s *Store) DeleteNotificationRetry(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.notifyRetries, id)
	return nil
}

// ListNotificationRetries returns every retry entry regardless of due time
// or manual-review state, sorted oldest-first.
func (s *Store) ListNotificationRetries(ctx context.Context) ([]workflow.NotificationRetryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]workflow.NotificationRetryEntry, 0, len(s.notifyRetries))
	for _, e := range s.notifyRetries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRetryAt.Before(out[j].NextRetryAt) })
	return out, nil
}

// CountPendingNotificationRetries counts entries not flagged for manual review.
func (s *Store) CountPendingNotificationRetries(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, e := range s.notifyRetries {
		if !e.ManualReview {
			count++
		}
	}
	return count, nil
}

// GetEquipmentStock returns the stock counter for name (0 if never seeded).
func (s *Store) GetEquipmentStock(ctx context.Context, name string) (workflow.EquipmentStock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return workflow.EquipmentStock{Name: name, Quantity: s.equipment[name]}, nil
}

// AdjustEquipmentStock atomically applies delta to name's stock counter.
func (s *Store) AdjustEquipmentStock(ctx context.Context, name string, delta int) (workflow.EquipmentStock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.equipment[name] += delta
	return workflow.EquipmentStock{Name: name, Quantity: s.equipment[name]}, nil
}

// RecordEquipmentMovement appends a ledger row.
func (s *Store) RecordEquipmentMovement(ctx context.Context, m workflow.EquipmentMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.movements = append(s.movements, m)
	return nil
}

// GetRequestsPendingInventory returns requests with equipment used but never
// reconciled.
func (s *Store) GetRequestsPendingInventory(ctx context.Context) ([]workflow.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []workflow.Request
	for _, r := range s.allRequests() {
		if !r.InventoryUpdated && len(r.EquipmentUsed) > 0 {
			out = append(out, r)
		}
	}
	return out, nil
}

// RecordError appends an in-memory error record for the health report.
func (s *Store) RecordError(ctx context.Context, category, severity, reason string, errContext map[string]any, createdAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, errorRecord{category, severity, reason, errContext, createdAt})
	return nil
}

// CountErrorsSince counts error records per category since the given time.
func (s *Store) CountErrorsSince(ctx context.Context, since time.Time) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int)
	for _, e := range s.errors {
		if !e.createdAt.Before(since) {
			out[e.category]++
		}
	}
	return out, nil
}

// CountErrorsBySeveritySince counts error records of the given severity since the given time.
func (s *Store) CountErrorsBySeveritySince(ctx context.Context, since time.Time, severity string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, e := range s.errors {
		if !e.createdAt.Before(since) && e.severity == severity {
			count++
		}
	}
	return count, nil
}
