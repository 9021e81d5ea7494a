package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fieldops/workflow-engine/internal/workflow"
	"github.com/fieldops/workflow-engine/internal/workflow/store/memstore"
)

type fakeTransport struct {
	fail bool
	sent []Message
}

func (f *fakeTransport) Send(ctx context.Context, msg Message) error {
	f.sent = append(f.sent, msg)
	if f.fail {
		return errors.New("simulated transport outage")
	}
	return nil
}

func TestDispatcherDeliversSuccessfully(t *testing.T) {
	transport := &fakeTransport{}
	s := memstore.New()
	d := New(s, transport, nil)

	d.Assignment(context.Background(), workflow.Request{ID: "req-1", Priority: workflow.PriorityHigh}, workflow.RoleTechnician)

	require.Len(t, transport.sent, 1)
	require.Equal(t, IntentAssignment, transport.sent[0].Intent)

	count, err := s.CountPendingNotificationRetries(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestDispatcherQueuesRetryOnFailure(t *testing.T) {
	transport := &fakeTransport{fail: true}
	s := memstore.New()
	d := New(s, transport, nil)

	d.Completion(context.Background(), workflow.Request{ID: "req-1", ClientID: "client-1"})

	count, err := s.CountPendingNotificationRetries(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestDispatcherWithNilTransportQueuesRetry(t *testing.T) {
	s := memstore.New()
	d := New(s, nil, nil)

	d.StaffConfirmation(context.Background(), workflow.Request{ID: "req-1", StaffCreatorID: "staff-1"})

	count, err := s.CountPendingNotificationRetries(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestRetryDrainRedeliversAndClears(t *testing.T) {
	s := memstore.New()
	transport := &fakeTransport{fail: true}
	d := New(s, transport, nil)
	d.ClientOnStaffCreation(context.Background(), workflow.Request{ID: "req-1", ClientID: "client-1"})

	count, err := s.CountPendingNotificationRetries(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)

	transport.fail = false
	drain := NewRetryDrain(s, transport, nil)
	drain.tick(context.Background())

	count, err = s.CountPendingNotificationRetries(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestRetryDrainFlagsManualReviewAfterMaxAttempts(t *testing.T) {
	s := memstore.New()
	transport := &fakeTransport{fail: true}
	d := New(s, transport, nil)
	d.Completion(context.Background(), workflow.Request{ID: "req-1", ClientID: "client-1"})

	drain := NewRetryDrain(s, transport, nil)
	for i := 0; i < retryMaxAttempts; i++ {
		entries, err := s.DequeueDueNotificationRetries(context.Background(), time.Now().UTC().Add(24*time.Hour))
		require.NoError(t, err)
		for _, e := range entries {
			e.NextRetryAt = time.Now().UTC().Add(-time.Second)
			require.NoError(t, s.UpdateNotificationRetry(context.Background(), e))
		}
		drain.tick(context.Background())
	}

	entries, err := s.DequeueDueNotificationRetries(context.Background(), time.Now().UTC().Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, entries, 0, "manual-review entries are excluded from the due queue")
}

func TestBackoffForCapsAtThirtyMinutes(t *testing.T) {
	require.Equal(t, retryBase, backoffFor(0))
	require.Equal(t, retryCap, backoffFor(20))
}
