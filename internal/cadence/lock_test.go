package cadence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"example.com/cadence/internal/persistence/memory"
)

func TestKeyedLockerSerialisesSameLead(t *testing.T) {
	locker := NewKeyedLocker()
	unlock, err := locker.Lock(context.Background(), tenantA, leadID)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		release, err := locker.Lock(context.Background(), tenantA, leadID)
		if err == nil {
			release()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first is held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired")
	}

	locker.mu.Lock()
	require.Empty(t, locker.locks)
	locker.mu.Unlock()
}

func TestKeyedLockerIndependentKeys(t *testing.T) {
	locker := NewKeyedLocker()
	unlockA, err := locker.Lock(context.Background(), tenantA, leadID)
	require.NoError(t, err)
	defer unlockA()

	unlockB, err := locker.Lock(context.Background(), tenantB, leadID)
	require.NoError(t, err)
	unlockB()
}

func TestKeyedLockerHonoursContext(t *testing.T) {
	locker := NewKeyedLocker()
	unlock, err := locker.Lock(context.Background(), tenantA, leadID)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, tenantA, leadID)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

type traceLocker struct {
	name  string
	trail *[]string
	err   error
}

func (l traceLocker) Lock(context.Context, string, string) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	*l.trail = append(*l.trail, "lock "+l.name)
	return func() { *l.trail = append(*l.trail, "unlock "+l.name) }, nil
}

func TestLayeredLockerReleasesInReverse(t *testing.T) {
	var trail []string
	locker := LayeredLocker{traceLocker{name: "local", trail: &trail}, traceLocker{name: "shared", trail: &trail}}

	unlock, err := locker.Lock(context.Background(), tenantA, leadID)
	require.NoError(t, err)
	unlock()
	require.Equal(t, []string{"lock local", "lock shared", "unlock shared", "unlock local"}, trail)
}

func TestLayeredLockerReleasesHeldLayersOnFailure(t *testing.T) {
	var trail []string
	boom := errors.New("lock pool closed")
	locker := LayeredLocker{traceLocker{name: "local", trail: &trail}, traceLocker{name: "shared", trail: &trail, err: boom}}

	_, err := locker.Lock(context.Background(), tenantA, leadID)
	require.ErrorIs(t, err, boom)
	require.Equal(t, []string{"lock local", "unlock local"}, trail)
}

func TestLayeredKeyedLockerKeepsAdvanceIdempotent(t *testing.T) {
	store := memory.NewStore()
	seedPipeline(t, store, tenantA)
	orch := newOrchestrator(store, WithLocker(LayeredLocker{NewKeyedLocker(), NoopLocker{}}))

	var group errgroup.Group
	for i := 0; i < 6; i++ {
		group.Go(func() error {
			_, err := orch.Advance(context.Background(), trigger(tenantA, "Qualified", t0))
			return err
		})
	}
	require.NoError(t, group.Wait())
	require.Len(t, store.Instances(tenantA, leadID), 3)
}
