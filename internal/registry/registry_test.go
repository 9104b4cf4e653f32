// internal/registry/registry_test.go
package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/UltimaRobotics/ur-mavdiscovery/internal/model"
)

func TestInsert_RejectsDuplicateWithoutDisturbing(t *testing.T) {
	r := New(DefaultCapacity, zap.NewNop())

	rec, err := r.Insert("/dev/ttyACM0")
	require.NoError(t, err)
	require.NoError(t, r.SetState(rec.Path, model.StateAwaitingHeartbeat, ""))

	_, err = r.Insert("/dev/ttyACM0")
	require.ErrorIs(t, err, ErrAlreadyTracked)

	got, ok := r.Get("/dev/ttyACM0")
	require.True(t, ok)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, model.StateAwaitingHeartbeat, got.State)
	assert.Equal(t, 1, r.Len())
}

func TestInsert_Capacity(t *testing.T) {
	r := New(3, zap.NewNop())

	for i := 0; i < 3; i++ {
		_, err := r.Insert(fmt.Sprintf("/dev/ttyUSB%d", i))
		require.NoError(t, err)
	}

	_, err := r.Insert("/dev/ttyUSB3")
	require.ErrorIs(t, err, ErrFull)

	// Freed capacity is reusable, ids are not.
	r.Remove("/dev/ttyUSB0")
	rec, err := r.Insert("/dev/ttyUSB3")
	require.NoError(t, err)
	assert.Equal(t, 4, rec.ID)
}

func TestRemove_UnknownPathIsNoop(t *testing.T) {
	r := New(DefaultCapacity, zap.NewNop())
	_, err := r.Insert("/dev/ttyACM0")
	require.NoError(t, err)

	assert.False(t, r.Remove("/dev/ttyACM9"))
	assert.Equal(t, 1, r.Len())
}

func TestRemove_CancelsAndJoinsWorker(t *testing.T) {
	r := New(DefaultCapacity, zap.NewNop())
	rec, err := r.Insert("/dev/ttyACM0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	require.NoError(t, r.Attach(rec.Path, cancel, done))

	var exited bool
	go func() {
		defer close(done)
		<-ctx.Done()
		// The worker may still update its record while exiting.
		time.Sleep(20 * time.Millisecond)
		_ = r.MarkStopped(rec.Path)
		exited = true
	}()

	assert.True(t, r.Remove(rec.Path))
	assert.True(t, exited)

	_, ok := r.Get(rec.Path)
	assert.False(t, ok)
	_, ok = r.Lookup(rec.ID)
	assert.False(t, ok)
}

func TestLookupByID(t *testing.T) {
	r := New(DefaultCapacity, zap.NewNop())
	a, err := r.Insert("/dev/ttyACM0")
	require.NoError(t, err)
	b, err := r.Insert("/dev/ttyACM1")
	require.NoError(t, err)

	got, ok := r.Lookup(b.ID)
	require.True(t, ok)
	assert.Equal(t, "/dev/ttyACM1", got.Path)

	got, ok = r.Lookup(a.ID)
	require.True(t, ok)
	assert.Equal(t, "/dev/ttyACM0", got.Path)
}

func TestMutationHelpers(t *testing.T) {
	r := New(DefaultCapacity, zap.NewNop())
	rec, err := r.Insert("/dev/ttyACM0")
	require.NoError(t, err)

	first := time.Now()
	require.NoError(t, r.MarkHeartbeat(rec.Path, first))
	require.NoError(t, r.MarkHeartbeat(rec.Path, first.Add(time.Second)))
	require.NoError(t, r.SetPort(rec.Path, 3))

	identity := &model.DeviceIdentity{Manufacturer: "CubePilot", ProductName: "Cube Orange"}
	require.NoError(t, r.SetIdentity(rec.Path, identity))

	got, _ := r.Get(rec.Path)
	assert.True(t, got.MavlinkValid)
	assert.True(t, got.HeartbeatSeenAt.Equal(first))
	assert.Equal(t, model.StateIdentified, got.State)
	assert.Equal(t, identity, got.Identity)

	status := got.Status()
	require.NotNil(t, status.HeartbeatSeenAt)
	assert.True(t, status.HeartbeatSeenAt.Equal(first))

	require.NoError(t, r.MarkStopped(rec.Path))
	got, _ = r.Get(rec.Path)
	assert.False(t, got.Running)
	assert.Zero(t, got.Port)

	assert.ErrorIs(t, r.SetState("/dev/none", model.StateTimedOut, ""), ErrNotTracked)
}

func TestConcurrentInsertRemove(t *testing.T) {
	r := New(DefaultCapacity, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := fmt.Sprintf("/dev/ttyUSB%d", i)
			_, err := r.Insert(path)
			assert.NoError(t, err)
			if i%2 == 0 {
				r.Remove(path)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, r.Len())
	snapshot := r.Snapshot()
	for i := 1; i < len(snapshot); i++ {
		assert.Less(t, snapshot[i-1].ID, snapshot[i].ID)
	}

	r.RemoveAll()
	assert.Zero(t, r.Len())
}
