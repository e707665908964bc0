package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DigitCast/internal/domain/models"
	pkgkafka "DigitCast/pkg/kafka"
)

func seqIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("00000000-0000-4000-8000-%012d", n)
	}
}

func newManager(t *testing.T, opts ...ManagerOption) (*SessionManager, *fakeMetrics) {
	t.Helper()
	met := newFakeMetrics()
	opts = append([]ManagerOption{WithIDGenerator(seqIDs())}, opts...)
	m := NewSessionManager(ManagerConfig{MaxSessions: 2, WindowSize: 5, Capacity: 10}, &constTrainer{sym: 2}, met, nil, opts...)
	return m, met
}

func TestManagerCreateGetDelete(t *testing.T) {
	ctx := context.Background()
	m, met := newManager(t)

	a, err := m.Create(ctx, models.CreateSessionRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.StateUntrained, a.State)
	assert.Equal(t, 5, a.WindowSize)
	assert.Equal(t, 10, a.Ledger.Capacity)

	b, err := m.Create(ctx, models.CreateSessionRequest{WindowSize: 3, Capacity: 4})
	require.NoError(t, err)
	assert.Equal(t, 3, b.WindowSize)
	assert.Equal(t, 2, met.active)

	_, err = m.Create(ctx, models.CreateSessionRequest{})
	assert.ErrorIs(t, err, models.ErrTooManySessions)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)

	require.NoError(t, m.Delete(ctx, a.ID))
	_, err = m.Get(a.ID)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
	assert.ErrorIs(t, m.Delete(ctx, a.ID), models.ErrSessionNotFound)
	assert.Equal(t, 1, met.active)
}

func TestManagerSessionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	a, _ := m.Create(ctx, models.CreateSessionRequest{})
	b, _ := m.Create(ctx, models.CreateSessionRequest{})
	for _, id := range []string{a.ID, b.ID} {
		_, err := m.Train(ctx, id, digits("0123456789"))
		require.NoError(t, err)
		_, err = m.Seed(ctx, id, "12345")
		require.NoError(t, err)
	}
	_, err := m.Observe(ctx, a.ID, 3)
	require.NoError(t, err)

	va, _ := m.View(ctx, a.ID)
	vb, _ := m.View(ctx, b.ID)
	assert.Equal(t, 1, va.Ledger.Turns())
	assert.Equal(t, 0, vb.Ledger.Turns())
	assert.Equal(t, "23453", va.Window.String())
	assert.Equal(t, "12345", vb.Window.String())
}

func TestManagerTrainFromLogSource(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t, WithLogSource(fakeLogSource{log: digits("01234567890123")}))
	v, _ := m.Create(ctx, models.CreateSessionRequest{})
	v, err := m.Train(ctx, v.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 14, v.LogLength)

	bare, _ := newManager(t)
	w, _ := bare.Create(ctx, models.CreateSessionRequest{})
	_, err = bare.Train(ctx, w.ID, nil)
	assert.ErrorIs(t, err, models.ErrInsufficientData)
}

func TestManagerSeedValidation(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	v, _ := m.Create(ctx, models.CreateSessionRequest{})
	_, err := m.Train(ctx, v.ID, digits("0123456789"))
	require.NoError(t, err)

	for _, raw := range []string{"1234", "123456", "12a45"} {
		_, err := m.Seed(ctx, v.ID, raw)
		assert.ErrorIs(t, err, models.ErrInvalidSeed, raw)
	}
	got, _ := m.View(ctx, v.ID)
	assert.Equal(t, models.StateAwaitingSeed, got.State)
}

func TestManagerSinks(t *testing.T) {
	ctx := context.Background()
	hist := &fakeHistory{}
	pub := &fakePublisher{}
	snaps := &fakeSnapshots{}
	m, _ := newManager(t, WithHistoryStore(hist), WithTurnPublisher(pub), WithSnapshotStore(snaps))

	v, _ := m.Create(ctx, models.CreateSessionRequest{})
	_, _ = m.Train(ctx, v.ID, digits("0123456789"))
	_, _ = m.Seed(ctx, v.ID, "12345")
	for _, s := range []models.Symbol{1, 8, 3} {
		_, err := m.Observe(ctx, v.ID, s)
		require.NoError(t, err)
	}

	require.Len(t, pub.events, 3)
	assert.Equal(t, models.Loss, pub.events[1].Entry.Outcome)
	assert.Len(t, hist.entries[v.ID], 3)
	cached, err := snaps.Load(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, cached.Ledger.Turns())

	// deleted sessions fall back to the history store
	require.NoError(t, m.Delete(ctx, v.ID))
	entries, err := m.History(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, 3, entries[0].Turn)
	_, err = snaps.Load(ctx, v.ID)
	assert.Error(t, err)

	require.NoError(t, m.Close())
	assert.True(t, hist.closed)
}

func TestManagerSinkFailureDoesNotRollBack(t *testing.T) {
	ctx := context.Background()
	hist := &fakeHistory{fail: true}
	m, met := newManager(t, WithHistoryStore(hist))
	v, _ := m.Create(ctx, models.CreateSessionRequest{})
	_, _ = m.Train(ctx, v.ID, digits("0123456789"))
	_, _ = m.Seed(ctx, v.ID, "12345")

	got, err := m.Observe(ctx, v.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Ledger.Turns())
	assert.Equal(t, 1, met.errs["history_save"])
}

func TestManagerViewFallsBackToSnapshot(t *testing.T) {
	ctx := context.Background()
	snaps := &fakeSnapshots{}
	m, _ := newManager(t, WithSnapshotStore(snaps))
	id := "00000000-0000-4000-8000-999999999999"
	_ = snaps.Save(ctx, models.SessionView{ID: id, State: models.StatePredicting}, 0)

	v, err := m.View(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatePredicting, v.State)

	_, err = m.View(ctx, "00000000-0000-4000-8000-000000000077")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestManagerStreamReceivesTransitions(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	v, _ := m.Create(ctx, models.CreateSessionRequest{})
	sub := m.Hub().Subscribe(v.ID)
	defer sub.Close()

	_, _ = m.Train(ctx, v.ID, digits("0123456789"))
	_, _ = m.Seed(ctx, v.ID, "12345")
	_, _ = m.Observe(ctx, v.ID, 0)

	var states []models.SessionState
	for i := 0; i < 3; i++ {
		states = append(states, (<-sub.C).State)
	}
	assert.Equal(t, []models.SessionState{models.StateAwaitingSeed, models.StatePredicting, models.StatePredicting}, states)

	require.NoError(t, m.Delete(ctx, v.ID))
	_, open := <-sub.C
	assert.False(t, open)
}

func TestKafkaOutcomesHandler(t *testing.T) {
	ctx := context.Background()
	m, met := newManager(t)
	v, _ := m.Create(ctx, models.CreateSessionRequest{})
	_, _ = m.Train(ctx, v.ID, digits("0123456789"))
	_, _ = m.Seed(ctx, v.ID, "12345")

	h := NewKafkaOutcomesHandler("digitcast.outcomes", m, met)
	assert.Equal(t, "digitcast.outcomes", h.Topic())

	msg, _ := json.Marshal(map[string]interface{}{"session_id": v.ID, "symbol": 6})
	require.NoError(t, h.Handle(ctx, msg))
	got, _ := m.View(ctx, v.ID)
	assert.Equal(t, 1, got.Ledger.TotalLosses)

	err := h.Handle(ctx, []byte("{not json"))
	assert.True(t, pkgkafka.IsPermanent(err))

	err = h.Handle(ctx, []byte(`{"session_id":"`+v.ID+`","symbol":12}`))
	assert.True(t, pkgkafka.IsPermanent(err))

	err = h.Handle(ctx, []byte(`{"session_id":"00000000-0000-4000-8000-000000000042","symbol":1}`))
	assert.True(t, pkgkafka.IsPermanent(err))
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}
