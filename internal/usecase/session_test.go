package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DigitCast/internal/domain/models"
	"DigitCast/internal/services/model"
)

func digits(s string) []models.Symbol {
	out, err := models.ParseDigits(s)
	if err != nil {
		panic(err)
	}
	return out
}

func trainedSession(t *testing.T, trainer *constTrainer, log string) *Session {
	t.Helper()
	s := NewSession("s1", trainer, 5, 10, nil, nil)
	_, err := s.Train(context.Background(), digits(log))
	require.NoError(t, err)
	return s
}

func TestSessionStateMachine(t *testing.T) {
	ctx := context.Background()
	s := NewSession("s1", &constTrainer{sym: 1}, 5, 10, nil, nil)
	assert.Equal(t, models.StateUntrained, s.State())

	_, _, err := s.Observe(ctx, 3)
	assert.ErrorIs(t, err, models.ErrInvalidState)
	_, err = s.Initialize(ctx, digits("12345"))
	assert.ErrorIs(t, err, models.ErrInvalidState)

	v, err := s.Train(ctx, digits("0123456789012"))
	require.NoError(t, err)
	assert.Equal(t, models.StateAwaitingSeed, v.State)
	assert.Equal(t, 8, v.TrainingRows)
	assert.Equal(t, 13, v.LogLength)

	_, _, err = s.Observe(ctx, 3)
	assert.ErrorIs(t, err, models.ErrInvalidState)

	v, err = s.Initialize(ctx, digits("12345"))
	require.NoError(t, err)
	assert.Equal(t, models.StatePredicting, v.State)
	require.NotNil(t, v.Prediction)
	assert.Equal(t, models.Small, v.Prediction.Category)

	_, err = s.Initialize(ctx, digits("12345"))
	assert.ErrorIs(t, err, models.ErrInvalidState)

	v = s.Reset()
	assert.Equal(t, models.StateUntrained, v.State)
	assert.Nil(t, v.Prediction)
	assert.Nil(t, v.Window)
	assert.Equal(t, 0, v.Ledger.Turns())
	assert.Equal(t, 0, v.TrainingRows)
}

func TestSessionTrainFailureStaysUntrained(t *testing.T) {
	ctx := context.Background()
	s := NewSession("s1", &constTrainer{sym: 1}, 5, 10, nil, nil)
	_, err := s.Train(ctx, digits("12345"))
	assert.ErrorIs(t, err, models.ErrInsufficientData)
	assert.Equal(t, models.StateUntrained, s.State())

	bad := NewSession("s2", &constTrainer{fail: errors.New("boom")}, 5, 10, nil, nil)
	_, err = bad.Train(ctx, digits("0123456789"))
	assert.Error(t, err)
	assert.Equal(t, models.StateUntrained, bad.State())
}

func TestSessionEndToEnd(t *testing.T) {
	ctx := context.Background()
	s := trainedSession(t, &constTrainer{sym: 1}, "0123456789")
	_, err := s.Initialize(ctx, digits("12345"))
	require.NoError(t, err)

	v, ev, err := s.Observe(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, models.Win, ev.Entry.Outcome)
	assert.Equal(t, 1, v.Ledger.CurrentStreak)
	assert.Equal(t, 1, v.Ledger.TotalWins)
	assert.Equal(t, "23452", v.Window.String())
	assert.Equal(t, models.Small, ev.Next.Category)

	v, ev, err = s.Observe(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, models.Loss, ev.Entry.Outcome)
	assert.Equal(t, models.Big, ev.Entry.ObservedCategory)
	assert.Equal(t, 1, v.Ledger.CurrentStreak)
	assert.GreaterOrEqual(t, v.Ledger.MaxLossStreak, 1)
	assert.Equal(t, 2, v.Ledger.Turns())
}

func TestSessionInvalidInputLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	s := trainedSession(t, &constTrainer{sym: 7}, "0123456789")

	_, err := s.Initialize(ctx, digits("1234"))
	assert.ErrorIs(t, err, models.ErrInvalidSeed)
	assert.Equal(t, models.StateAwaitingSeed, s.State())

	_, err = s.Initialize(ctx, digits("12345"))
	require.NoError(t, err)
	before := s.View()

	_, _, err = s.Observe(ctx, 10)
	assert.ErrorIs(t, err, models.ErrInvalidSymbol)
	after := s.View()
	assert.Equal(t, before.Window, after.Window)
	assert.Equal(t, before.Ledger, after.Ledger)
	assert.Equal(t, before.Prediction, after.Prediction)
}

func TestSessionCorroboration(t *testing.T) {
	ctx := context.Background()
	// 35125 is followed by 7 earlier in the log
	s := trainedSession(t, &constTrainer{sym: 8}, "00351257000")
	v, err := s.Initialize(ctx, digits("35125"))
	require.NoError(t, err)
	require.NotNil(t, v.Match)
	assert.Equal(t, 2, v.Match.Index)
	assert.Equal(t, models.Symbol(7), v.Match.Following)
	assert.Equal(t, models.Big, models.CategoryOf(v.Match.Following))
	assert.Equal(t, models.CorroborationWin, v.Corroboration)

	v, _, err = s.Observe(ctx, 4)
	require.NoError(t, err)
	assert.Nil(t, v.Match)
	assert.Equal(t, models.CorroborationNone, v.Corroboration)
}

func TestSessionRetrainKeepsWindowAndLedger(t *testing.T) {
	ctx := context.Background()
	trainer := &constTrainer{sym: 1}
	s := trainedSession(t, trainer, "0123456789")
	_, err := s.Initialize(ctx, digits("12345"))
	require.NoError(t, err)
	_, _, err = s.Observe(ctx, 2)
	require.NoError(t, err)

	trainer.sym = 9
	v, err := s.Train(ctx, digits("98765432109876"))
	require.NoError(t, err)
	assert.Equal(t, models.StatePredicting, v.State)
	assert.Equal(t, "23452", v.Window.String())
	assert.Equal(t, 1, v.Ledger.TotalWins)
	assert.Equal(t, models.Big, v.Prediction.Category)

	trainer.fail = errors.New("boom")
	_, err = s.Train(ctx, digits("0123456789"))
	require.Error(t, err)
	after := s.View()
	assert.Equal(t, models.Big, after.Prediction.Category)
	assert.Equal(t, 14, after.LogLength)
}

func TestSessionWithGBDTBackend(t *testing.T) {
	ctx := context.Background()
	trainer, err := model.NewGBDTTrainer(model.DefaultGBDTConfig())
	require.NoError(t, err)
	s := NewSession("g", trainer, 3, 5, nil, nil)

	var log []models.Symbol
	for i := 0; i < 60; i++ {
		log = append(log, models.Symbol(i%4))
	}
	_, err = s.Train(ctx, log)
	require.NoError(t, err)
	v, err := s.Initialize(ctx, []models.Symbol{0, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, models.Symbol(3), v.Prediction.Symbol)
	assert.Equal(t, model.BackendGBDT, v.Backend)
	assert.InDelta(t, 1.0, v.Prediction.Confidence, 0.05)
}
