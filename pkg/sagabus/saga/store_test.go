package saga_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/sagabus/pkg/sagabus/config"
	"github.com/randalmurphal/sagabus/pkg/sagabus/saga"
)

func storeFactories() map[string]func(t *testing.T) saga.Store {
	return map[string]func(t *testing.T) saga.Store{
		"memory": func(*testing.T) saga.Store { return saga.NewMemoryStore() },
		"sqlite": func(t *testing.T) saga.Store {
			s, err := saga.NewSQLiteStore(filepath.Join(t.TempDir(), "sagas.db"))
			require.NoError(t, err)
			return s
		},
	}
}

func testTransaction(id, name string, status saga.Status, started time.Time) *saga.Transaction {
	return &saga.Transaction{
		ID:            id,
		Name:          name,
		CorrelationID: "corr-" + id,
		Steps:         []saga.Step{{ID: "A", Action: "reserve", CompensationAction: "release"}},
		Status:        status,
		Context:       map[string]any{"sampleId": "S-1"},
		StepResults: map[string]saga.StepResult{
			"A": {Status: saga.StepCompleted, Result: "ok", RetryCount: 1},
		},
		CompletionOrder: []string{"A"},
		StartedAt:       started,
	}
}

func TestStore_Contract(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("save and get", func(t *testing.T) {
				s := newStore(t)
				defer s.Close()

				tx := testTransaction("saga-1", "intake", saga.StatusCompleted, time.Now())
				require.NoError(t, s.Save(ctx, tx))

				got, err := s.Get(ctx, "saga-1")
				require.NoError(t, err)
				assert.Equal(t, "intake", got.Name)
				assert.Equal(t, saga.StatusCompleted, got.Status)
				assert.Equal(t, "corr-saga-1", got.CorrelationID)
				assert.Equal(t, "S-1", got.Context["sampleId"])
				assert.Equal(t, saga.StepCompleted, got.StepResults["A"].Status)
				assert.Equal(t, 1, got.StepResults["A"].RetryCount)
				assert.Equal(t, []string{"A"}, got.CompletionOrder)
				assert.True(t, tx.StartedAt.Equal(got.StartedAt))
			})

			t.Run("save replaces", func(t *testing.T) {
				s := newStore(t)
				defer s.Close()

				tx := testTransaction("saga-1", "intake", saga.StatusExecuting, time.Now())
				require.NoError(t, s.Save(ctx, tx))
				tx.Status = saga.StatusCompensated
				require.NoError(t, s.Save(ctx, tx))

				got, err := s.Get(ctx, "saga-1")
				require.NoError(t, err)
				assert.Equal(t, saga.StatusCompensated, got.Status)

				all, err := s.List(ctx, nil)
				require.NoError(t, err)
				assert.Len(t, all, 1)
			})

			t.Run("get missing", func(t *testing.T) {
				s := newStore(t)
				defer s.Close()

				_, err := s.Get(ctx, "nope")
				assert.ErrorIs(t, err, saga.ErrNotFound)
			})

			t.Run("list filters and pages newest first", func(t *testing.T) {
				s := newStore(t)
				defer s.Close()

				base := time.Now().Add(-time.Hour)
				for i := range 5 {
					status := saga.StatusCompleted
					if i%2 == 1 {
						status = saga.StatusCompensated
					}
					name := "intake"
					if i == 4 {
						name = "sequencing"
					}
					tx := testTransaction(fmt.Sprintf("saga-%d", i), name, status, base.Add(time.Duration(i)*time.Minute))
					require.NoError(t, s.Save(ctx, tx))
				}

				all, err := s.List(ctx, nil)
				require.NoError(t, err)
				require.Len(t, all, 5)
				assert.Equal(t, "saga-4", all[0].ID)
				assert.Equal(t, "saga-0", all[4].ID)

				intake, err := s.List(ctx, &saga.ListFilter{Name: "intake"})
				require.NoError(t, err)
				assert.Len(t, intake, 4)

				compensated, err := s.List(ctx, &saga.ListFilter{Status: saga.StatusCompensated})
				require.NoError(t, err)
				require.Len(t, compensated, 2)
				assert.Equal(t, "saga-3", compensated[0].ID)
				assert.Equal(t, "saga-1", compensated[1].ID)

				page, err := s.List(ctx, &saga.ListFilter{Limit: 2, Offset: 1})
				require.NoError(t, err)
				require.Len(t, page, 2)
				assert.Equal(t, "saga-3", page[0].ID)
				assert.Equal(t, "saga-2", page[1].ID)

				empty, err := s.List(ctx, &saga.ListFilter{Offset: 10})
				require.NoError(t, err)
				assert.Empty(t, empty)
			})

			t.Run("delete", func(t *testing.T) {
				s := newStore(t)
				defer s.Close()

				require.NoError(t, s.Save(ctx, testTransaction("saga-1", "intake", saga.StatusCompleted, time.Now())))
				require.NoError(t, s.Delete(ctx, "saga-1"))

				_, err := s.Get(ctx, "saga-1")
				assert.ErrorIs(t, err, saga.ErrNotFound)
				assert.ErrorIs(t, s.Delete(ctx, "saga-1"), saga.ErrNotFound)
			})

			t.Run("closed", func(t *testing.T) {
				s := newStore(t)
				require.NoError(t, s.Close())
				require.NoError(t, s.Close())

				tx := testTransaction("saga-1", "intake", saga.StatusCompleted, time.Now())
				assert.ErrorIs(t, s.Save(ctx, tx), saga.ErrStoreClosed)
				_, err := s.Get(ctx, "saga-1")
				assert.ErrorIs(t, err, saga.ErrStoreClosed)
				_, err = s.List(ctx, nil)
				assert.ErrorIs(t, err, saga.ErrStoreClosed)
				assert.ErrorIs(t, s.Delete(ctx, "saga-1"), saga.ErrStoreClosed)
			})
		})
	}
}

func TestMemoryStore_IsolatesCallers(t *testing.T) {
	ctx := context.Background()
	s := saga.NewMemoryStore()

	tx := testTransaction("saga-1", "intake", saga.StatusCompleted, time.Now())
	require.NoError(t, s.Save(ctx, tx))
	tx.Context["sampleId"] = "changed"

	got, err := s.Get(ctx, "saga-1")
	require.NoError(t, err)
	assert.Equal(t, "S-1", got.Context["sampleId"])

	got.StepResults["A"] = saga.StepResult{Status: saga.StepFailed}
	again, err := s.Get(ctx, "saga-1")
	require.NoError(t, err)
	assert.Equal(t, saga.StepCompleted, again.StepResults["A"].Status)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sagas.db")

	s, err := saga.NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, testTransaction("saga-1", "intake", saga.StatusCompensated, time.Now())))
	require.NoError(t, s.Close())

	reopened, err := saga.NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "saga-1")
	require.NoError(t, err)
	assert.Equal(t, saga.StatusCompensated, got.Status)
	assert.Equal(t, "release", got.Steps[0].CompensationAction)
}

func TestConfigFrom(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
saga:
  default_step_timeout: 2s
  retry_backoff: 250ms
  health:
    max_active_sagas: 7
`))
	require.NoError(t, err)

	got := saga.ConfigFrom(cfg.Sub("saga"))
	assert.Equal(t, 2*time.Second, got.DefaultStepTimeout)
	assert.Equal(t, 250*time.Millisecond, got.RetryBackoff)
	assert.Equal(t, 7, got.Health.MaxActiveSagas)
	assert.Equal(t, saga.DefaultHealthLimits.MaxSagaAge, got.Health.MaxSagaAge)

	assert.Equal(t, saga.DefaultConfig, saga.ConfigFrom(config.New(nil)))
}
