package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"korob/internal/apperr"
	"korob/internal/backend/pg"
	"korob/internal/store"
)

// runPostgres переводит панику testcontainers (нет Docker) в ошибку,
// чтобы тест пропускался, а не падал.
func runPostgres(ctx context.Context) (c *tcpostgres.PostgresContainer, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("docker unavailable: %v", r)
		}
	}()
	return tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("korob_test"),
		tcpostgres.WithUsername("korob"),
		tcpostgres.WithPassword("korob"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2)),
	)
}

// setupPg поднимает одноразовый Postgres; без Docker тест пропускается.
func setupPg(t *testing.T) *pg.Backend {
	t.Helper()
	ctx := context.Background()

	container, err := runPostgres(ctx)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := pg.Open(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return pg.New(db)
}

func TestSqlOps(t *testing.T) {
	be := setupPg(t)
	ctx := context.Background()

	items := store.NewSql[Item](be, itemDesc)
	require.NoError(t, items.EnsureTable(ctx))
	// подготовка таблиц идемпотентна
	require.NoError(t, items.EnsureTable(ctx))

	t.Run("CreateGetRoundtrip", func(t *testing.T) {
		saved, err := items.SaveNew(ctx, &Item{Priority: 5, Status: "new"})
		require.NoError(t, err)
		assert.NotEmpty(t, saved.ID)
		assert.Equal(t, saved.CreatedAt, saved.UpdatedAt)

		got, err := items.Get(ctx, string(saved.ID))
		require.NoError(t, err)
		assert.Equal(t, saved, got)
	})

	t.Run("DuplicatePK", func(t *testing.T) {
		_, err := items.SaveNew(ctx, &Item{ID: "dup"})
		require.NoError(t, err)
		_, err = items.SaveNew(ctx, &Item{ID: "dup"})
		assert.True(t, apperr.Is(err, apperr.AlreadyExists), "got %v", err)
	})

	t.Run("OptimisticLock", func(t *testing.T) {
		saved, err := items.SaveNew(ctx, &Item{Priority: 1})
		require.NoError(t, err)

		stale := *saved
		saved.Priority = 2
		_, err = items.Save(ctx, saved)
		require.NoError(t, err)

		stale.Priority = 3
		_, err = items.Save(ctx, &stale)
		assert.True(t, apperr.Is(err, apperr.Conflict))

		got, err := items.Get(ctx, string(stale.ID))
		require.NoError(t, err)
		assert.Equal(t, uint32(2), got.Priority)
	})

	t.Run("ConcurrentSaveSameToken", func(t *testing.T) {
		saved, err := items.SaveNew(ctx, &Item{ID: "race", Priority: 1})
		require.NoError(t, err)

		// проверка токена — в WHERE самого UPDATE; из n одновременных
		// писателей с одним токеном база пропустит ровно одного
		const n = 4
		start := make(chan struct{})
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				rec := *saved
				rec.Priority = uint32(100 + i)
				<-start
				_, errs[i] = items.Save(ctx, &rec)
			}(i)
		}
		close(start)
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			assert.True(t, apperr.Is(err, apperr.Conflict), "loser must observe CONFLICT, got %v", err)
		}
		assert.Equal(t, 1, wins, "exactly one same-token writer may succeed")

		got, err := items.Get(ctx, "race")
		require.NoError(t, err)
		assert.Equal(t, uint64(2), got.Rev, "storage must reflect exactly one update")
	})

	t.Run("PatchResetsIndexedColumns", func(t *testing.T) {
		saved, err := items.SaveNew(ctx, &Item{Priority: 10, Status: "open"})
		require.NoError(t, err)

		patch := fmt.Sprintf(`{"status":"done","updatedAt":%q}`, saved.UpdatedAt)
		patched, err := items.Patch(ctx, []string{string(saved.ID)}, []byte(patch))
		require.NoError(t, err)
		assert.Equal(t, "done", patched.Status)
		assert.Equal(t, uint32(10), patched.Priority)

		// индексная колонка обновилась вместе с blob
		found, err := items.FindBy(ctx, "status", "done")
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, saved.ID, found[0].ID)
	})

	t.Run("Delete", func(t *testing.T) {
		saved, err := items.SaveNew(ctx, &Item{})
		require.NoError(t, err)
		require.NoError(t, items.Delete(ctx, string(saved.ID)))
		_, err = items.Get(ctx, string(saved.ID))
		assert.True(t, apperr.Is(err, apperr.NotFound))

		err = items.Delete(ctx, string(saved.ID))
		assert.True(t, apperr.Is(err, apperr.NotFound))
	})
}

func TestSqlPagination(t *testing.T) {
	be := setupPg(t)
	ctx := context.Background()

	devices := store.NewSql[Device](be, deviceDesc)
	require.NoError(t, devices.EnsureTable(ctx))

	for i := 0; i < 5; i++ {
		_, err := devices.SaveNew(ctx, &Device{Owner: "auth/users/u1"})
		require.NoError(t, err)
	}

	n, err := devices.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	page, err := devices.ListPaginated(ctx, 2, 0)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.True(t, page.HasMore)

	page, err = devices.ListPaginated(ctx, 2, 4)
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	assert.False(t, page.HasMore)
}
