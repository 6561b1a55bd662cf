package draft

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newGormRepository(t *testing.T) *GormRepository {
	t.Helper()

	db, err := Open(DBConfig{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "drafts.db"),
	}, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	repo, err := NewGormRepository(db)
	require.NoError(t, err)
	return repo
}

func TestGormRepository_SaveLoad(t *testing.T) {
	repo := newGormRepository(t)
	ctx := context.Background()

	updated := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.Save(ctx, &Draft{
		ID:        1,
		FormKey:   "post:1",
		Values:    map[string]any{"title": "hello", "count": 2},
		Touched:   []string{"title"},
		UpdatedAt: updated,
	}))

	d, err := repo.Load(ctx, "post:1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.ID)
	assert.Equal(t, "hello", d.Values["title"])
	assert.Equal(t, float64(2), d.Values["count"])
	assert.Equal(t, []string{"title"}, d.Touched)
	assert.True(t, updated.Equal(d.UpdatedAt.UTC()))

	// 同一表单键覆盖旧草稿
	require.NoError(t, repo.Save(ctx, &Draft{
		ID:      2,
		FormKey: "post:1",
		Values:  map[string]any{"title": "world"},
	}))

	d, err = repo.Load(ctx, "post:1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.ID)
	assert.Equal(t, "world", d.Values["title"])
	assert.Empty(t, d.Touched)
}

func TestGormRepository_NotFound(t *testing.T) {
	repo := newGormRepository(t)

	_, err := repo.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrDraftNotFound)
}

func TestGormRepository_Delete(t *testing.T) {
	repo := newGormRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &Draft{ID: 1, FormKey: "k", Values: map[string]any{}}))
	require.NoError(t, repo.Delete(ctx, "k"))
	require.NoError(t, repo.Delete(ctx, "k"))

	_, err := repo.Load(ctx, "k")
	assert.ErrorIs(t, err, ErrDraftNotFound)
}

func TestGormRepository_EmptyKey(t *testing.T) {
	repo := newGormRepository(t)
	assert.ErrorIs(t, repo.Save(context.Background(), &Draft{}), ErrEmptyFormKey)
	assert.ErrorIs(t, repo.Save(context.Background(), nil), ErrEmptyFormKey)
}

func TestDialector(t *testing.T) {
	tests := []struct {
		driver  string
		name    string
		wantErr bool
	}{
		{driver: "sqlite", name: "sqlite"},
		{driver: "mysql", name: "mysql"},
		{driver: "postgres", name: "postgres"},
		{driver: "PostgreSQL", name: "postgres"},
		{driver: "oracle", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			d, err := Dialector(DBConfig{Driver: tt.driver})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, d.Name())
		})
	}
}
