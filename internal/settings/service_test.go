package settings

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DINO060/RENAMBOT/internal/filename"
)

func TestServiceDefaults(t *testing.T) {
	t.Parallel()

	svc := NewService(nil, NewMemoryStore())
	prefs, err := svc.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, filename.DefaultPreferences(), prefs)
}

func TestServiceSetters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := NewService(nil, NewMemoryStore())

	prefs, err := svc.SetCustomText(ctx, 1, " [HD] ")
	require.NoError(t, err)
	assert.Equal(t, "[HD]", prefs.CustomText)

	prefs, err = svc.SetPosition(ctx, 1, "start")
	require.NoError(t, err)
	assert.Equal(t, filename.PositionStart, prefs.Position)

	prefs, err = svc.SetCleanTags(ctx, 1, false)
	require.NoError(t, err)
	assert.False(t, prefs.CleanTags)

	prefs, err = svc.SetUsername(ctx, 1, "@mychan")
	require.NoError(t, err)
	assert.Equal(t, "@mychan", prefs.Username)

	stored, err := svc.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, filename.Preferences{CleanTags: false, CustomText: "[HD]", Position: filename.PositionStart, Username: "@mychan"}, stored)

	prefs, err = svc.SetCustomText(ctx, 1, "")
	require.NoError(t, err)
	assert.Empty(t, prefs.CustomText)
}

func TestServiceValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := NewService(nil, NewMemoryStore())

	_, err := svc.SetCustomText(ctx, 1, strings.Repeat("x", MaxCustomTextLength+1))
	assert.ErrorIs(t, err, ErrCustomTextTooLong)
	_, err = svc.SetUsername(ctx, 1, "mychan")
	assert.ErrorIs(t, err, ErrInvalidUsername)
	_, err = svc.SetUsername(ctx, 1, "@"+strings.Repeat("a", 63))
	assert.ErrorIs(t, err, ErrInvalidUsername)
	_, err = svc.SetPosition(ctx, 1, "middle")
	assert.ErrorIs(t, err, ErrInvalidPosition)
}

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakeDB struct {
	row      fakeRow
	execSQL  string
	execArgs []any
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL = sql
	f.execArgs = args
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not used")
}

func (f *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return f.row
}

func TestPostgresStoreMissingRowReturnsDefaults(t *testing.T) {
	t.Parallel()

	store := NewPostgresStore(&fakeDB{row: fakeRow{scan: func(...any) error { return pgx.ErrNoRows }}})
	prefs, err := store.Get(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, filename.DefaultPreferences(), prefs)
}

func TestPostgresStoreReadsAndWrites(t *testing.T) {
	t.Parallel()

	conn := &fakeDB{row: fakeRow{scan: func(dest ...any) error {
		*dest[0].(*bool) = false
		*dest[1].(*string) = "[HD]"
		*dest[2].(*string) = "start"
		*dest[3].(*string) = "@chan"
		return nil
	}}}
	store := NewPostgresStore(conn)
	prefs, err := store.Get(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, filename.Preferences{CustomText: "[HD]", Position: filename.PositionStart, Username: "@chan"}, prefs)

	require.NoError(t, store.Save(context.Background(), 9, prefs))
	assert.Contains(t, conn.execSQL, "ON CONFLICT (user_id)")
	assert.Equal(t, []any{int64(9), false, "[HD]", "start", "@chan"}, conn.execArgs)
}
