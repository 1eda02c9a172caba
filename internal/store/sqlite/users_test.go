package sqlite

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/maloquacious/userbook/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countUsers(t *testing.T, s *SQLiteStore) int {
	t.Helper()

	var n int
	require.NoError(t, s.db.Get(&n, `SELECT COUNT(*) FROM users`))
	return n
}

func TestListUsersEmptyTable(t *testing.T) {
	users, err := migratedTestStore(t).Users().ListUsers(context.Background())
	require.NoError(t, err)
	require.NotNil(t, users)
	require.Empty(t, users)
}

func TestAddUserToEmptyTable(t *testing.T) {
	ctx := context.Background()
	repo := migratedTestStore(t).Users()

	users, err := repo.AddUser(ctx, "John", "30", "john@example.com")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "John", users[0].Name)
	assert.Equal(t, 30, users[0].Age)
	assert.Equal(t, "john@example.com", users[0].Email)
	assert.NotZero(t, users[0].ID)

	listed, err := repo.ListUsers(ctx)
	require.NoError(t, err)
	require.Equal(t, users, listed)
}

func TestAddUserGrowsListByOne(t *testing.T) {
	ctx := context.Background()
	repo := migratedTestStore(t).Users()

	inputs := []struct{ name, age, email string }{
		{"John", "30", "john@example.com"},
		{"Alice", "25", "alice@example.com"},
		{"Bob", "0", "bob@example.com"},
		{"Carol", "-4", "carol@example.com"},
		{"Dave", "41", "JOHN@example.com"},
	}

	prev := 0
	for _, in := range inputs {
		users, err := repo.AddUser(ctx, in.name, in.age, in.email)
		require.NoError(t, err, in.email)
		require.Len(t, users, prev+1)

		matches := 0
		for _, u := range users {
			if u.Email == in.email {
				matches++
				assert.Equal(t, in.name, u.Name)
				assert.Equal(t, in.age, fmt.Sprint(u.Age))
			}
		}
		require.Equal(t, 1, matches, in.email)
		prev = len(users)
	}

	users, err := repo.ListUsers(ctx)
	require.NoError(t, err)
	for i := 1; i < len(users); i++ {
		require.Less(t, users[i-1].ID, users[i].ID, "users are listed in insertion order")
	}
	require.Equal(t, "John", users[0].Name)
	require.Equal(t, "Dave", users[len(users)-1].Name)
}

func TestAddUserDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	s := migratedTestStore(t)
	repo := s.Users()

	original, err := repo.AddUser(ctx, "John", "30", "john@example.com")
	require.NoError(t, err)

	users, err := repo.AddUser(ctx, "Dup", "99", "john@example.com")
	require.ErrorIs(t, err, store.ErrDuplicateEmail)
	require.Nil(t, users)
	require.Equal(t, 1, countUsers(t, s))

	listed, err := repo.ListUsers(ctx)
	require.NoError(t, err)
	require.Equal(t, original, listed)
}

func TestAddUserValidation(t *testing.T) {
	ctx := context.Background()
	s := migratedTestStore(t)
	repo := s.Users()

	tests := []struct {
		name, inName, age, email string
	}{
		{"empty name", "", "30", "a@example.com"},
		{"empty age", "A", "", "a@example.com"},
		{"empty email", "A", "30", ""},
		{"whitespace name", "   ", "30", "a@example.com"},
		{"non-numeric age", "A", "abc", "a@example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.AddUser(ctx, tt.inName, tt.age, tt.email)
			require.ErrorIs(t, err, store.ErrValidation)
			require.Zero(t, countUsers(t, s))
		})
	}
}

func TestAddUserConcurrentSameEmail(t *testing.T) {
	ctx := context.Background()
	s := migratedTestStore(t)
	repo := s.Users()

	const workers = 8
	var (
		wg   sync.WaitGroup
		errs = make([]error, workers)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = repo.AddUser(ctx, fmt.Sprintf("racer-%d", i), "20", "race@example.com")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, store.ErrDuplicateEmail)
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, countUsers(t, s))
}

func TestInsertMapsUniqueViolation(t *testing.T) {
	ctx := context.Background()
	s := migratedTestStore(t)

	_, err := insertUser(ctx, s.db, store.User{Name: "John", Age: 30, Email: "john@example.com"})
	require.NoError(t, err)

	// Bypasses the pre-insert lookup, so only the index can catch it.
	_, err = insertUser(ctx, s.db, store.User{Name: "Again", Age: 31, Email: "john@example.com"})
	require.ErrorIs(t, err, store.ErrDuplicateEmail)
}

func TestFindByEmail(t *testing.T) {
	ctx := context.Background()
	repo := migratedTestStore(t).Users()

	_, err := repo.AddUser(ctx, "John", "30", "john@example.com")
	require.NoError(t, err)

	user, found, err := repo.FindByEmail(ctx, "john@example.com")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "John", user.Name)

	_, found, err = repo.FindByEmail(ctx, "John@example.com")
	require.NoError(t, err)
	require.False(t, found, "email match is case-sensitive")
}

func TestSeedDefaultsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := migratedTestStore(t)
	repo := s.Users()

	require.NoError(t, repo.SeedDefaults(ctx))
	require.NoError(t, repo.SeedDefaults(ctx))

	users, err := repo.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, len(store.DefaultUsers))
	for i, want := range store.DefaultUsers {
		assert.Equal(t, want.Name, users[i].Name)
		assert.Equal(t, want.Age, users[i].Age)
		assert.Equal(t, want.Email, users[i].Email)
	}
}

func TestSeedDefaultsKeepsOtherRows(t *testing.T) {
	ctx := context.Background()
	repo := migratedTestStore(t).Users()

	_, err := repo.AddUser(ctx, "Zed", "50", "zed@example.com")
	require.NoError(t, err)
	require.NoError(t, repo.SeedDefaults(ctx))

	users, err := repo.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)
	require.Equal(t, "zed@example.com", users[0].Email)
}

func TestSeedDefaultsSkipsWhenAnySeedPresent(t *testing.T) {
	ctx := context.Background()
	s := migratedTestStore(t)
	repo := s.Users()

	_, err := repo.AddUser(ctx, "Alice", "26", "alice@example.com")
	require.NoError(t, err)
	require.NoError(t, repo.SeedDefaults(ctx))

	require.Equal(t, 1, countUsers(t, s))
	_, found, err := repo.FindByEmail(ctx, "john@example.com")
	require.NoError(t, err)
	require.False(t, found)
}

func TestSeedDefaultsAfterAddUserConflict(t *testing.T) {
	ctx := context.Background()
	repo := migratedTestStore(t).Users()

	require.NoError(t, repo.SeedDefaults(ctx))
	_, err := repo.AddUser(ctx, "John Again", "31", "john@example.com")
	require.ErrorIs(t, err, store.ErrDuplicateEmail)
}

func TestResetClearsAndReseeds(t *testing.T) {
	ctx := context.Background()
	s := migratedTestStore(t)
	repo := s.Users()

	_, err := repo.AddUser(ctx, "Zed", "50", "zed@example.com")
	require.NoError(t, err)
	_, err = repo.AddUser(ctx, "Alice", "26", "alice@example.com")
	require.NoError(t, err)

	require.NoError(t, repo.Reset(ctx))

	users, err := repo.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, len(store.DefaultUsers))
	_, found, err := repo.FindByEmail(ctx, "zed@example.com")
	require.NoError(t, err)
	require.False(t, found)
}

func TestOperationsBeforeMigrationFailAsStoreErrors(t *testing.T) {
	ctx := context.Background()
	repo := openTestStore(t).Users()

	_, err := repo.ListUsers(ctx)
	require.ErrorIs(t, err, store.ErrStore)
	_, err = repo.AddUser(ctx, "John", "30", "john@example.com")
	require.ErrorIs(t, err, store.ErrStore)
	require.ErrorIs(t, repo.SeedDefaults(ctx), store.ErrStore)
}

func TestOperationsOnClosedStore(t *testing.T) {
	ctx := context.Background()
	s := New(t.TempDir() + "/" + store.DefaultDBFile)
	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.Migrate(ctx))
	repo := s.Users()
	require.NoError(t, s.Close())

	_, err := repo.ListUsers(ctx)
	require.ErrorIs(t, err, store.ErrStore)
}

func TestCanceledContext(t *testing.T) {
	repo := migratedTestStore(t).Users()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.AddUser(ctx, "John", "30", "john@example.com")
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled) || errors.Is(err, store.ErrStore))
}

func TestIsUniqueViolation(t *testing.T) {
	require.False(t, isUniqueViolation(nil))
	require.False(t, isUniqueViolation(errors.New("disk I/O error")))
	require.True(t, isUniqueViolation(errors.New("UNIQUE constraint failed: users.email")))
}
