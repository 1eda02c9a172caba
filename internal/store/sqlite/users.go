package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/maloquacious/userbook/internal/store"
)

var userColumns = []string{"id", "name", "age", "email"}

// Users implements store.UserRepository on the users table.
//
// The email check and the insert share one transaction, and the schema
// carries a unique index on email; a constraint failure from either path
// surfaces as store.ErrDuplicateEmail.
type Users struct {
	db  *sqlx.DB
	obs *observer
}

var _ store.UserRepository = (*Users)(nil)

// ListUsers returns all users ordered by id. An empty table yields an
// empty, non-nil slice.
func (u *Users) ListUsers(ctx context.Context) (users []store.User, err error) {
	ctx, done := u.obs.start(ctx, "users.list")
	defer func() { done(err) }()

	if u.db == nil {
		return nil, fmt.Errorf("%w: database not opened", store.ErrStore)
	}
	return listUsers(ctx, u.db)
}

// AddUser validates the raw fields, inserts the user unless the email is
// taken and returns the re-read table.
func (u *Users) AddUser(ctx context.Context, name, age, email string) (users []store.User, err error) {
	ctx, done := u.obs.start(ctx, "users.add")
	defer func() { done(err) }()

	user, err := store.ParseUser(name, age, email)
	if err != nil {
		return nil, err
	}

	err = u.transaction(ctx, func(tx *sqlx.Tx) error {
		_, found, err := findByEmail(ctx, tx, user.Email)
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("%w: %s", store.ErrDuplicateEmail, user.Email)
		}
		_, err = insertUser(ctx, tx, user)
		return err
	})
	if err != nil {
		return nil, err
	}

	return listUsers(ctx, u.db)
}

// FindByEmail looks up a user by exact, case-sensitive email.
func (u *Users) FindByEmail(ctx context.Context, email string) (user store.User, found bool, err error) {
	ctx, done := u.obs.start(ctx, "users.find_by_email")
	defer func() { done(err) }()

	if u.db == nil {
		return store.User{}, false, fmt.Errorf("%w: database not opened", store.ErrStore)
	}
	return findByEmail(ctx, u.db, email)
}

// SeedDefaults inserts store.DefaultUsers when none of their emails are
// present. Rows with other emails are never touched.
func (u *Users) SeedDefaults(ctx context.Context) (err error) {
	ctx, done := u.obs.start(ctx, "users.seed")
	defer func() { done(err) }()

	return u.transaction(ctx, func(tx *sqlx.Tx) error {
		return seedDefaults(ctx, tx, u.obs)
	})
}

// Reset deletes every user and seeds the defaults again, atomically.
func (u *Users) Reset(ctx context.Context) (err error) {
	ctx, done := u.obs.start(ctx, "users.reset")
	defer func() { done(err) }()

	return u.transaction(ctx, func(tx *sqlx.Tx) error {
		query, args, err := sq.Delete(usersTable).ToSql()
		if err != nil {
			return fmt.Errorf("%w: build delete: %w", store.ErrStore, err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("%w: delete users: %w", store.ErrStore, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			u.obs.log.Info("users cleared", "rows", n)
		}
		return seedDefaults(ctx, tx, u.obs)
	})
}

// transaction runs fn in a transaction, rolling back on error or panic.
func (u *Users) transaction(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	if u.db == nil {
		return fmt.Errorf("%w: database not opened", store.ErrStore)
	}

	tx, err := u.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %w", store.ErrStore, err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit transaction: %w", store.ErrStore, err)
	}
	return nil
}

func seedDefaults(ctx context.Context, tx *sqlx.Tx, obs *observer) error {
	for _, seed := range store.DefaultUsers {
		_, found, err := findByEmail(ctx, tx, seed.Email)
		if err != nil {
			return err
		}
		if found {
			obs.log.Debug("seed skipped, default user present", "email", seed.Email)
			return nil
		}
	}

	for _, seed := range store.DefaultUsers {
		if _, err := insertUser(ctx, tx, seed); err != nil {
			return err
		}
	}
	obs.log.Info("default users seeded", "count", len(store.DefaultUsers))
	return nil
}

func listUsers(ctx context.Context, q sqlx.QueryerContext) ([]store.User, error) {
	query, args, err := sq.Select(userColumns...).
		From(usersTable).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: build list query: %w", store.ErrStore, err)
	}

	users := []store.User{}
	if err := sqlx.SelectContext(ctx, q, &users, query, args...); err != nil {
		return nil, fmt.Errorf("%w: list users: %w", store.ErrStore, err)
	}
	return users, nil
}

func findByEmail(ctx context.Context, q sqlx.QueryerContext, email string) (store.User, bool, error) {
	query, args, err := sq.Select(userColumns...).
		From(usersTable).
		Where(sq.Eq{"email": email}).
		Limit(1).
		ToSql()
	if err != nil {
		return store.User{}, false, fmt.Errorf("%w: build email lookup: %w", store.ErrStore, err)
	}

	var user store.User
	err = sqlx.GetContext(ctx, q, &user, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, false, nil
	}
	if err != nil {
		return store.User{}, false, fmt.Errorf("%w: find user by email: %w", store.ErrStore, err)
	}
	return user, true, nil
}

func insertUser(ctx context.Context, e sqlx.ExecerContext, user store.User) (int64, error) {
	query, args, err := sq.Insert(usersTable).
		Columns("name", "age", "email").
		Values(user.Name, user.Age, user.Email).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("%w: build insert: %w", store.ErrStore, err)
	}

	res, err := e.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", store.ErrDuplicateEmail, user.Email)
		}
		return 0, fmt.Errorf("%w: insert user: %w", store.ErrStore, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: read inserted id: %w", store.ErrStore, err)
	}
	return id, nil
}
