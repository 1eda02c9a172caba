package store

import (
	"fmt"
	"strconv"
	"strings"
)

// User is a row of the users table.
type User struct {
	ID    int64  `db:"id" json:"id"`
	Name  string `db:"name" json:"name"`
	Age   int    `db:"age" json:"age"`
	Email string `db:"email" json:"email"`
}

// DefaultUsers are inserted by SeedDefaults.
var DefaultUsers = []User{
	{Name: "John", Age: 30, Email: "john@example.com"},
	{Name: "Alice", Age: 25, Email: "alice@example.com"},
}

// ParseUser turns raw form fields into a User ready for insertion.
// Name and email are trimmed of surrounding whitespace; the email is
// otherwise kept as typed since uniqueness is case-sensitive.
// Age must be a base-10 integer, no range is enforced.
func ParseUser(name, age, email string) (User, error) {
	name, age, email = strings.TrimSpace(name), strings.TrimSpace(age), strings.TrimSpace(email)

	var missing []string
	if name == "" {
		missing = append(missing, "name")
	}
	if age == "" {
		missing = append(missing, "age")
	}
	if email == "" {
		missing = append(missing, "email")
	}
	if len(missing) > 0 {
		return User{}, fmt.Errorf("%w: required field(s) empty: %s", ErrValidation, strings.Join(missing, ", "))
	}

	n, err := strconv.Atoi(age)
	if err != nil {
		return User{}, fmt.Errorf("%w: age %q is not a whole number", ErrValidation, age)
	}

	return User{Name: name, Age: n, Email: email}, nil
}
