package backend

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const profileColumns = `id, email, full_name, role, hashed_password, created_at`

func scanProfile(row pgx.Row) (Profile, error) {
	var p Profile
	if err := row.Scan(&p.ID, &p.Email, &p.FullName, &p.Role, &p.HashedPassword, &p.CreatedAt); err != nil {
		return Profile{}, mapError(err)
	}
	return p, nil
}

// CreateProfile inserts a profile. A taken email fails with ErrDuplicate.
func (c *Client) CreateProfile(ctx context.Context, arg CreateProfileParams) (Profile, error) {
	const q = `
		INSERT INTO profiles (email, full_name, role, hashed_password)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + profileColumns
	return scanProfile(c.db.QueryRow(ctx, q, arg.Email, arg.FullName, arg.Role, arg.HashedPassword))
}

func (c *Client) GetProfile(ctx context.Context, id uuid.UUID) (Profile, error) {
	return scanProfile(c.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id))
}

func (c *Client) GetProfileByEmail(ctx context.Context, email string) (Profile, error) {
	return scanProfile(c.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE lower(email) = lower($1)`, email))
}
