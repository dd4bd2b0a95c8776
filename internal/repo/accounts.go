package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// UpsertOTP stores a fresh code for phone, resetting the attempt counter.
func (r *PostgresRepository) UpsertOTP(ctx context.Context, otp OTP) error {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	const q = `
INSERT INTO phone_otps (phone_number, otp_code, expires_at, attempts, created_at)
VALUES ($1, $2, $3, 0, NOW())
ON CONFLICT (phone_number) DO UPDATE SET
    otp_code = EXCLUDED.otp_code,
    expires_at = EXCLUDED.expires_at,
    attempts = 0,
    created_at = NOW();
`
	if _, err := r.pool.Exec(ctx, q, otp.PhoneNumber, otp.Code, otp.ExpiresAt); err != nil {
		return fmt.Errorf("upsert otp: %w", err)
	}
	return nil
}

// GetOTP returns the pending code for phone.
func (r *PostgresRepository) GetOTP(ctx context.Context, phone string) (*OTP, error) {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	const q = `
SELECT phone_number, otp_code, expires_at, attempts, created_at
FROM phone_otps
WHERE phone_number = $1;
`
	var o OTP
	if err := r.pool.QueryRow(ctx, q, phone).Scan(&o.PhoneNumber, &o.Code, &o.ExpiresAt, &o.Attempts, &o.CreatedAt); err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get otp: %w", err)
	}
	return &o, nil
}

// ClaimOTPAttempt spends one verification attempt and returns the record as it
// stands after the increment. ErrNotFound means there is no pending code or it
// already used maxAttempts.
func (r *PostgresRepository) ClaimOTPAttempt(ctx context.Context, phone string, maxAttempts int) (*OTP, error) {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	const q = `
UPDATE phone_otps SET attempts = attempts + 1
WHERE phone_number = $1 AND attempts < $2
RETURNING phone_number, otp_code, expires_at, attempts, created_at;
`
	var o OTP
	if err := r.pool.QueryRow(ctx, q, phone, maxAttempts).Scan(&o.PhoneNumber, &o.Code, &o.ExpiresAt, &o.Attempts, &o.CreatedAt); err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("claim otp attempt: %w", err)
	}
	return &o, nil
}

// DeleteOTP drops any pending code for phone.
func (r *PostgresRepository) DeleteOTP(ctx context.Context, phone string) error {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	if _, err := r.pool.Exec(ctx, `DELETE FROM phone_otps WHERE phone_number = $1`, phone); err != nil {
		return fmt.Errorf("delete otp: %w", err)
	}
	return nil
}

const profileColumns = `id, username, full_name, avatar_url, phone_number, email, created_at, updated_at`

// UpsertProfile creates the profile for p.ID or fills in fields that are still empty.
func (r *PostgresRepository) UpsertProfile(ctx context.Context, p Profile) (*Profile, error) {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	q := `
INSERT INTO profiles (id, username, full_name, avatar_url, phone_number, email)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
    full_name = COALESCE(EXCLUDED.full_name, profiles.full_name),
    avatar_url = COALESCE(EXCLUDED.avatar_url, profiles.avatar_url),
    phone_number = COALESCE(profiles.phone_number, EXCLUDED.phone_number),
    email = COALESCE(EXCLUDED.email, profiles.email),
    updated_at = NOW()
RETURNING ` + profileColumns + `;`

	var out Profile
	err := r.pool.QueryRow(ctx, q, p.ID, p.Username, p.FullName, p.AvatarURL, p.PhoneNumber, p.Email).
		Scan(&out.ID, &out.Username, &out.FullName, &out.AvatarURL, &out.PhoneNumber, &out.Email, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert profile: %w", err)
	}
	return &out, nil
}

// UpsertProfileByPhone returns the profile owning phone, creating it when absent.
func (r *PostgresRepository) UpsertProfileByPhone(ctx context.Context, phone, username string) (*Profile, error) {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	q := `
INSERT INTO profiles (id, username, phone_number)
VALUES ($1, $2, $3)
ON CONFLICT (phone_number) DO UPDATE SET updated_at = NOW()
RETURNING ` + profileColumns + `;`

	var out Profile
	err := r.pool.QueryRow(ctx, q, uuid.NewString(), username, phone).
		Scan(&out.ID, &out.Username, &out.FullName, &out.AvatarURL, &out.PhoneNumber, &out.Email, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert profile by phone: %w", err)
	}
	return &out, nil
}

// GetRole returns the stored role for userID.
func (r *PostgresRepository) GetRole(ctx context.Context, userID string) (string, error) {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	var role string
	if err := r.pool.QueryRow(ctx, `SELECT role FROM user_roles WHERE user_id = $1`, userID).Scan(&role); err != nil {
		if notFound(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get role: %w", err)
	}
	return role, nil
}

// SetRole assigns role to userID.
func (r *PostgresRepository) SetRole(ctx context.Context, userID, role string, phone *string) error {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	const q = `
INSERT INTO user_roles (user_id, role, phone_number)
VALUES ($1, $2, $3)
ON CONFLICT (user_id) DO UPDATE SET
    role = EXCLUDED.role,
    phone_number = COALESCE(EXCLUDED.phone_number, user_roles.phone_number),
    updated_at = NOW();
`
	if _, err := r.pool.Exec(ctx, q, userID, role, phone); err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	return nil
}
