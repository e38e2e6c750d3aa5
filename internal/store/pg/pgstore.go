// Package pg implements the engine's external collaborator interfaces on
// PostgreSQL through database/sql (pgx stdlib driver).
package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/auth"
	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/directory"
	"github.com/Shubhkesarwani02/SecureAdmin-sub002/internal/impersonation"
)

// Store bundles the Postgres-backed collaborators.
type Store struct {
	db *sql.DB
}

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Directory() *Directory          { return &Directory{db: s.db} }
func (s *Store) Assignments() *Assignments      { return &Assignments{db: s.db} }
func (s *Store) Sessions() *Sessions            { return &Sessions{db: s.db} }
func (s *Store) AuditSink() *AuditSink          { return &AuditSink{db: s.db} }
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Directory resolves principals from the users table.
type Directory struct{ db *sql.DB }

var _ directory.Directory = (*Directory)(nil)

func (d *Directory) FindByID(ctx context.Context, id string) (auth.Principal, error) {
	row := d.db.QueryRowContext(ctx,
		`select id, email, role, status from users where id=$1`, id)
	var p auth.Principal
	var role string
	if err := row.Scan(&p.ID, &p.Email, &role, &p.Status); err != nil {
		if err == sql.ErrNoRows {
			return auth.Principal{}, directory.ErrNotFound
		}
		return auth.Principal{}, err
	}
	p.Role = auth.Role(role)
	return p, nil
}

func (d *Directory) FindByEmail(ctx context.Context, email string) (auth.Principal, string, error) {
	row := d.db.QueryRowContext(ctx,
		`select id, email, role, status, password_hash from users where lower(email)=lower($1)`, email)
	var (
		p    auth.Principal
		role string
		hash string
	)
	if err := row.Scan(&p.ID, &p.Email, &role, &p.Status, &hash); err != nil {
		if err == sql.ErrNoRows {
			return auth.Principal{}, "", directory.ErrNotFound
		}
		return auth.Principal{}, "", err
	}
	p.Role = auth.Role(role)
	return p, hash, nil
}

// Assignments feeds the access scope resolver.
type Assignments struct{ db *sql.DB }

func (a *Assignments) CSMAccounts(ctx context.Context, csmID string) ([]string, error) {
	return a.collect(ctx,
		`select account_id from csm_assignments where csm_id=$1 and status='active'`, csmID)
}

func (a *Assignments) UserAccounts(ctx context.Context, userID string) ([]string, error) {
	return a.collect(ctx,
		`select account_id from user_accounts where user_id=$1`, userID)
}

func (a *Assignments) collect(ctx context.Context, query, arg string) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Sessions persists impersonation sessions.
type Sessions struct{ db *sql.DB }

var _ impersonation.Store = (*Sessions)(nil)

func (s *Sessions) Create(ctx context.Context, sess *impersonation.Session) error {
	_, err := s.db.ExecContext(ctx,
		`insert into impersonation_sessions
		   (id, impersonator_id, impersonator_role, impersonated_user_id, reason, started_at, expires_at)
		 values ($1,$2,$3,$4,$5,$6,$7)`,
		sess.ID, sess.ImpersonatorID, sess.ImpersonatorRole.String(),
		sess.ImpersonatedUserID, sess.Reason, sess.StartedAt, sess.ExpiresAt,
	)
	return err
}

func (s *Sessions) Find(ctx context.Context, id string) (*impersonation.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, impersonator_id, impersonator_role, impersonated_user_id,
		        reason, started_at, expires_at, ended_at
		   from impersonation_sessions where id=$1`, id)
	var (
		sess  impersonation.Session
		role  string
		ended sql.NullTime
	)
	if err := row.Scan(&sess.ID, &sess.ImpersonatorID, &role, &sess.ImpersonatedUserID,
		&sess.Reason, &sess.StartedAt, &sess.ExpiresAt, &ended); err != nil {
		if err == sql.ErrNoRows {
			return nil, impersonation.ErrSessionNotFound
		}
		return nil, err
	}
	sess.ImpersonatorRole = auth.Role(role)
	if ended.Valid {
		t := ended.Time
		sess.EndedAt = &t
	}
	return &sess, nil
}

func (s *Sessions) MarkEnded(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update impersonation_sessions set ended_at=$2 where id=$1 and ended_at is null`, id, at)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Either unknown or already ended; distinguish for the caller.
		row := s.db.QueryRowContext(ctx,
			`select 1 from impersonation_sessions where id=$1`, id)
		var one int
		if scanErr := row.Scan(&one); scanErr == sql.ErrNoRows {
			return impersonation.ErrSessionNotFound
		}
		return impersonation.ErrSessionAlreadyEnded
	}
	return nil
}

func (s *Sessions) ListActive(ctx context.Context, now time.Time) ([]impersonation.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, impersonator_id, impersonator_role, impersonated_user_id,
		        reason, started_at, expires_at
		   from impersonation_sessions
		  where ended_at is null and expires_at > $1
		  order by started_at asc`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []impersonation.Session
	for rows.Next() {
		var (
			sess impersonation.Session
			role string
		)
		if err := rows.Scan(&sess.ID, &sess.ImpersonatorID, &role, &sess.ImpersonatedUserID,
			&sess.Reason, &sess.StartedAt, &sess.ExpiresAt); err != nil {
			return nil, err
		}
		sess.ImpersonatorRole = auth.Role(role)
		out = append(out, sess)
	}
	return out, rows.Err()
}
