package credentials

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/example/rail-scheduler/internal/crypto"
	"github.com/example/rail-scheduler/internal/db"
	"github.com/example/rail-scheduler/internal/rail"
)

var ErrNotSet = errors.New("no ticketing login saved for this user")

// Repo stores each user's ticketing login. Passwords are sealed with the
// user id as associated data.
type Repo struct {
	db   db.Querier
	aead *crypto.AEAD
}

func NewRepo(d db.Querier, aead *crypto.AEAD) *Repo { return &Repo{db: d, aead: aead} }

func (r *Repo) Save(ctx context.Context, userID int64, creds rail.Credentials) error {
	creds.MemberID = strings.TrimSpace(creds.MemberID)
	if creds.MemberID == "" || creds.Password == "" {
		return errors.New("member id and password are required")
	}
	enc, err := r.aead.EncryptToString(creds.Password, aad(userID))
	if err != nil {
		return fmt.Errorf("seal password: %w", err)
	}
	err = r.db.Exec(ctx, `
INSERT INTO rail_credentials(user_id, member_id, password_enc, updated_at)
VALUES ($1,$2,$3,now())
ON CONFLICT (user_id) DO UPDATE SET member_id=EXCLUDED.member_id, password_enc=EXCLUDED.password_enc, updated_at=now()`,
		userID, creds.MemberID, enc)
	return db.WrapNotFound(err)
}

func (r *Repo) Get(ctx context.Context, userID int64) (rail.Credentials, error) {
	var memberID, enc string
	err := r.db.QueryRow(ctx, `SELECT member_id, password_enc FROM rail_credentials WHERE user_id=$1`, userID).Scan(&memberID, &enc)
	if err != nil {
		if db.IsNotFound(err) {
			return rail.Credentials{}, ErrNotSet
		}
		return rail.Credentials{}, db.WrapNotFound(err)
	}
	pw, err := r.aead.DecryptString(enc, aad(userID))
	if err != nil {
		return rail.Credentials{}, fmt.Errorf("open password: %w", err)
	}
	return rail.Credentials{MemberID: memberID, Password: pw}, nil
}

func aad(userID int64) []byte { return []byte("user:" + strconv.FormatInt(userID, 10)) }
