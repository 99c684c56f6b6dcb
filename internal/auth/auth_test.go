package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	fbauth "firebase.google.com/go/v4/auth"
	"github.com/anonto42/nano-midea/notifier/internal/models"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const secret = "test-secret-0123456789"

func userWithID(id uint) *models.User {
	return &models.User{Model: gorm.Model{ID: id}, Email: "user@example.com"}
}

func TestTokenManager_RoundTrip(t *testing.T) {
	tm := NewTokenManager(secret, time.Hour)

	token, err := tm.Issue(userWithID(42))
	require.NoError(t, err)

	id, err := tm.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), id)
}

func TestTokenManager_RejectsBadTokens(t *testing.T) {
	tm := NewTokenManager(secret, time.Hour)
	ctx := context.Background()

	other, err := NewTokenManager("another-secret-0123456789", time.Hour).Issue(userWithID(1))
	require.NoError(t, err)
	_, err = tm.Verify(ctx, other)
	assert.ErrorIs(t, err, ErrInvalidCredential)

	expired, err := NewTokenManager(secret, -time.Minute).Issue(userWithID(1))
	require.NoError(t, err)
	_, err = tm.Verify(ctx, expired)
	assert.ErrorIs(t, err, ErrInvalidCredential)

	anonymous, err := tm.Issue(userWithID(0))
	require.NoError(t, err)
	_, err = tm.Verify(ctx, anonymous)
	assert.ErrorIs(t, err, ErrInvalidCredential)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &models.JwtCustomClaims{UserID: 1}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = tm.Verify(ctx, unsigned)
	assert.ErrorIs(t, err, ErrInvalidCredential)

	_, err = tm.Verify(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

type verifierFunc func(ctx context.Context, token string) (uint, error)

func (f verifierFunc) Verify(ctx context.Context, token string) (uint, error) { return f(ctx, token) }

func TestChain(t *testing.T) {
	reject := verifierFunc(func(context.Context, string) (uint, error) { return 0, ErrInvalidCredential })
	accept := verifierFunc(func(context.Context, string) (uint, error) { return 7, nil })

	id, err := Chain{reject, nil, accept}.Verify(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, uint(7), id)

	_, err = Chain{reject}.Verify(context.Background(), "t")
	assert.ErrorIs(t, err, ErrInvalidCredential)

	_, err = Chain{}.Verify(context.Background(), "t")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer  abc ", "abc", true},
		{"Basic abc", "", false},
		{"Bearer", "", false},
		{"Bearer   ", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		token, ok := BearerToken(tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.token, token, tt.header)
	}
}

type fakeIDTokens map[string]string

func (f fakeIDTokens) VerifyIDToken(_ context.Context, idToken string) (*fbauth.Token, error) {
	uid, ok := f[idToken]
	if !ok {
		return nil, errors.New("ID token has invalid signature")
	}
	return &fbauth.Token{UID: uid}, nil
}

type fakeFirebaseUsers map[string]uint

func (f fakeFirebaseUsers) GetUserByFirebaseUID(_ context.Context, uid string) (*models.User, error) {
	id, ok := f[uid]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return userWithID(id), nil
}

func TestFirebaseVerifier(t *testing.T) {
	v := NewFirebaseVerifier(
		fakeIDTokens{"linked": "uid-1", "unlinked": "uid-2"},
		fakeFirebaseUsers{"uid-1": 11},
	)
	ctx := context.Background()

	id, err := v.Verify(ctx, "linked")
	require.NoError(t, err)
	assert.Equal(t, uint(11), id)

	_, err = v.Verify(ctx, "unlinked")
	assert.ErrorIs(t, err, ErrInvalidCredential)

	_, err = v.Verify(ctx, "forged")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}
