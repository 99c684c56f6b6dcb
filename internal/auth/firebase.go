package auth

import (
	"context"

	fbauth "firebase.google.com/go/v4/auth"
	"github.com/anonto42/nano-midea/notifier/internal/models"
)

// IDTokenVerifier is the part of the Firebase auth client used here
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
}

// FirebaseUserLookup maps a Firebase UID to the local account
type FirebaseUserLookup interface {
	GetUserByFirebaseUID(ctx context.Context, firebaseUID string) (*models.User, error)
}

// FirebaseVerifier accepts Firebase ID tokens of users that already have a local account
type FirebaseVerifier struct {
	tokens IDTokenVerifier
	users  FirebaseUserLookup
}

func NewFirebaseVerifier(tokens IDTokenVerifier, users FirebaseUserLookup) *FirebaseVerifier {
	return &FirebaseVerifier{tokens: tokens, users: users}
}

func (v *FirebaseVerifier) Verify(ctx context.Context, idToken string) (uint, error) {
	token, err := v.tokens.VerifyIDToken(ctx, idToken)
	if err != nil {
		return 0, ErrInvalidCredential
	}
	user, err := v.users.GetUserByFirebaseUID(ctx, token.UID)
	if err != nil {
		return 0, ErrInvalidCredential
	}
	return user.ID, nil
}
