package firebase

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"github.com/dukerupert/tuition/internal/domain"
	"google.golang.org/api/iterator"
)

// AdminClaim is the custom claim that marks a user as an administrator.
const AdminClaim = "admin"

// Auth verifies ID tokens and manages the admin custom claim.
type Auth struct {
	client *auth.Client
}

// NewAuth creates the Auth adapter from an initialized app.
func NewAuth(ctx context.Context, app *firebase.App) (*Auth, error) {
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase auth: %w", err)
	}
	return &Auth{client: client}, nil
}

// VerifyToken verifies an ID token and returns the principal it names.
// The admin flag is trusted as issued.
func (a *Auth) VerifyToken(ctx context.Context, idToken string) (*domain.Principal, error) {
	const op = "auth.verify_token"

	token, err := a.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, domain.WrapError(err, domain.EUNAUTHORIZED, op, "Invalid or expired token")
	}
	return principalFromClaims(token.UID, token.Claims), nil
}

// SetAdminClaim sets admin=true on uid, preserving any other custom claims.
func (a *Auth) SetAdminClaim(ctx context.Context, uid string) error {
	const op = "auth.set_admin_claim"

	user, err := a.client.GetUser(ctx, uid)
	if auth.IsUserNotFound(err) {
		return domain.NotFound(op, "user", uid)
	}
	if err != nil {
		return domain.Internal(err, op, "failed to load user")
	}

	if err := a.client.SetCustomUserClaims(ctx, uid, withAdminClaim(user.CustomClaims)); err != nil {
		return domain.Internal(err, op, "failed to set admin claim")
	}
	return nil
}

// AnyAdminExists scans users for one carrying the admin claim.
// Returns the first admin's uid, if any.
func (a *Auth) AnyAdminExists(ctx context.Context) (string, bool, error) {
	it := a.client.Users(ctx, "")
	for {
		user, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return "", false, nil
		}
		if err != nil {
			return "", false, domain.Internal(err, "auth.scan_admins", "failed to list users")
		}
		if isAdmin(user.CustomClaims) {
			return user.UID, true, nil
		}
	}
}

func principalFromClaims(uid string, claims map[string]interface{}) *domain.Principal {
	p := &domain.Principal{UID: uid, Admin: isAdmin(claims)}
	if email, ok := claims["email"].(string); ok {
		p.Email = email
	}
	return p
}

func isAdmin(claims map[string]interface{}) bool {
	v, ok := claims[AdminClaim].(bool)
	return ok && v
}

func withAdminClaim(existing map[string]interface{}) map[string]interface{} {
	claims := make(map[string]interface{}, len(existing)+1)
	for k, v := range existing {
		claims[k] = v
	}
	claims[AdminClaim] = true
	return claims
}
