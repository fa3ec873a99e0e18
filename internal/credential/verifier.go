package credential

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/smallbiznis/legacy-idp/internal/domain"
	"github.com/smallbiznis/legacy-idp/internal/password"
	"github.com/smallbiznis/legacy-idp/internal/store"
)

// Verifier fronts the legacy credential store. It is the only component that
// ever sees a raw password; everything downstream works with user records.
type Verifier struct {
	users  store.UserRepository
	tracer trace.Tracer
}

// NewVerifier wires the verifier to the user repository.
func NewVerifier(users store.UserRepository) *Verifier {
	return &Verifier{
		users:  users,
		tracer: otel.Tracer("github.com/smallbiznis/legacy-idp/internal/credential"),
	}
}

// Verify checks identifier and secret against the stored argon2id hash. A
// missing user and a wrong password both collapse to ErrInvalidCredentials so
// responses cannot be used for account enumeration.
func (v *Verifier) Verify(ctx context.Context, identifier, secret string) (domain.User, error) {
	ctx, span := v.tracer.Start(ctx, "Verifier.Verify")
	defer span.End()

	normalized := strings.ToLower(strings.TrimSpace(identifier))
	user, err := v.users.GetByEmail(ctx, normalized)
	if err != nil {
		span.RecordError(err)
		return domain.User{}, domain.ErrInvalidCredentials
	}

	valid, err := password.Verify(secret, user.PasswordHash)
	if err != nil || !valid {
		return domain.User{}, domain.ErrInvalidCredentials
	}
	return user, nil
}
