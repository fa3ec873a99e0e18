package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/legacy-idp/internal/config"
	"github.com/smallbiznis/legacy-idp/internal/domain"
	"github.com/smallbiznis/legacy-idp/internal/password"
	"github.com/smallbiznis/legacy-idp/internal/store"
)

type seedUser struct {
	email      string
	password   string
	name       string
	department string
}

var demoUsers = []seedUser{
	{email: "john@company.com", password: "password123", name: "John Doe", department: "Engineering"},
	{email: "jane@company.com", password: "password456", name: "Jane Smith", department: "Marketing"},
}

var demoClient = domain.Client{
	ClientID:     "dex-client",
	ClientSecret: "dex-secret-key",
	RedirectURIs: []string{"http://localhost:5556/dex/callback"},
	Grants:       []string{"authorization_code", "refresh_token"},
	Scopes:       []string{"openid", "profile", "email"},
}

// SeedDemoData provisions the demo users and client used by local dev and
// e2e setups. Existing records are left untouched.
func SeedDemoData(lc fx.Lifecycle, cfg config.Config, users store.UserRepository, clients store.ClientRepository, node *snowflake.Node, logger *zap.Logger) {
	if !cfg.SeedDemoData {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return seedDemoData(ctx, users, clients, node, logger)
		},
	})
}

func seedDemoData(ctx context.Context, users store.UserRepository, clients store.ClientRepository, node *snowflake.Node, logger *zap.Logger) error {
	for _, seed := range demoUsers {
		email := strings.ToLower(seed.email)
		if _, err := users.GetByEmail(ctx, email); err == nil {
			continue
		} else if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("seed lookup user %s: %w", email, err)
		}

		hashed, err := password.Hash(seed.password)
		if err != nil {
			return fmt.Errorf("seed hash password: %w", err)
		}

		created, err := users.Create(ctx, domain.User{
			ID:            node.Generate().Int64(),
			Email:         email,
			EmailVerified: true,
			PasswordHash:  hashed,
			Name:          seed.name,
			Department:    seed.department,
		})
		if err != nil {
			return fmt.Errorf("seed create user %s: %w", email, err)
		}

		if logger != nil {
			logger.Info("seeded demo user",
				zap.String("email", created.Email),
				zap.Int64("user_id", created.ID),
			)
		}
	}

	if _, err := clients.GetByClientID(ctx, demoClient.ClientID); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrUnknownClient) {
		return fmt.Errorf("seed lookup client: %w", err)
	}

	client := demoClient
	client.ID = node.Generate().Int64()
	created, err := clients.Create(ctx, client)
	if err != nil {
		return fmt.Errorf("seed create client: %w", err)
	}

	if logger != nil {
		logger.Info("seeded demo client", zap.String("client_id", created.ClientID))
	}
	return nil
}
