package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"pricesync/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, store)
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"}); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
}

func TestEnsureUserCreatesOnceAndHashes(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{}}
	manager := NewAuthManager("test-secret", time.Hour, store)
	ctx := context.Background()

	if err := manager.EnsureUser(ctx, "Pricing-Admin", "s3cure-pass", RoleAdmin); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if err := manager.EnsureUser(ctx, "pricing-admin", "other-pass-1", RoleAdmin); err != nil {
		t.Fatalf("ensure existing user: %v", err)
	}

	saved := store.users["pricing-admin"]
	if saved.Password == "s3cure-pass" || !strings.HasPrefix(saved.Password, "$2") {
		t.Fatalf("expected hashed password, got %q", saved.Password)
	}

	resp, err := manager.Login(ctx, domain.LoginRequest{Username: "pricing-admin", Password: "s3cure-pass"})
	if err != nil {
		t.Fatalf("login with first password failed: %v", err)
	}
	if resp.Role != RoleAdmin {
		t.Fatalf("unexpected role %s", resp.Role)
	}

	if err := manager.EnsureUser(ctx, "x", "short", RoleAdmin); err == nil {
		t.Fatalf("expected short password to be rejected")
	}
	if err := manager.EnsureUser(ctx, "auditor", "long-enough-1", "auditor"); err == nil {
		t.Fatalf("expected unknown role to be rejected")
	}
}

func TestParseTokenCarriesActor(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{}}
	manager := NewAuthManager("test-secret", time.Hour, store)
	ctx := context.Background()
	if err := manager.EnsureUser(ctx, "operator", "operator-pass", RoleOperator); err != nil {
		t.Fatalf("ensure user: %v", err)
	}

	resp, err := manager.Login(ctx, domain.LoginRequest{Username: "operator", Password: "operator-pass"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Type != domain.ActorTypeUser || actor.ID != "operator" || actor.Role != RoleOperator {
		t.Fatalf("unexpected actor: %+v", actor)
	}

	other := NewAuthManager("another-secret", time.Hour, store)
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestInactiveAccountCannotLogin(t *testing.T) {
	store := &userStoreStub{}
	manager := NewAuthManager("test-secret", time.Hour, store)
	ctx := context.Background()
	if err := manager.EnsureUser(ctx, "operator", "operator-pass", RoleOperator); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	user := store.users["operator"]
	user.Active = false
	store.users["operator"] = user

	_, err := manager.Login(ctx, domain.LoginRequest{Username: "operator", Password: "operator-pass"})
	if !errors.Is(err, ErrInactiveAccount) {
		t.Fatalf("expected ErrInactiveAccount, got %v", err)
	}
}
