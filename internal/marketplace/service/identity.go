package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/example/findx/internal/marketplace/domain"
)

// RegisterRequest contains the payload for creating an identity.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"min=6"`
	Name     string `json:"name" validate:"min=2"`
	Role     string `json:"role" validate:"oneof=provider consumer"`
}

// LoginRequest contains credentials.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"min=6"`
}

// AuthResponse is returned by Register and Login.
type AuthResponse struct {
	Token    string          `json:"token"`
	Identity domain.Identity `json:"user"`
}

// Register creates an identity with an immutable role and returns a token for it.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (AuthResponse, error) {
	req.Email = strings.TrimSpace(req.Email)
	if err := validateStruct(req); err != nil {
		return AuthResponse{}, err
	}
	if _, err := s.repo.GetIdentityByEmail(ctx, req.Email); err == nil {
		return AuthResponse{}, fmt.Errorf("%w: email already registered", domain.ErrConflict)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return AuthResponse{}, err
	}

	hash, err := s.passwords.Hash(req.Password)
	if err != nil {
		return AuthResponse{}, fmt.Errorf("hash password: %w", err)
	}
	identity, err := s.repo.CreateIdentity(ctx, domain.Identity{
		ID:           uuid.New(),
		Email:        req.Email,
		Name:         req.Name,
		Role:         domain.Role(req.Role),
		PasswordHash: hash,
		CreatedAt:    s.clock.Now(),
	})
	if err != nil {
		return AuthResponse{}, err
	}
	return s.authResponse(identity)
}

// Login verifies credentials. Unknown emails and wrong passwords are
// indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, req LoginRequest) (AuthResponse, error) {
	if err := validateStruct(req); err != nil {
		return AuthResponse{}, err
	}
	identity, err := s.repo.GetIdentityByEmail(ctx, strings.TrimSpace(req.Email))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return AuthResponse{}, fmt.Errorf("%w: invalid credentials", domain.ErrUnauthorized)
		}
		return AuthResponse{}, err
	}
	if err := s.passwords.Compare(identity.PasswordHash, req.Password); err != nil {
		return AuthResponse{}, fmt.Errorf("%w: invalid credentials", domain.ErrUnauthorized)
	}
	return s.authResponse(identity)
}

// Me returns the identity behind the actor.
func (s *Service) Me(ctx context.Context, actor domain.Actor) (domain.Identity, error) {
	return s.repo.GetIdentityByID(ctx, actor.ID)
}

func (s *Service) authResponse(identity domain.Identity) (AuthResponse, error) {
	token, err := s.tokens.Issue(identity)
	if err != nil {
		return AuthResponse{}, fmt.Errorf("issue token: %w", err)
	}
	return AuthResponse{Token: token, Identity: identity}, nil
}
