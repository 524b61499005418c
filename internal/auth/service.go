// Package auth authenticates back-office operators and issues their tokens.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrOperatorExists     = errors.New("operator email already registered")
)

// Operators is the storage the service needs.
type Operators interface {
	FindByEmail(ctx context.Context, email string) (*Operator, error)
	CreateOperator(ctx context.Context, op *Operator) error
}

type OperatorService struct {
	repo   Operators
	tokens *Tokens
	log    *zap.Logger
}

// NewOperatorService creates a new operator service.
func NewOperatorService(repo Operators, tokens *Tokens, log *zap.Logger) *OperatorService {
	return &OperatorService{repo: repo, tokens: tokens, log: log.Named("auth")}
}

// CreateOperator registers an operator with a bcrypt password hash.
func (s *OperatorService) CreateOperator(ctx context.Context, req CreateOperatorRequest) (*Operator, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	existing, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrOperatorExists
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	op := &Operator{
		ID:           primitive.NewObjectID(),
		Email:        email,
		Name:         req.Name,
		Role:         req.Role,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}
	if err := s.repo.CreateOperator(ctx, op); err != nil {
		return nil, err
	}
	s.log.Info("operator created", zap.String("email", op.Email), zap.String("role", op.Role))
	return op, nil
}

// Authenticate checks the credential and returns a signed token.
func (s *OperatorService) Authenticate(ctx context.Context, cred Credential) (string, *Operator, error) {
	op, err := s.repo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(cred.Email)))
	if err != nil {
		return "", nil, err
	}
	if op == nil || !CheckPasswordHash(cred.Password, op.PasswordHash) {
		return "", nil, ErrInvalidCredentials
	}
	token, err := s.tokens.Generate(op)
	if err != nil {
		return "", nil, err
	}
	return token, op, nil
}
