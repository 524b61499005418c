package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ExpeditionFlow/internal/config"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memoryOperators struct {
	mu  sync.Mutex
	ops map[string]*Operator
}

func (m *memoryOperators) FindByEmail(_ context.Context, email string) (*Operator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops[email], nil
}

func (m *memoryOperators) CreateOperator(_ context.Context, op *Operator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ops[op.Email]; ok {
		return ErrOperatorExists
	}
	m.ops[op.Email] = op
	return nil
}

type structValidator struct{ v *validator.Validate }

func (s structValidator) Validate(i any) error { return s.v.Struct(i) }

func newService(t *testing.T) *OperatorService {
	t.Helper()
	cfg := &config.Config{Auth: config.AuthConfig{JWTSecret: "secret", TokenTTL: time.Hour}}
	tokens, err := NewTokens(cfg)
	require.NoError(t, err)
	return NewOperatorService(&memoryOperators{ops: map[string]*Operator{}}, tokens, zap.NewNop())
}

func TestNewTokensNeedsSecret(t *testing.T) {
	_, err := NewTokens(&config.Config{})
	assert.Error(t, err)
}

func TestCreateAndAuthenticate(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	op, err := svc.CreateOperator(ctx, CreateOperatorRequest{Email: " Ops@Example.com", Name: "Ops", Role: RoleAdmin, Password: "password1"})
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", op.Email)
	assert.NotEqual(t, "password1", op.PasswordHash)

	_, err = svc.CreateOperator(ctx, CreateOperatorRequest{Email: "ops@example.com", Name: "Again", Role: RoleOperator, Password: "password2"})
	assert.ErrorIs(t, err, ErrOperatorExists)

	token, got, err := svc.Authenticate(ctx, Credential{Email: "OPS@example.com", Password: "password1"})
	require.NoError(t, err)
	assert.Equal(t, op.ID, got.ID)

	claims, err := svc.tokens.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, claims.Role)
	assert.Equal(t, op.ID.Hex(), claims.Subject)

	_, _, err = svc.Authenticate(ctx, Credential{Email: "ops@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = svc.Authenticate(ctx, Credential{Email: "nobody@example.com", Password: "password1"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestExpiredTokenIsRejected(t *testing.T) {
	svc := newService(t)
	op, err := svc.CreateOperator(context.Background(), CreateOperatorRequest{Email: "a@example.com", Name: "A", Role: RoleOperator, Password: "password1"})
	require.NoError(t, err)

	issued := time.Now().Add(-2 * time.Hour)
	svc.tokens.now = func() time.Time { return issued }
	token, err := svc.tokens.Generate(op)
	require.NoError(t, err)

	svc.tokens.now = time.Now
	_, err = svc.tokens.Parse(token)
	assert.Error(t, err)
}

func TestLoginHandler(t *testing.T) {
	svc := newService(t)
	_, err := svc.CreateOperator(context.Background(), CreateOperatorRequest{Email: "a@example.com", Name: "A", Role: RoleOperator, Password: "password1"})
	require.NoError(t, err)

	e := echo.New()
	e.Validator = structValidator{v: validator.New()}
	h := NewAuthHandler(svc)
	e.POST("/login", h.Login)

	cases := []struct {
		body string
		code int
	}{
		{`{"email":"a@example.com","password":"password1"}`, http.StatusOK},
		{`{"email":"a@example.com","password":"nope"}`, http.StatusUnauthorized},
		{`{"email":"not-an-email","password":"x"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(tc.body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, tc.code, rec.Code, tc.body)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, tc.code == http.StatusOK, resp["success"])
	}
}
