package ctxutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/hashi/internal/auth"
)

func TestAccessors_EmptyContext(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, ClaimsFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(ctx))
	assert.Empty(t, PrincipalFromContext(ctx))
}

func TestAccessors_RoundTrip(t *testing.T) {
	claims := &auth.Claims{Transport: "telegram"}
	ctx := WithClaims(context.Background(), claims)
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithPrincipal(ctx, "telegram:42")

	assert.Same(t, claims, ClaimsFromContext(ctx))
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "telegram:42", PrincipalFromContext(ctx))
}
