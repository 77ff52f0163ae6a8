package requestctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTenantID_RoundTrip(t *testing.T) {
	ctx := SetTenantID(context.Background(), "acme")
	assert.Equal(t, "acme", TenantID(ctx))
}

func TestTenantID_Unset(t *testing.T) {
	assert.Equal(t, "", TenantID(context.Background()))
}

func TestUserID_RoundTrip(t *testing.T) {
	ctx := SetUserID(context.Background(), "usr_1")
	assert.Equal(t, "usr_1", UserID(ctx))
}

func TestUserID_Unset(t *testing.T) {
	assert.Equal(t, "", UserID(context.Background()))
}

func TestIdentity_Independent(t *testing.T) {
	ctx := SetTenantID(context.Background(), "acme")
	ctx = SetUserID(ctx, "usr_1")
	assert.Equal(t, "acme", TenantID(ctx))
	assert.Equal(t, "usr_1", UserID(ctx))
}
