package realtime

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelarlabs/brokerage-backend/pkg/auth"
	"github.com/avelarlabs/brokerage-backend/pkg/config"
	"github.com/avelarlabs/brokerage-backend/pkg/enums"
	apperrors "github.com/avelarlabs/brokerage-backend/pkg/errors"
	"github.com/avelarlabs/brokerage-backend/pkg/logger"
)

var testJWTConfig = config.JWTConfig{
	Secret:            "channel-auth-test-secret",
	Issuer:            "brokerage-test",
	ExpirationMinutes: 15,
}

func newTestAuthorizer(t *testing.T) *ChannelAuthorizer {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "realtime-test", Output: io.Discard})
	authorizer, err := NewChannelAuthorizer(testJWTConfig, logg)
	require.NoError(t, err)
	return authorizer
}

func mintToken(t *testing.T, accountID uuid.UUID, role enums.ClientRole) string {
	t.Helper()
	token, err := auth.MintAccessToken(testJWTConfig, time.Now().UTC(), auth.AccessTokenPayload{
		ClientID:  uuid.New(),
		AccountID: accountID,
		Role:      role,
		JTI:       uuid.NewString(),
	})
	require.NoError(t, err)
	return token
}

func TestAuthorizeOwnChannel(t *testing.T) {
	authorizer := newTestAuthorizer(t)
	accountID := uuid.New()
	token := mintToken(t, accountID, enums.ClientRoleInvestor)

	claims, err := authorizer.Authorize(context.Background(), token, OrderChannel(accountID.String()))
	require.NoError(t, err)
	assert.Equal(t, accountID, claims.AccountID)
	assert.Equal(t, enums.ClientRoleInvestor, claims.Role)
}

func TestAuthorizeDeniesForeignChannel(t *testing.T) {
	authorizer := newTestAuthorizer(t)
	token := mintToken(t, uuid.New(), enums.ClientRoleInvestor)

	_, err := authorizer.Authorize(context.Background(), token, OrderChannel(uuid.NewString()))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden), "got %v", err)
}

func TestAuthorizeOpsBypassesOwnership(t *testing.T) {
	authorizer := newTestAuthorizer(t)
	token := mintToken(t, uuid.New(), enums.ClientRoleOps)

	claims, err := authorizer.Authorize(context.Background(), token, OrderChannel(uuid.NewString()))
	require.NoError(t, err)
	assert.Equal(t, enums.ClientRoleOps, claims.Role)
}

func TestAuthorizeRejectsBadToken(t *testing.T) {
	authorizer := newTestAuthorizer(t)

	_, err := authorizer.Authorize(context.Background(), "not-a-token", OrderChannel(uuid.NewString()))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnauthorized), "got %v", err)

	foreign := config.JWTConfig{Secret: "other-secret", Issuer: testJWTConfig.Issuer, ExpirationMinutes: 15}
	accountID := uuid.New()
	forged, err := auth.MintAccessToken(foreign, time.Now().UTC(), auth.AccessTokenPayload{
		ClientID:  uuid.New(),
		AccountID: accountID,
		Role:      enums.ClientRoleInvestor,
		JTI:       uuid.NewString(),
	})
	require.NoError(t, err)

	_, err = authorizer.Authorize(context.Background(), forged, OrderChannel(accountID.String()))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnauthorized), "got %v", err)
}

func TestAuthorizeRejectsUnknownChannel(t *testing.T) {
	authorizer := newTestAuthorizer(t)
	accountID := uuid.New()
	token := mintToken(t, accountID, enums.ClientRoleInvestor)

	cases := []string{
		"orders",
		"accounts..orders",
		"accounts." + accountID.String() + ".fills",
		"accounts.not-a-uuid.orders",
	}
	for _, channel := range cases {
		_, err := authorizer.Authorize(context.Background(), token, channel)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation), "channel %q: got %v", channel, err)
	}
}
