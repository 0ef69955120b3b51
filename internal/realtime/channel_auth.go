package realtime

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/avelarlabs/brokerage-backend/pkg/auth"
	"github.com/avelarlabs/brokerage-backend/pkg/config"
	"github.com/avelarlabs/brokerage-backend/pkg/enums"
	apperrors "github.com/avelarlabs/brokerage-backend/pkg/errors"
	"github.com/avelarlabs/brokerage-backend/pkg/logger"
)

var orderChannelPattern = regexp.MustCompile(`^accounts\.([0-9a-fA-F-]{36})\.orders$`)

// ChannelAuthorizer decides whether a JWT may subscribe to a realtime channel.
// Investors only see their own account channel; ops can observe any.
type ChannelAuthorizer struct {
	cfg  config.JWTConfig
	logg *logger.Logger
}

func NewChannelAuthorizer(cfg config.JWTConfig, logg *logger.Logger) (*ChannelAuthorizer, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("jwt secret required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &ChannelAuthorizer{cfg: cfg, logg: logg}, nil
}

// Authorize validates the token and checks channel ownership. It returns the
// parsed claims so callers can attach identity to the connection.
func (a *ChannelAuthorizer) Authorize(ctx context.Context, token, channel string) (*auth.AccessTokenClaims, error) {
	claims, err := auth.ParseAccessToken(a.cfg, token)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnauthorized, err, "invalid access token")
	}

	match := orderChannelPattern.FindStringSubmatch(channel)
	if match == nil {
		return nil, apperrors.New(apperrors.CodeValidation, fmt.Sprintf("unknown channel %q", channel))
	}

	if claims.Role == enums.ClientRoleOps {
		return claims, nil
	}
	if !strings.EqualFold(claims.AccountID.String(), match[1]) {
		logCtx := a.logg.WithAccountID(ctx, claims.AccountID.String())
		a.logg.Warn(logCtx, "channel subscription denied")
		return nil, apperrors.New(apperrors.CodeForbidden, "channel belongs to another account")
	}
	return claims, nil
}
