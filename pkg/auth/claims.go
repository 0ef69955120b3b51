package auth

import (
	"github.com/avelarlabs/brokerage-backend/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	ClientID  uuid.UUID
	AccountID uuid.UUID
	Role      enums.ClientRole
	JTI       string
}

// AccessTokenClaims represents the typed JWT presented by clients when
// subscribing to realtime channels.
type AccessTokenClaims struct {
	ClientID  uuid.UUID        `json:"client_id"`
	AccountID uuid.UUID        `json:"account_id"`
	Role      enums.ClientRole `json:"role"`
	jwt.RegisteredClaims
}
