package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/jwt"
)

// ValidateAccess verifies an access token and returns its principal.
//
// An expired token that is authentic and still inside the grace period is
// renewed: the returned string is the new access token and the principal
// describes it. For a token that needed no renewal the string is empty.
// Anything else fails with ErrTokenExpired or ErrTokenInvalid.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (Principal, string, error) {
	if e == nil || e.jwtManager == nil {
		return Principal{}, "", ErrEngineNotReady
	}

	claims, err := e.jwtManager.Verify(accessToken)
	switch {
	case err == nil:
		if claims.Use != jwt.UseAccess {
			return Principal{}, "", ErrTokenInvalid
		}
		return principalFromClaims(claims), "", nil
	case errors.Is(err, jwt.ErrExpired):
	default:
		return Principal{}, "", ErrTokenInvalid
	}

	renewed, _, err := e.jwtManager.Renew(accessToken)
	if err != nil {
		if errors.Is(err, jwt.ErrNotRenewable) {
			return Principal{}, "", ErrTokenExpired
		}
		return Principal{}, "", ErrTokenInvalid
	}
	fresh, err := e.jwtManager.Verify(renewed)
	if err != nil {
		return Principal{}, "", ErrTokenInvalid
	}

	principal := principalFromClaims(fresh)
	e.metricInc(MetricAccessRenewed)
	e.emitAudit(ctx, auditEventAccessRenewed, true, principal.UserID, principal.Email, nil, nil)
	return principal, renewed, nil
}

func principalFromClaims(claims *jwt.Claims) Principal {
	p := Principal{
		UserID:          claims.UserID,
		Email:           claims.Email,
		IsEmailVerified: claims.IsEmailVerified,
		Has2FA:          claims.Has2FA,
		TokenID:         claims.ID,
	}
	if claims.IssuedAt != nil {
		p.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p
}
