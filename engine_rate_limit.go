package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/internal/rate"
)

// checkLoginRate fails closed: a limiter backend error rejects the attempt.
func (e *Engine) checkLoginRate(ctx context.Context, email string) error {
	if e.limiter == nil {
		return nil
	}
	err := e.limiter.CheckLogin(ctx, email, clientIPFromContext(ctx))
	if err == nil {
		return nil
	}
	if errors.Is(err, rate.ErrRedisUnavailable) {
		e.logger.ErrorContext(ctx, "login rate limiter unavailable", "error", err)
	}
	e.metricInc(MetricLoginRateLimited)
	e.emitAudit(ctx, auditEventLoginRateLimited, false, "", email, ErrRateLimited, nil)
	return ErrRateLimited
}

func (e *Engine) recordLoginRateFailure(ctx context.Context, email string) {
	if e.limiter == nil {
		return
	}
	if err := e.limiter.IncrementLogin(ctx, email, clientIPFromContext(ctx)); err != nil {
		e.logger.WarnContext(ctx, "login failure not counted by rate limiter", "error", err)
	}
}

func (e *Engine) resetLoginRate(ctx context.Context, email string) {
	if e.limiter == nil {
		return
	}
	if err := e.limiter.ResetLogin(ctx, email); err != nil {
		e.logger.WarnContext(ctx, "login rate counter not reset", "error", err)
	}
}

func (e *Engine) checkRefreshRate(ctx context.Context, tokenHash string) error {
	if e.limiter == nil {
		return nil
	}
	err := e.limiter.CheckRefresh(ctx, tokenHash, clientIPFromContext(ctx))
	if err == nil {
		return nil
	}
	if errors.Is(err, rate.ErrRedisUnavailable) {
		e.logger.ErrorContext(ctx, "refresh rate limiter unavailable", "error", err)
	}
	e.metricInc(MetricRefreshRateLimited)
	e.emitAudit(ctx, auditEventRefreshRateLimited, false, "", "", ErrRateLimited, nil)
	return ErrRateLimited
}
