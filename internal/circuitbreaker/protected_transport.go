package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/waitlist/internal/mailer"
)

// ProtectedTransport wraps a mailer.Transport with a CircuitBreaker. While
// the circuit is open every Send fails fast with ErrCircuitOpen.
//
// Only failures to reach the provider count against the breaker; a
// provider rejecting one address says nothing about its health.
type ProtectedTransport struct {
	transport mailer.Transport
	breaker   *CircuitBreaker
	logger    *zap.Logger
}

func NewProtectedTransport(transport mailer.Transport, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedTransport {
	return &ProtectedTransport{
		transport: transport,
		breaker:   breaker,
		logger:    logger,
	}
}

func (p *ProtectedTransport) Send(ctx context.Context, email mailer.Email) (string, error) {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected send, failing fast",
			zap.String("breaker", p.breaker.Name()),
			zap.String("to", email.To),
			zap.String("state", p.breaker.GetState().String()),
		)
		return "", fmt.Errorf("%w: %s transport unavailable", ErrCircuitOpen, p.breaker.Name())
	}

	id, err := p.transport.Send(ctx, email)
	if err != nil && !mailer.IsRejected(err) {
		p.breaker.RecordFailure()
		p.logger.Debug("circuit breaker recorded failure",
			zap.String("breaker", p.breaker.Name()),
			zap.Error(err),
		)
		return "", err
	}

	p.breaker.RecordSuccess()
	return id, err
}

func (p *ProtectedTransport) Name() string {
	return p.transport.Name()
}
