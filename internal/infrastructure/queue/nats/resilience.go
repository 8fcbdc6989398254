package nats

import (
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/policy-copilot/internal/core/domain"
	"github.com/kirillkom/policy-copilot/internal/infrastructure/resilience"
)

// transientNATSErrors clear up once the client reconnects; publishing again is safe.
var transientNATSErrors = []error{
	nats.ErrNoServers,
	nats.ErrTimeout,
	nats.ErrConnectionClosed,
	nats.ErrConnectionReconnecting,
	nats.ErrReconnectBufExceeded,
	nats.ErrDisconnected,
}

func isTransientNATSError(err error) bool {
	for _, target := range transientNATSErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func classifyNATSError(err error) resilience.ErrorClassification {
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case resilience.IsContextError(err):
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	case isTransientNATSError(err):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	default:
		// payload and subject errors are the event's fault, not the broker's
		return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
	}
}

// wrapPublishError marks broker outages and an open breaker as ErrTemporary.
func wrapPublishError(err error) error {
	switch {
	case err == nil:
		return nil
	case domain.IsKind(err, domain.ErrTemporary):
		return err
	case resilience.IsCircuitOpen(err), isTransientNATSError(err):
		return domain.WrapError(domain.ErrTemporary, "nats publish search event", err)
	default:
		return err
	}
}
