package push

import (
	"context"
	"errors"
	"time"

	"complaint-portal/pkg/logging"

	gobreaker "github.com/sony/gobreaker/v2"
)

type BreakerConfig struct {
	Name             string
	FailureThreshold uint32
	Timeout          time.Duration
}

// BreakerSender stops calling the provider after repeated failures and
// fails fast with ErrProviderUnavailable until the timeout passes.
type BreakerSender struct {
	next Sender
	cb   *gobreaker.CircuitBreaker[Result]
}

func NewBreakerSender(next Sender, cfg BreakerConfig) *BreakerSender {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("push circuit breaker state changed")
		},
	}
	return &BreakerSender{next: next, cb: gobreaker.NewCircuitBreaker[Result](settings)}
}

func (b *BreakerSender) SendMulticast(ctx context.Context, tokens []string, p Payload) (Result, error) {
	res, err := b.cb.Execute(func() (Result, error) {
		return b.next.SendMulticast(ctx, tokens, p)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Result{}, ErrProviderUnavailable
	}
	return res, err
}

func (b *BreakerSender) State() string {
	return b.cb.State().String()
}
