// Package producers holds the message-broker destinations for simulator
// events.
package producers

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
)

// Writer is the subset of an output destination a breaker guards.
type Writer interface {
	WriteMessage(topic string, msg []byte) error
	Close() error
}

// BreakerOutput stops calling an unhealthy broker for a while after
// repeated failures so the refresh loop is not held up by timeouts.
type BreakerOutput struct {
	next    Writer
	breaker *gobreaker.CircuitBreaker[struct{}]
}

func NewBreakerOutput(name string, next Writer) *BreakerOutput {
	return NewBreakerOutputWithSettings(next, gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
}

func NewBreakerOutputWithSettings(next Writer, settings gobreaker.Settings) *BreakerOutput {
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("output circuit breaker changed state")
	}
	return &BreakerOutput{next: next, breaker: gobreaker.NewCircuitBreaker[struct{}](settings)}
}

func (b *BreakerOutput) WriteMessage(topic string, msg []byte) error {
	_, err := b.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, b.next.WriteMessage(topic, msg)
	})
	return err
}

func (b *BreakerOutput) State() gobreaker.State {
	return b.breaker.State()
}

func (b *BreakerOutput) Close() error {
	return b.next.Close()
}
