package simulator

import (
	"encoding/json"

	"github.com/chrisdamba/venuesim/internal/models"
)

func (s *Simulator) serializeEvent(topic string, eventData interface{}) (models.EventMessage, error) {
	msg, err := json.Marshal(eventData)
	if err != nil {
		return models.EventMessage{}, err
	}
	return models.EventMessage{Topic: topic, Message: msg}, nil
}

// publish writes one event to the output. Failures are logged and counted;
// they never interrupt the caller.
func (s *Simulator) publish(topic string, eventData interface{}) {
	if s.output == nil {
		return
	}
	eventMsg, err := s.serializeEvent(topic, eventData)
	if err != nil {
		s.writeFailures.Add(1)
		s.logger.Error().Err(err).Str("topic", topic).Msg("error serializing event")
		return
	}

	s.outMu.Lock()
	err = s.output.WriteMessage(eventMsg.Topic, eventMsg.Message)
	s.outMu.Unlock()
	if err != nil {
		s.writeFailures.Add(1)
		s.logger.Error().Err(err).Str("topic", topic).Msg("failed to write message")
	}
}

func copySamples(samples []models.DensitySample) []models.DensitySample {
	if samples == nil {
		return []models.DensitySample{}
	}
	out := make([]models.DensitySample, len(samples))
	copy(out, samples)
	return out
}
