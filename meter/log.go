package meter

import (
	log "github.com/sirupsen/logrus"

	"github.com/ineyio/pitchiq"
)

// LogMeter logs admission and result events using logrus.
type LogMeter struct {
	Logger log.FieldLogger
}

var _ pitchiq.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, the logrus standard logger is used.
func NewLogMeter(logger log.FieldLogger) *LogMeter {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnAdmission(e pitchiq.AdmissionEvent) {
	fields := log.Fields{
		"user_id": e.UserID,
		"model":   e.Model,
		"vip":     e.VIP,
	}
	if !e.Allowed {
		m.Logger.WithFields(fields).Info("admission_denied")
		return
	}
	fields["reservation"] = e.ReservationID
	fields["estimated_tokens"] = e.EstimatedIn
	m.Logger.WithFields(fields).Info("admission")
}

func (m *LogMeter) OnResult(e pitchiq.ResultEvent) {
	fields := log.Fields{
		"user_id":     e.UserID,
		"provider":    e.Provider,
		"model":       e.Model,
		"vip":         e.VIP,
		"duration_ms": e.Duration.Milliseconds(),
	}
	if e.Success {
		fields["prompt_tokens"] = e.Usage.PromptTokens
		fields["completion_tokens"] = e.Usage.CompletionTokens
		m.Logger.WithFields(fields).Info("result")
		return
	}
	if e.Kind != nil {
		fields["kind"] = e.Kind.Error()
	}
	m.Logger.WithFields(fields).WithError(e.Error).Warn("result_error")
}
