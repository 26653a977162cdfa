package meter

import "github.com/ineyio/pitchiq"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ pitchiq.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnAdmission(pitchiq.AdmissionEvent) {}
func (m *NoopMeter) OnResult(pitchiq.ResultEvent)       {}
