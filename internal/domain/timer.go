package domain

// TimerMeta identifies which client owns the countdown of the current phase instance
type TimerMeta struct {
	HostID          string `json:"hostId"`
	TimerStartTime  int64  `json:"timerStartTime"`
	ExpectedEndTime int64  `json:"expectedEndTime"`
	PhaseID         string `json:"phaseId"`
	LastHeartbeat   int64  `json:"lastHeartbeat"`
}

// Fields returns the meta as a store value
func (m TimerMeta) Fields() map[string]any {
	return map[string]any{
		"hostId":          m.HostID,
		"timerStartTime":  m.TimerStartTime,
		"expectedEndTime": m.ExpectedEndTime,
		"phaseId":         m.PhaseID,
		"lastHeartbeat":   m.LastHeartbeat,
	}
}
