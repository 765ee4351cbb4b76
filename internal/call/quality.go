package call

// qualityTracker records per-participant connection quality so an
// unexplained disconnect can be told apart from an intentional leave. A
// degraded report sets a possible-loss flag for that participant; recovery
// clears it.
type qualityTracker struct {
	possibleLoss map[string]struct{}
}

func newQualityTracker() *qualityTracker {
	return &qualityTracker{possibleLoss: make(map[string]struct{})}
}

func (t *qualityTracker) observe(participantID string, level QualityLevel) {
	if level.Degraded() {
		t.possibleLoss[participantID] = struct{}{}
		return
	}
	if level == QualityGood {
		delete(t.possibleLoss, participantID)
	}
}

func (t *qualityTracker) flagged(participantID string) bool {
	_, ok := t.possibleLoss[participantID]
	return ok
}
