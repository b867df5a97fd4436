package experience

// Transition is one recorded (state, action, reward, next-state,
// terminal) step of a single agent instance.
type Transition struct {
	ClientID   int32
	StartState []float32
	Action     uint8
	Reward     float32
	EndState   []float32
	Terminal   bool
}

// Equal reports whether two transitions carry identical data.
func (t *Transition) Equal(o *Transition) bool {
	if t.ClientID != o.ClientID || t.Action != o.Action ||
		t.Reward != o.Reward || t.Terminal != o.Terminal {
		return false
	}
	if len(t.StartState) != len(o.StartState) || len(t.EndState) != len(o.EndState) {
		return false
	}
	for i := range t.StartState {
		if t.StartState[i] != o.StartState[i] {
			return false
		}
	}
	for i := range t.EndState {
		if t.EndState[i] != o.EndState[i] {
			return false
		}
	}
	return true
}
