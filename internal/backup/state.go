package backup

// State is the lifecycle state of a job.
type State int

const (
	Inactive State = iota
	Active
	Paused
	Completed
	Error
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case Inactive:
		return "Inactive"
	case Active:
		return "Active"
	case Paused:
		return "Paused"
	case Completed:
		return "Completed"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}
