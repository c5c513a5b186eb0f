package backup

import "fmt"

// StatusDTO is the projection of a job sent over the remote protocol.
// Index is the registry position at projection time and is not stable
// across removals.
type StatusDTO struct {
	Index    int
	Name     string
	State    string
	Progress int
}

// JobResult reports the outcome for one requested index.
type JobResult struct {
	Index   int
	Name    string
	Success bool
	Message string
}

// Result aggregates the outcome of a multi-job request.
type Result struct {
	Success bool
	Message string
	Jobs    []JobResult `json:",omitempty"`
}

func aggregate(verb string, jobs []JobResult) Result {
	succeeded := 0
	for _, job := range jobs {
		if job.Success {
			succeeded++
		}
	}

	result := Result{
		Success: len(jobs) > 0 && succeeded == len(jobs),
		Jobs:    jobs,
	}

	switch {
	case len(jobs) == 0:
		result.Message = "no jobs selected"
	case len(jobs) == 1:
		result.Message = jobs[0].Message
	default:
		result.Message = fmt.Sprintf("%d of %d jobs %s", succeeded, len(jobs), verb)
	}

	return result
}
