package pipeline

// StageOutcome records the result of a best-effort preparation stage.
// A degraded outcome means the stage failed but the pipeline continues
// with the previous artifact.
type StageOutcome struct {
	Artifact string
	Degraded bool
	Reason   string
}

// Completed builds a successful outcome producing artifact.
func Completed(artifact string) StageOutcome {
	return StageOutcome{Artifact: artifact}
}

// Degraded builds a failed-but-tolerated outcome that keeps the prior
// artifact.
func Degraded(artifact, reason string) StageOutcome {
	return StageOutcome{Artifact: artifact, Degraded: true, Reason: reason}
}
