package stage

import (
	"fmt"

	"github.com/Emin017/RTL2GDS/internal/step"
)

// ToolExecutionError is returned when a tool exits non-zero.
type ToolExecutionError struct {
	Stage    step.ID
	ExitCode int
	Log      string // path of the captured tool output
}

func (e *ToolExecutionError) Error() string {
	msg := fmt.Sprintf("stage %s: tool exited with status %d", e.Stage, e.ExitCode)
	if e.Log != "" {
		msg += " (see " + e.Log + ")"
	}
	return msg
}

// MissingArtifactError is returned when a tool exits zero but a declared
// output is absent.
type MissingArtifactError struct {
	Stage    step.ID
	Artifact string
	Path     string
}

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("stage %s: artifact %s not found at %s", e.Stage, e.Artifact, e.Path)
}

// PrerequisiteError is returned when an auxiliary tool runs before the flow
// has reached the stage it reads from.
type PrerequisiteError struct {
	Tool     step.ID
	Finished step.ID
	Need     step.ID
}

func (e *PrerequisiteError) Error() string {
	return fmt.Sprintf("%s needs %s finished, design is at %s", e.Tool, e.Need, e.Finished)
}
