package sandbox

import "fmt"

// ArtifactTypeImage marks a PNG rendered from a matplotlib figure.
const ArtifactTypeImage = "image"

// Artifact is a typed byte payload produced by an execution. Data is
// base64-encoded when marshalled to JSON.
type Artifact struct {
	Type string `json:"type"`
	Data []byte `json:"data"`
}

// ExecutionResult is the normalized outcome of one execution request.
// Every field is always populated; Artifacts is never nil.
type ExecutionResult struct {
	Success   bool       `json:"success"`
	Stdout    string     `json:"stdout"`
	Stderr    string     `json:"stderr"`
	Artifacts []Artifact `json:"artifacts"`
}

// RunOutput is what an Environment reports for a completed run.
type RunOutput struct {
	ExitCode int      `json:"exit_code"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
	Images   [][]byte `json:"images"`
}

// Result translates the raw run output into an ExecutionResult.
func (o RunOutput) Result() ExecutionResult {
	artifacts := make([]Artifact, 0, len(o.Images))
	for _, img := range o.Images {
		artifacts = append(artifacts, Artifact{Type: ArtifactTypeImage, Data: img})
	}
	return ExecutionResult{
		Success:   o.ExitCode == 0,
		Stdout:    o.Stdout,
		Stderr:    o.Stderr,
		Artifacts: artifacts,
	}
}

// Err reports a non-zero exit as ErrExecutionRuntime. The code's own error
// output stays in Stderr; the error only classifies the run.
func (o RunOutput) Err() error {
	if o.ExitCode == 0 {
		return nil
	}
	return fmt.Errorf("%w: exit code %d", ErrExecutionRuntime, o.ExitCode)
}

// Failure builds a failed result carrying msg as its error output.
func Failure(stdout, msg string) ExecutionResult {
	return ExecutionResult{
		Success:   false,
		Stdout:    stdout,
		Stderr:    msg,
		Artifacts: []Artifact{},
	}
}
