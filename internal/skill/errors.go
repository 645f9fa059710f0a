package skill

import "fmt"

// Code classifies an invocation failure. Validation and policy codes are
// produced before any backend starts; backend codes describe normalized
// tool-level failures; CodeInternal marks an engine defect, distinct from
// a failing tool.
type Code string

const (
	CodeUnknownSkill          Code = "UnknownSkill"
	CodeUnknownTool           Code = "UnknownTool"
	CodeValidation            Code = "ValidationError"
	CodeCapabilityDenied      Code = "CapabilityDenied"
	CodeCommandNotAllowed     Code = "CommandNotAllowed"
	CodePathTraversal         Code = "PathTraversalDetected"
	CodeCredentialMissing     Code = "CredentialMissing"
	CodeTimeout               Code = "Timeout"
	CodeSandboxTrap           Code = "SandboxTrap"
	CodeContainerLaunchFailed Code = "ContainerLaunchFailed"
	CodeToolFailed            Code = "ToolFailed"
	CodeInternal              Code = "InternalError"
)

// Error is a classified invocation error. Messages reference credential
// key names, never resolved values.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Errorf builds a classified error.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the classification of err, or CodeInternal for
// unclassified errors.
func CodeOf(err error) Code {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return CodeInternal
}
