package types

import "fmt"

// InputError reports a bad upload or prompt
type InputError struct {
	Reason string
}

func (e *InputError) Error() string {
	return "invalid input: " + e.Reason
}

// ModelRequestError wraps transport, auth, timeout and empty-reply failures
// from the remote model. It is never retried.
type ModelRequestError struct {
	Backend string
	Err     error
}

func (e *ModelRequestError) Error() string {
	return fmt.Sprintf("model request to %s failed: %v", e.Backend, e.Err)
}

func (e *ModelRequestError) Unwrap() error { return e.Err }

// PayloadNotFoundError means the reply carried no fenced JSON block
type PayloadNotFoundError struct {
	Reply string
}

func (e *PayloadNotFoundError) Error() string {
	return fmt.Sprintf("no JSON block found in model reply (%d chars); the model ignored the response format", len(e.Reply))
}

// MalformedResponseError means the payload decoded but lacks the required structure
type MalformedResponseError struct {
	Reason string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed model response: %s: %v", e.Reason, e.Err)
	}
	return "malformed model response: " + e.Reason
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// RenderResourceError means a drawing resource such as the font is unavailable
type RenderResourceError struct {
	Resource string
	Err      error
}

func (e *RenderResourceError) Error() string {
	return fmt.Sprintf("render resource %q unavailable: %v", e.Resource, e.Err)
}

func (e *RenderResourceError) Unwrap() error { return e.Err }
