package remote

import "fmt"

// CallError is the opaque failure shape a command handler returns when a
// backend call fails. Status and Body carry whatever the backend surfaced
// (zero/empty when the call never produced a response); Err holds the
// underlying transport error, if any.
type CallError struct {
	Command string
	Status  int
	Body    string
	Err     error
}

func NewCallError(command string, status int, body string, err error) *CallError {
	return &CallError{
		Command: command,
		Status:  status,
		Body:    body,
		Err:     err,
	}
}

func (e *CallError) Error() string {
	switch {
	case e.Status > 0 && e.Body != "":
		return fmt.Sprintf("%s: http %d: %s", e.Command, e.Status, e.Body)
	case e.Status > 0:
		return fmt.Sprintf("%s: http %d", e.Command, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	default:
		return fmt.Sprintf("%s: call failed", e.Command)
	}
}

func (e *CallError) Unwrap() error {
	return e.Err
}
