package ipc

import "errors"

// Request is one command sent to the owner session. Arg carries the optional
// command argument, such as the check name for retry.
type Request struct {
	Command string `json:"command"`
	Arg     string `json:"arg,omitempty"`
}

// Response reports the session phase and the outcome of the command.
type Response struct {
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Err returns the session-side rejection as an error, or nil when OK.
func (r Response) Err() error {
	if r.OK {
		return nil
	}
	if r.Error == "" {
		return errors.New("command rejected")
	}
	return errors.New(r.Error)
}
