package services

import "fmt"

type ErrorKind string

const (
	KindRunFailed   ErrorKind = "run_failed"
	KindRunStalled  ErrorKind = "run_stalled"
	KindRateLimited ErrorKind = "rate_limited"
	KindInternal    ErrorKind = "internal"
)

const (
	msgRunStopped = "Грешка: Обработката спря със статус '%s'."
	msgRunFailed  = "Грешка: Обработката се провали: %s"
	msgRunStalled = "Грешка: Асистентът не отговори навреме (последен статус '%s')."
	msgBusy       = "Системата все още обработва предишната заявка. Моля, изчакайте и опитайте отново."
	msgInternal   = "Възникна критична грешка на сървъра."
)

// TurnError is a turn that ended without an assistant reply. Message is safe to
// show to the end user; Err carries the underlying cause for logs.
type TurnError struct {
	Kind      ErrorKind
	Message   string
	Retryable bool
	SessionID string
	Err       error
}

func (e *TurnError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *TurnError) Unwrap() error { return e.Err }

func runFailed(reason string) *TurnError {
	return &TurnError{Kind: KindRunFailed, Message: fmt.Sprintf(msgRunFailed, reason)}
}

func runStopped(status string) *TurnError {
	return &TurnError{Kind: KindRunStalled, Message: fmt.Sprintf(msgRunStopped, status)}
}

func runStalled(status string) *TurnError {
	return &TurnError{Kind: KindRunStalled, Message: fmt.Sprintf(msgRunStalled, status)}
}

func rateLimited(err error) *TurnError {
	return &TurnError{Kind: KindRateLimited, Message: msgBusy, Retryable: true, Err: err}
}

func internal(err error) *TurnError {
	return &TurnError{Kind: KindInternal, Message: msgInternal, Err: err}
}
