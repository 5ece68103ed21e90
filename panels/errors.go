package panels

import (
	"context"
	"errors"
	"fmt"
	"net"

	"git.sr.ht/~aondrejcak/panel-credits/captcha"
)

type Kind string

const (
	KindAuthenticationFailed Kind = "authentication_failed"
	KindCaptchaFailed        Kind = "captcha_failed"
	KindCaptchaTimeout       Kind = "captcha_timeout"
	KindTargetNotFound       Kind = "target_not_found"
	KindRemoteRejected       Kind = "remote_rejected"
	KindTransport            Kind = "transport_error"
	KindTimeout              Kind = "timeout"
)

// Error is the failure every adapter surfaces, whatever its backend.
type Error struct {
	Kind    Kind
	Message string
	Raw     string
	Err     error
}

var (
	ErrAuthenticationFailed = &Error{Kind: KindAuthenticationFailed}
	ErrCaptchaFailed        = &Error{Kind: KindCaptchaFailed}
	ErrCaptchaTimeout       = &Error{Kind: KindCaptchaTimeout}
	ErrTargetNotFound       = &Error{Kind: KindTargetNotFound}
	ErrRemoteRejected       = &Error{Kind: KindRemoteRejected}
	ErrTransport            = &Error{Kind: KindTransport}
	ErrTimeout              = &Error{Kind: KindTimeout}
)

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrTimeout) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func fail(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// classify wraps a low-level failure into Timeout or TransportError.
func classify(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}

	kind := KindTransport
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func captchaError(err error) error {
	if errors.Is(err, captcha.ErrTimeout) {
		return &Error{Kind: KindCaptchaTimeout, Message: "captcha not solved", Err: err}
	}
	return &Error{Kind: KindCaptchaFailed, Message: "captcha solving failed", Err: err}
}
