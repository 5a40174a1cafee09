package protocol

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"syscall"

	apperrors "vidswarm/pkg/errors"
)

// ClassifyNetError converts a transport error from op into the application taxonomy.
// Errors that already carry an application code pass through unchanged.
func ClassifyNetError(op string, err error) error {
	if err == nil {
		return nil
	}
	if apperrors.IsAppError(err) {
		return err
	}

	var netErr net.Error
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return apperrors.NewTimeoutError(op+": timed out", err)
	case IsMalformed(err):
		return apperrors.WrapError(err, apperrors.ErrCodeProtocol, op+": malformed frame", http.StatusBadGateway)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed), errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return apperrors.NewTransferError(op+": connection lost", err)
	default:
		return apperrors.NewTransferError(op, err)
	}
}

// ResponseError turns an error response into an application error. Other messages yield nil.
func ResponseError(m Message) error {
	switch r := m.(type) {
	case *NotFound:
		return apperrors.FromCode(apperrors.ErrCodeNotFound, r.Message)
	case *ProtocolError:
		return apperrors.NewProtocolError(r.Message)
	case *ErrorResponse:
		return apperrors.FromCode(apperrors.ErrorCode(r.Code), r.Message)
	default:
		return nil
	}
}

// ErrorFor builds the response frame that reports err to a remote client.
func ErrorFor(err error) Message {
	appErr := apperrors.GetAppError(err)
	if appErr == nil {
		return &ErrorResponse{Code: string(apperrors.ErrCodeInternal), Message: err.Error()}
	}
	switch appErr.Code {
	case apperrors.ErrCodeNotFound:
		return &NotFound{Message: appErr.Message}
	case apperrors.ErrCodeProtocol:
		return &ProtocolError{Message: appErr.Message}
	default:
		return &ErrorResponse{Code: string(appErr.Code), Message: appErr.Message}
	}
}

func unexpected(op string, m Message) error {
	if err := ResponseError(m); err != nil {
		return err
	}
	return apperrors.NewProtocolError(fmt.Sprintf("%s: unexpected response %s", op, m.Kind()))
}
