package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_ErrorString(t *testing.T) {
	err := NewProtocolError("packet too short")
	if err.Error() != "PROTOCOL_ERROR: packet too short" {
		t.Errorf("unexpected error string: %s", err.Error())
	}

	cause := errors.New("read failed")
	wrapped := NewTransportError("channel write", cause)
	if wrapped.Unwrap() != cause {
		t.Error("Unwrap should return the cause")
	}
}

func TestHasCode(t *testing.T) {
	err := NewReconnectionExhaustedError(3, errors.New("auth rejected"))
	if !HasCode(err, ErrCodeReconnectionExhausted) {
		t.Error("expected RECONNECTION_EXHAUSTED code")
	}
	if HasCode(err, ErrCodeTransport) {
		t.Error("did not expect TRANSPORT_ERROR code")
	}

	wrapped := fmt.Errorf("outer: %w", err)
	if !HasCode(wrapped, ErrCodeReconnectionExhausted) {
		t.Error("HasCode should unwrap fmt-wrapped errors")
	}
}

func TestGetAppError_NestedChain(t *testing.T) {
	inner := NewAuthenticationError("bad token")
	outer := fmt.Errorf("join room: %w", inner)

	got := GetAppError(outer)
	if got == nil || got.Code != ErrCodeAuthentication {
		t.Fatalf("expected authentication error, got %v", got)
	}
}

func TestWithContext(t *testing.T) {
	err := NewConfigNotReadyError("camera-high").WithContext("packet_type", 3)
	if err.Context["packet_type"] != 3 {
		t.Error("context value not stored")
	}
}

func TestIsAppError(t *testing.T) {
	if IsAppError(errors.New("plain")) {
		t.Error("plain error should not be an AppError")
	}
	if !IsAppError(NewInternalError("boom")) {
		t.Error("expected AppError")
	}
}
