package errors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrValidation, http.StatusBadRequest},
		{ErrEmptyInput, http.StatusBadRequest},
		{ErrUnauthorized, http.StatusUnauthorized},
		{ErrEmptyRecording, http.StatusBadRequest},
		{ErrAlreadyRecording, http.StatusConflict},
		{ErrVendorUnavailable, http.StatusBadGateway},
		{ErrVendorError, http.StatusBadGateway},
		{ErrConnectionDropped, http.StatusBadGateway},
		{ErrMalformedResponse, http.StatusBadGateway},
		{ErrVendorTimeout, http.StatusGatewayTimeout},
		{ErrServerConfiguration, http.StatusInternalServerError},
		{ErrInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := New(tt.code, "x").HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCodeOfWrapped(t *testing.T) {
	base := VendorTimeout("xunfei", fmt.Errorf("deadline"))
	wrapped := fmt.Errorf("attempt 2: %w", base)

	if got := CodeOf(wrapped); got != ErrVendorTimeout {
		t.Errorf("CodeOf() = %s, want %s", got, ErrVendorTimeout)
	}
	if !Is(wrapped, ErrVendorTimeout) {
		t.Error("Is() = false, want true")
	}
	if got := CodeOf(fmt.Errorf("plain")); got != ErrInternal {
		t.Errorf("CodeOf(plain) = %s, want %s", got, ErrInternal)
	}
	if got := CodeOf(nil); got != "" {
		t.Errorf("CodeOf(nil) = %q, want empty", got)
	}
}

func TestVendorUnavailableKeepsStatusOnly(t *testing.T) {
	err := VendorUnavailable("siliconflow", 503, "503 Service Unavailable")
	if err.Message != "siliconflow unavailable: 503 Service Unavailable" {
		t.Errorf("Message = %q", err.Message)
	}
	if err.Details["status"] != 503 {
		t.Errorf("Details[status] = %v, want 503", err.Details["status"])
	}
}
