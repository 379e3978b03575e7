package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus_Mapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Validation("bad input"), http.StatusBadRequest},
		{Authentication("bad signature"), http.StatusUnauthorized},
		{NotFound("no such topic"), http.StatusNotFound},
		{Transient("hub unreachable", nil), http.StatusBadGateway},
		{Processing("parse failed", nil), http.StatusInternalServerError},
		{Fatal("misconfigured", nil), http.StatusInternalServerError},
		{errors.New("plain error"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestHTTPStatus_WrappedError(t *testing.T) {
	wrapped := fmt.Errorf("handler: %w", NotFound("gone"))
	if got := HTTPStatus(wrapped); got != http.StatusNotFound {
		t.Errorf("Wrapped classified error should keep its status, got %d", got)
	}
}

func TestIsKind(t *testing.T) {
	err := Authentication("rejected")

	if !IsKind(err, KindAuthentication) {
		t.Errorf("Expected KindAuthentication to match")
	}
	if IsKind(err, KindNotFound) {
		t.Errorf("Kind mismatch should not match")
	}
	if IsKind(errors.New("plain"), KindAuthentication) {
		t.Errorf("Unclassified error should not match any kind")
	}

	wrapped := fmt.Errorf("outer: %w", err)
	if !IsKind(wrapped, KindAuthentication) {
		t.Errorf("Expected wrapped error to match its kind")
	}
}

func TestError_MessageAndUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Transient("hub unreachable", cause)

	if err.Error() != "hub unreachable: connection refused" {
		t.Errorf("Unexpected message: %s", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Errorf("Expected cause to be reachable via errors.Is")
	}
}
