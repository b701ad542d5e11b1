package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/iliyamo/cycle-reservation/internal/service"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&service.Error{Kind: service.KindInvalidInput, Message: "hours must be positive"}, http.StatusBadRequest},
		{&service.Error{Kind: service.KindNotFound}, http.StatusNotFound},
		{&service.Error{Kind: service.KindConflict}, http.StatusConflict},
		{&service.Error{Kind: service.KindInvalidState}, http.StatusConflict},
		{&service.Error{Kind: service.KindNotDue}, http.StatusConflict},
		{&service.Error{Kind: service.KindTransient, Err: errors.New("deadlock")}, http.StatusServiceUnavailable},
		{fmt.Errorf("wrapped: %w", &service.Error{Kind: service.KindNotFound}), http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestValidationMessageNamesFields(t *testing.T) {
	type req struct {
		BicycleID uint64  `json:"bicycle_id" validate:"required"`
		Hours     float64 `json:"hours" validate:"required"`
	}
	err := NewValidator().Validate(&req{})
	msg := validationMessage(err)
	if !strings.Contains(msg, "bicycle_id failed required") || !strings.Contains(msg, "hours failed required") {
		t.Fatalf("message = %q", msg)
	}

	type untagged struct {
		Name string `validate:"required"`
	}
	if msg := validationMessage(NewValidator().Validate(&untagged{})); msg != "Name failed required" {
		t.Fatalf("untagged message = %q", msg)
	}
	if got := validationMessage(errors.New("other")); got != "invalid body" {
		t.Fatalf("foreign error message = %q", got)
	}
}
