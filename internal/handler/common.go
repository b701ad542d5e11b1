// Package handler contains the HTTP handlers.  Handlers bind and validate
// requests, check ownership and translate service errors into status
// codes; the lifecycle rules live in the service package.
package handler

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cycle-reservation/internal/middleware"
	"github.com/iliyamo/cycle-reservation/internal/service"
)

// CustomValidator adapts go-playground/validator to echo.Validator.
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator returns a validator that reports fields by their json name.
func NewValidator() *CustomValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &CustomValidator{validator: v}
}

// Validate implements echo.Validator.
func (cv *CustomValidator) Validate(i any) error {
	return cv.validator.Struct(i)
}

// bind decodes and validates the request body into req.  On failure it
// returns the message for a 400 response.
func bind(c echo.Context, req any) (string, bool) {
	if err := c.Bind(req); err != nil {
		return "invalid body", false
	}
	if err := c.Validate(req); err != nil {
		return validationMessage(err), false
	}
	return "", true
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid body"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

func parseID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id != 0
}

// statusFor maps service error kinds to HTTP status codes.
func statusFor(err error) int {
	switch service.KindOf(err) {
	case service.KindInvalidInput:
		return http.StatusBadRequest
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindConflict, service.KindInvalidState, service.KindNotDue:
		return http.StatusConflict
	case service.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err.  Transient and unknown failures are logged and
// hidden from the client.
func writeError(c echo.Context, err error) error {
	code := statusFor(err)
	msg := err.Error()
	switch code {
	case http.StatusServiceUnavailable:
		c.Logger().Warnf("%s %s: %v", c.Request().Method, c.Path(), err)
		msg = "temporarily unavailable, retry later"
	case http.StatusInternalServerError:
		c.Logger().Errorf("%s %s: %v", c.Request().Method, c.Path(), err)
		msg = "internal error"
	}
	return c.JSON(code, echo.Map{"error": msg})
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
}

func forbidden(c echo.Context) error {
	return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
}

// caller returns the authenticated user and whether they are an admin.
func caller(c echo.Context) (uint64, bool, bool) {
	id, ok := middleware.UserID(c)
	return id, middleware.IsAdmin(c), ok
}
