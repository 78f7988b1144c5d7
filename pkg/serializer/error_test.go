package serializer

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError(t *testing.T) {
	asserts := assert.New(t)

	// The message is the error text, the raw error stays reachable
	{
		raw := errors.New("underlying")
		e := NewError(CodeConflict, "target type mismatch", raw)
		asserts.Equal("target type mismatch", e.Error())
		asserts.True(errors.Is(e, raw))
	}

	// WithError attaches a cause to a copy after construction
	{
		raw := errors.New("read failed")
		e := NewForbidden("upload rejected", nil)
		attached := e.WithError(raw)
		asserts.True(errors.Is(attached, raw))
	}

	// Constructors carry their wire status
	{
		asserts.Equal(http.StatusBadRequest, NewBadRequest("", nil).Code)
		asserts.Equal(http.StatusForbidden, NewForbidden("", nil).Code)
		asserts.Equal(http.StatusConflict, NewConflict("", nil).Code)
		asserts.Equal(http.StatusRequestedRangeNotSatisfiable, NewRangeNotSatisfiable("", nil).Code)
		asserts.Equal(http.StatusUnsupportedMediaType, NewUnsupportedMediaType("", nil).Code)
	}
}

func TestStatusCodeFromError(t *testing.T) {
	asserts := assert.New(t)

	// Direct and wrapped taxonomy errors map to their code
	{
		e := NewRangeNotSatisfiable("no satisfiable range", nil)
		asserts.Equal(http.StatusRequestedRangeNotSatisfiable, StatusCodeFromError(e))
		asserts.Equal(http.StatusRequestedRangeNotSatisfiable,
			StatusCodeFromError(fmt.Errorf("serving entity: %w", e)))
	}

	// Anything outside the taxonomy is a server error
	{
		asserts.Equal(http.StatusInternalServerError, StatusCodeFromError(errors.New("boom")))
	}
}
