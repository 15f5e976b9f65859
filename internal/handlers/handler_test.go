package handlers

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/eldtechnologies/sequencer/internal/flows"
)

func TestStatusFor(t *testing.T) {
	tests := map[flows.Kind]int{
		flows.KindInput:          http.StatusBadRequest,
		flows.KindRange:          http.StatusBadRequest,
		flows.KindNotFound:       http.StatusNotFound,
		flows.KindConflict:       http.StatusConflict,
		flows.KindDependency:     http.StatusBadGateway,
		flows.KindSerialization:  http.StatusInternalServerError,
		flows.KindPartialFailure: http.StatusAccepted,
		"":                       http.StatusInternalServerError,
	}
	for kind, want := range tests {
		assert.Equal(t, want, statusFor(kind), string(kind))
	}
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(flows.KindOf(errors.New("x"))))
}
