package berrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorsAsUnwrapsThroughFmtErrorf(t *testing.T) {
	original := &UnknownApi{APIName: "calc"}
	wrapped := fmt.Errorf("rpc: call failed: %w", original)

	var target *UnknownApi
	assert.ErrorAs(t, wrapped, &target)
	assert.Equal(t, "calc", target.APIName)
}

func TestDistinctErrorTypesDoNotMatch(t *testing.T) {
	err := error(&BusAlreadyClosed{})

	var timeout *LightbusTimeout
	assert.False(t, errors.As(err, &timeout))
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, `unknown api "calc"`, (&UnknownApi{APIName: "calc"}).Error())
	assert.Equal(t, `event "Added" not found on api "calc"`, (&EventNotFound{APIName: "calc", EventName: "Added"}).Error())
	assert.Equal(t, "bus client is already closed", (&BusAlreadyClosed{}).Error())
}
