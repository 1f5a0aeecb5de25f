package recorder

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromMapIsSorted(t *testing.T) {
	m := FromMap(map[string]float64{"loss": 0.2, "acc": 0.9, "f1": 0.7})

	assert.Equal(t, []string{"acc", "f1", "loss"}, m.Keys())
	assert.Equal(t, P("acc", 0.9), m[0])
}

func TestErrorMessages(t *testing.T) {
	pe := &PreconditionError{Op: "log_params", Reason: "run has not been started"}
	assert.Equal(t, "log_params: run has not been started", pe.Error())

	be := &BackendError{Op: "log_params", Key: "lr", Err: errors.New("503")}
	assert.Equal(t, `log_params "lr": tracking backend: 503`, be.Error())

	se := &SaveError{Name: "b", Uploaded: []string{"a"}, Err: be}
	assert.Contains(t, se.Error(), "already uploaded: a")
	assert.ErrorIs(t, se, ErrBackendUnavailable)
	assert.NotErrorIs(t, se, ErrPrecondition)
}
