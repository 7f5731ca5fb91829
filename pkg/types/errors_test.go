package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorCode
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: "",
		},
		{
			name:     "structured error",
			err:      NewError(CodeNotFound, "agent missing"),
			expected: CodeNotFound,
		},
		{
			name:     "wrapped structured error",
			err:      fmt.Errorf("outer: %w", NewError(CodeInvalidState, "bad state")),
			expected: CodeInvalidState,
		},
		{
			name:     "constraint violation",
			err:      &ConstraintViolation{Resource: ResourceMemory, Current: 150, Limit: 100},
			expected: CodeResourceConstraint,
		},
		{
			name:     "plain error",
			err:      errors.New("boom"),
			expected: CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CodeOf(tt.err))
		})
	}
}

func TestFromNode(t *testing.T) {
	err := NewError(CodeNotFound, "agent missing")
	wrapped := FromNode("worker-1", err)

	var e *Error
	assert.ErrorAs(t, wrapped, &e)
	assert.Equal(t, CodeNotFound, e.Code)
	assert.Equal(t, "worker-1", e.NodeID)
	assert.Contains(t, wrapped.Error(), "worker-1")

	assert.Nil(t, FromNode("worker-1", nil))

	plain := FromNode("worker-2", errors.New("boom"))
	assert.Equal(t, CodeInternal, CodeOf(plain))
}

func TestWorstHealth(t *testing.T) {
	// HEALTHY < UNKNOWN < DEGRADED < UNHEALTHY < CRITICAL
	assert.Equal(t, HealthUnknown, WorstHealth(HealthHealthy, HealthUnknown))
	assert.Equal(t, HealthDegraded, WorstHealth(HealthUnknown, HealthDegraded))
	assert.Equal(t, HealthUnhealthy, WorstHealth(HealthDegraded, HealthUnhealthy))
	assert.Equal(t, HealthCritical, WorstHealth(HealthUnhealthy, HealthCritical))
	assert.Equal(t, HealthCritical, WorstHealth(HealthCritical, HealthHealthy))
}

func TestConstraintViolationMessage(t *testing.T) {
	v := &ConstraintViolation{Resource: ResourceMemory, Current: 150, Limit: 100, AgentID: "a1"}
	assert.Contains(t, v.Error(), "MEMORY")
	assert.Contains(t, v.Error(), "a1")
}
