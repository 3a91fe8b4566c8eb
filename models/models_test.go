package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.True(t, StatusPaid.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.True(t, StatusExpired.IsTerminal())
}

func TestCanTransitionTo(t *testing.T) {
	// Из pending разрешены все терминальные переходы
	assert.True(t, StatusPending.CanTransitionTo(StatusPaid))
	assert.True(t, StatusPending.CanTransitionTo(StatusCancelled))
	assert.True(t, StatusPending.CanTransitionTo(StatusExpired))

	// Терминальный статус менять нельзя
	assert.False(t, StatusPaid.CanTransitionTo(StatusCancelled))
	assert.False(t, StatusExpired.CanTransitionTo(StatusPaid))
	assert.False(t, StatusCancelled.CanTransitionTo(StatusExpired))

	// pending не является терминальной целью
	assert.False(t, StatusPending.CanTransitionTo(StatusPending))
	assert.False(t, StatusPaid.CanTransitionTo(StatusPending))
}

func TestHuman(t *testing.T) {
	assert.Equal(t, "Ожидает оплаты", StatusPending.Human())
	assert.Equal(t, "Оплачен", StatusPaid.Human())
	assert.Equal(t, "unknown", OrderStatus("unknown").Human())
}
