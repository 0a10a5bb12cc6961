package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mercocamp/agenda-bfa-go/internal/domain"
)

func TestNotifier_Expires(t *testing.T) {
	now := time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)
	n := NewNotifier()
	n.now = func() time.Time { return now }

	n.Add(domain.NotifyInfo, "primeira")
	now = now.Add(3 * time.Second)
	n.Add(domain.NotifyError, "segunda")

	assert.Len(t, n.List(), 2)

	now = now.Add(2500 * time.Millisecond)
	got := n.List()
	if assert.Len(t, got, 1) {
		assert.Equal(t, "segunda", got[0].Message)
	}

	now = now.Add(5 * time.Second)
	assert.Empty(t, n.List())
}
