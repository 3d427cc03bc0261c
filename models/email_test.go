package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMarkOpenedTransitions(t *testing.T) {
	now := time.Now()

	email := &Email{Status: EmailStatusSent}
	assert.True(t, email.MarkOpened(now))
	assert.Equal(t, EmailStatusOpened, email.Status)
	assert.Equal(t, now, *email.OpenedAt)

	// A second open keeps the first timestamp
	later := now.Add(time.Hour)
	email.Status = EmailStatusSent
	assert.True(t, email.MarkOpened(later))
	assert.Equal(t, now, *email.OpenedAt)

	// Opens never regress a clicked or replied email
	clicked := &Email{Status: EmailStatusClicked}
	assert.False(t, clicked.MarkOpened(now))
	assert.Equal(t, EmailStatusClicked, clicked.Status)

	queued := &Email{Status: EmailStatusQueued}
	assert.False(t, queued.MarkOpened(now))
}

func TestMarkClickedBackfillsOpen(t *testing.T) {
	now := time.Now()

	email := &Email{Status: EmailStatusSent}
	assert.True(t, email.MarkClicked(now))
	assert.Equal(t, EmailStatusClicked, email.Status)
	assert.Equal(t, now, *email.OpenedAt)
	assert.Equal(t, now, *email.ClickedAt)

	replied := &Email{Status: EmailStatusReplied}
	assert.False(t, replied.MarkClicked(now))
	assert.Equal(t, EmailStatusReplied, replied.Status)
}

func TestMarkRepliedIsTerminal(t *testing.T) {
	now := time.Now()

	for _, status := range []string{EmailStatusSent, EmailStatusDelivered, EmailStatusOpened, EmailStatusClicked} {
		email := &Email{Status: status}
		assert.True(t, email.MarkReplied(now), status)
		assert.Equal(t, EmailStatusReplied, email.Status)
	}

	email := &Email{Status: EmailStatusReplied, RepliedAt: &now}
	assert.False(t, email.MarkReplied(now.Add(time.Hour)))
	assert.Equal(t, now, *email.RepliedAt)

	failed := &Email{Status: EmailStatusFailed}
	assert.False(t, failed.MarkReplied(now))
}

func TestCanRetry(t *testing.T) {
	assert.True(t, (&Email{Status: EmailStatusFailed, RetryCount: 2, MaxRetries: 3}).CanRetry())
	assert.False(t, (&Email{Status: EmailStatusFailed, RetryCount: 3, MaxRetries: 3}).CanRetry())
	assert.False(t, (&Email{Status: EmailStatusSent, RetryCount: 0, MaxRetries: 3}).CanRetry())
}
