package mail

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewSenderFallsBackToLog(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sender := NewSender("", "EnrollEase", "admissions@test", zap.New(core))
	_, ok := sender.(*LogSender)
	require.True(t, ok)

	require.NoError(t, sender.Send(context.Background(), Message{To: "a@b.co", Subject: "Reset", Text: "token"}))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Reset", logs.All()[0].ContextMap()["subject"])
}

func TestSendGridPrepare(t *testing.T) {
	sender := NewSender("key", "EnrollEase", "admissions@test", nil).(*SendGridSender)
	m := sender.prepare(Message{To: "a@b.co", ToName: "A", Subject: "Credentials", Text: "hi", HTML: "<p>hi</p>", Category: "credentials"})
	require.Len(t, m.Personalizations, 1)
	assert.Equal(t, "[EnrollEase] Credentials", m.Personalizations[0].Subject)
	assert.Equal(t, "a@b.co", m.Personalizations[0].To[0].Address)
	assert.Len(t, m.Content, 2)
	assert.Equal(t, []string{"credentials"}, m.Categories)
}
