package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dushixiang/kpimon/internal/config"
	"github.com/dushixiang/kpimon/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSender struct {
	mu    sync.Mutex
	mails []string
	err   error
}

func (s *recordingSender) Send(_ context.Context, from string, to []string, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mails = append(s.mails, subject+"|"+body)
	return s.err
}

func testEvent() Event {
	return Event{
		Status:    "opened",
		Asset:     &models.Asset{ID: "a1", Name: "Portal", URL: "https://portal.example"},
		Indicator: &models.Indicator{ID: "k1", Code: "uptime", Name: "Uptime"},
		Incident: &models.Incident{
			ID: "i1", Title: "Uptime - Breach", Description: "Uptime - Auto Created Incident",
			Severity: models.SeverityP1, AssignedTo: "ops",
		},
		At: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestEmailNotifierRender(t *testing.T) {
	sender := &recordingSender{}
	n, err := NewEmailNotifier(zap.NewNop(), config.NotifyConfig{
		From:    "kpimon@example.com",
		To:      []string{"ops@example.com"},
		Subject: "[{{severity}}] {{title}} ({{status}})",
		Body:    "{{asset}} {{url}} {{indicator}} {{assignedTo}} {{time}} {{unknown}}",
	}, sender)
	require.NoError(t, err)

	subject, body := n.Render(testEvent())
	assert.Equal(t, "[P1] Uptime - Breach (OPENED)", subject)
	assert.Equal(t, "Portal https://portal.example Uptime ops 2026-01-02T03:04:05Z ", body)

	require.NoError(t, n.Notify(context.Background(), testEvent()))
	assert.Len(t, sender.mails, 1)
}

func TestEmailNotifierWithoutRecipients(t *testing.T) {
	sender := &recordingSender{}
	n, err := NewEmailNotifier(zap.NewNop(), config.NotifyConfig{Subject: "{{title}}", Body: "{{asset}}"}, sender)
	require.NoError(t, err)
	require.NoError(t, n.Notify(context.Background(), testEvent()))
	assert.Empty(t, sender.mails)
}

func TestAsyncSwallowsErrors(t *testing.T) {
	sender := &recordingSender{err: errors.New("smtp down")}
	n, err := NewEmailNotifier(zap.NewNop(), config.NotifyConfig{To: []string{"ops@example.com"}, Subject: "{{title}}", Body: "-"}, sender)
	require.NoError(t, err)

	async := NewAsync(zap.NewNop(), n, time.Second)
	for i := 0; i < 3; i++ {
		assert.NoError(t, async.Notify(context.Background(), testEvent()))
	}
	async.Wait()
	assert.Len(t, sender.mails, 3)
}
