package service

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"wisefido-attendance/common/config"
	"wisefido-attendance/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

type fakeSender struct {
	sent []*gomail.Message
	err  error
}

func (s *fakeSender) DialAndSend(m ...*gomail.Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, m...)
	return nil
}

func newMailer(t *testing.T, sender MailSender) (*fixture, *ReportMailer) {
	t.Helper()
	f, reports := newReportFixture(t, nil)
	cfg := config.SMTPConfig{From: "noreply@example.com", Subject: "Daily attendance"}
	return f, NewReportMailer(sender, cfg, reports, time.UTC, zap.NewNop())
}

func TestSendDaily_DisabledConfig(t *testing.T) {
	sender := &fakeSender{}
	_, mailer := newMailer(t, sender)
	ctx := context.Background()

	for name, h := range map[string]domain.Hospital{
		"no config":     {ID: "h1"},
		"disabled":      {ID: "h1", EmailReportConfig: &domain.EmailReportConfig{Recipients: []string{"hr@example.com"}}},
		"no recipients": {ID: "h1", EmailReportConfig: &domain.EmailReportConfig{Enabled: true}},
	} {
		sent, err := mailer.SendDaily(ctx, h, at(12, 0, 0))
		require.NoError(t, err, name)
		assert.False(t, sent, name)
	}
	assert.Empty(t, sender.sent)
}

func TestSendDaily_SendsReport(t *testing.T) {
	sender := &fakeSender{}
	f, mailer := newMailer(t, sender)
	ctx := context.Background()

	late := sampleRecord("r1", "u1", "h1", at(9, 0, 0))
	require.NoError(t, f.sync.SaveRecord(ctx, late))
	require.NoError(t, f.sync.SaveRecord(ctx, sampleRecord("r2", "u2", "h1", at(8, 0, 0).AddDate(0, 0, 1))))

	h := domain.Hospital{ID: "h1", Name: "General", EmailReportConfig: &domain.EmailReportConfig{
		Enabled: true, Recipients: []string{"hr@example.com"}, Cc: []string{"boss@example.com"},
	}}
	sent, err := mailer.SendDaily(ctx, h, at(12, 0, 0))
	require.NoError(t, err)
	assert.True(t, sent)
	require.Len(t, sender.sent, 1)

	msg := sender.sent[0]
	assert.Equal(t, []string{"hr@example.com"}, msg.GetHeader("To"))
	assert.Equal(t, []string{"boss@example.com"}, msg.GetHeader("Cc"))
	assert.Equal(t, []string{"Daily attendance - General - 2024-03-01"}, msg.GetHeader("Subject"))

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `filename="attendance-2024-03-01.xlsx"`)
}

func TestSendDaily_SenderError(t *testing.T) {
	sender := &fakeSender{err: errors.New("smtp down")}
	_, mailer := newMailer(t, sender)

	h := domain.Hospital{ID: "h1", Name: "General", EmailReportConfig: &domain.EmailReportConfig{
		Enabled: true, Recipients: []string{"hr@example.com"},
	}}
	sent, err := mailer.SendDaily(context.Background(), h, at(12, 0, 0))
	assert.Error(t, err)
	assert.False(t, sent)
}
