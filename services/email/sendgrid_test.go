package emailsvc

import (
	"net/mail"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/feeledger/core"
)

func TestSendgridService_prepare(t *testing.T) {
	conf := &core.Config{
		AppName:          "FeeLedger",
		SendgridApiKey:   "key",
		DefaultFromEmail: mail.Address{Name: "FeeLedger", Address: "noreply@feeledger.test"},
	}
	svc := NewSendgridService(conf, nil).(*sendgridService)

	msg := core.EmailMessage{
		To:          []mail.Address{{Name: "Amani", Address: "amani@test.cd"}},
		Cc:          []mail.Address{{Address: "office@test.cd"}},
		Subject:     "Fee payment receipt FL1",
		TextContent: "paid",
		HTMLContent: "<p>paid</p>",
	}
	require.NoError(t, msg.Attach(strings.NewReader(`{"receipt_no":"FL1"}`), "receipt-FL1.json", "application/json"))

	m := svc.prepare(msg)
	require.Len(t, m.Personalizations, 1)
	p := m.Personalizations[0]
	assert.Equal(t, "[FeeLedger] Fee payment receipt FL1", p.Subject)
	require.Len(t, p.To, 1)
	assert.Equal(t, "amani@test.cd", p.To[0].Address)
	require.Len(t, p.CC, 1)
	assert.Equal(t, "noreply@feeledger.test", m.From.Address)
	assert.Len(t, m.Content, 2)

	require.Len(t, m.Attachments, 1)
	at := m.Attachments[0]
	assert.Equal(t, "receipt-FL1.json", at.Filename)
	assert.Equal(t, "application/json", at.Type)
	assert.Equal(t, "attachment", at.Disposition)
	assert.Equal(t, msg.Attachments[0].Content.String(), at.Content)
}
