package emailsvc_test

import (
	"net/mail"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/feeledger/core"
	"github.com/trezcool/feeledger/core/fee"
	"github.com/trezcool/feeledger/services/email"
	"github.com/trezcool/feeledger/tests"
)

func TestConsoleServiceMock_SendMessages(t *testing.T) {
	conf := testutil.NewConfig()
	logger := testutil.NewLogger(conf)
	core.ParseEmailTemplates(logger, true)

	svc := emailsvc.NewConsoleServiceMock(conf, logger)

	tests := []struct {
		name     string
		msg      *core.EmailMessage
		wantSent bool
		contains []string
	}{
		{
			name: "payment receipt",
			msg: &core.EmailMessage{
				To:           []mail.Address{{Name: "Amani", Address: "amani@test.cd"}},
				Subject:      "Fee payment receipt FL20240315093000-01HZX4QK",
				TemplateName: "fee_payment",
				TemplateData: fee.PaymentMail{
					StudentID:     "st-1",
					StudentName:   "Amani",
					ReceiptNumber: "FL20240315093000-01HZX4QK",
					Year:          2024,
					Month:         fee.March,
					PaidAmount:    600,
					BalanceDue:    400,
					Status:        fee.StatusUnpaid,
				},
			},
			wantSent: true,
			contains: []string{"Hello Amani", "March 2024", "FL20240315093000-01HZX4QK", "/receipts/st-1/FL20240315093000-01HZX4QK"},
		},
		{
			name:     "plain body",
			msg:      &core.EmailMessage{To: []mail.Address{{Address: "ops@test.cd"}}, Subject: "ping", BodyStr: "pong"},
			wantSent: true,
			contains: []string{"pong"},
		},
		{
			name:     "with attachment",
			msg:      withAttachment(t, &core.EmailMessage{To: []mail.Address{{Address: "ops@test.cd"}}, Subject: "receipt", BodyStr: "attached"}),
			wantSent: true,
			contains: []string{"attached"},
		},
		{
			name: "no recipients",
			msg:  &core.EmailMessage{Subject: "ping", BodyStr: "pong"},
		},
		{
			name: "unknown template",
			msg:  &core.EmailMessage{To: []mail.Address{{Address: "ops@test.cd"}}, TemplateName: "lol"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emailsvc.ResetSentMessages()

			svc.SendMessages(tt.msg)

			sent := emailsvc.Sent()
			if !tt.wantSent {
				assert.Empty(t, sent)
				return
			}
			require.Len(t, sent, 1)
			for _, s := range tt.contains {
				assert.Contains(t, sent[0].TextContent, s)
			}
		})
	}
}

func withAttachment(t *testing.T, msg *core.EmailMessage) *core.EmailMessage {
	t.Helper()
	require.NoError(t, msg.Attach(strings.NewReader(`{"receipt_no":"FL1"}`), "receipt-FL1.json", "application/json"))
	return msg
}
