package alert

import (
	"context"
	"fmt"
	"html"

	brevo "github.com/getbrevo/brevo-go/lib"
)

// BrevoMailer sends mail through the Brevo transactional email API.
// It is used instead of the SMTP relay when an API key is configured.
type BrevoMailer struct {
	client *brevo.APIClient
	from   string
}

// NewBrevoMailer creates a mailer authenticated with apiKey. from is the
// sender address; when empty the recipient is used.
func NewBrevoMailer(apiKey string, from string) *BrevoMailer {
	cfg := brevo.NewConfiguration()
	cfg.AddDefaultHeader("api-key", apiKey)
	return &BrevoMailer{
		client: brevo.NewAPIClient(cfg),
		from:   from,
	}
}

// Send submits one message.
func (b *BrevoMailer) Send(ctx context.Context, to, subject, body string) error {
	from := b.from
	if from == "" {
		from = to
	}

	email := brevo.SendSmtpEmail{
		Sender: &brevo.SendSmtpEmailSender{
			Name:  "ispwatch",
			Email: from,
		},
		To: []brevo.SendSmtpEmailTo{
			{Email: to},
		},
		Subject:     subject,
		HtmlContent: fmt.Sprintf("<pre>%s</pre>", html.EscapeString(body)),
		TextContent: body,
	}

	if _, _, err := b.client.TransactionalEmailsApi.SendTransacEmail(ctx, email); err != nil {
		return fmt.Errorf("brevo: %w", err)
	}
	return nil
}
