package mail

import (
	"fmt"
	"strings"
	"time"
)

// InvoiceMailData carries the fields rendered into the invoice notification.
type InvoiceMailData struct {
	RecipientName string
	InvoiceNumber string
	Plan          string
	AmountDisplay string
	IssuedAt      time.Time
	DownloadURL   string
	SiteTitle     string
}

// BuildInvoiceMail returns the subject and HTML body for an invoice
// notification. The PDF itself is linked, not attached, so mails stay small
// and the document is always fetched in its latest archived form.
func BuildInvoiceMail(data InvoiceMailData) (string, string) {
	site := data.SiteTitle
	if site == "" {
		site = "KlangFox"
	}

	subject := fmt.Sprintf("%s - Your invoice %s", site, data.InvoiceNumber)

	var b strings.Builder
	b.WriteString("<html><body style=\"font-family: Arial, sans-serif; color: #333;\">")
	fmt.Fprintf(&b, "<h2>%s</h2>", site)
	fmt.Fprintf(&b, "<p>Hello %s,</p>", data.RecipientName)
	fmt.Fprintf(&b, "<p>thank you for your payment. Your invoice <strong>%s</strong> from %s is ready.</p>",
		data.InvoiceNumber, data.IssuedAt.Format("02.01.2006"))
	b.WriteString("<table style=\"border-collapse: collapse; margin: 16px 0;\">")
	fmt.Fprintf(&b, "<tr><td style=\"padding: 4px 16px 4px 0;\">Plan</td><td><strong>%s</strong></td></tr>", data.Plan)
	fmt.Fprintf(&b, "<tr><td style=\"padding: 4px 16px 4px 0;\">Amount</td><td><strong>%s</strong></td></tr>", data.AmountDisplay)
	b.WriteString("</table>")
	if data.DownloadURL != "" {
		fmt.Fprintf(&b, "<p><a href=\"%s\" style=\"display: inline-block; padding: 10px 20px; background-color: #1db954; color: #fff; text-decoration: none; border-radius: 4px;\">Download invoice (PDF)</a></p>", data.DownloadURL)
	}
	b.WriteString("<p>No action is required, the payment has already been settled.</p>")
	fmt.Fprintf(&b, "<p style=\"color: #888; font-size: 12px;\">This is an automated message from %s. Please do not reply.</p>", site)
	b.WriteString("</body></html>")

	return subject, b.String()
}
