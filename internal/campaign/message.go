package campaign

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/lalithlochan/waitlist/internal/mailer"
)

const (
	DefaultDisplayName = "Waitlist App"
	DefaultSubject     = "Reminder: Our Launch is Approaching!"
)

// Message is the admin-editable part of a reminder. Empty fields fall back
// to the defaults.
type Message struct {
	DisplayName string `json:"from"`
	Subject     string `json:"subject"`
	Text        string `json:"text"`
}

func defaultText(launchDate *time.Time) string {
	if launchDate == nil {
		return "Hi there,\n\nJust a friendly reminder that our launch is approaching!\n\nGet ready for our launch!"
	}
	return fmt.Sprintf("Hi there,\n\nJust a friendly reminder that our launch date is approaching!\n\nLaunch Date: %s\n\nGet ready for our launch!",
		launchDate.UTC().Format("January 2, 2006 15:04 MST"))
}

// RenderHTML escapes text and wraps it in a paragraph, turning newlines into
// line breaks.
func RenderHTML(text string) string {
	escaped := html.EscapeString(text)
	escaped = strings.ReplaceAll(escaped, "\r\n", "\n")
	return "<p>" + strings.ReplaceAll(escaped, "\n", "<br>") + "</p>"
}

// compose builds the email template shared by every recipient. To is left
// empty for the dispatcher to fill in.
func compose(senderEmail string, msg Message, launchDate *time.Time) mailer.Email {
	name := strings.TrimSpace(msg.DisplayName)
	if name == "" {
		name = DefaultDisplayName
	}
	// Quotes inside the display name would break the header.
	name = strings.ReplaceAll(name, `"`, "'")

	subject := strings.TrimSpace(msg.Subject)
	if subject == "" {
		subject = DefaultSubject
	}

	text := msg.Text
	if strings.TrimSpace(text) == "" {
		text = defaultText(launchDate)
	}

	return mailer.Email{
		From:    fmt.Sprintf(`"%s" <%s>`, name, senderEmail),
		Subject: subject,
		Text:    text,
		HTML:    RenderHTML(text),
	}
}
