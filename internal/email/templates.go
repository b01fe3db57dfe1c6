package email

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// Built-in template ids.
const (
	TemplateWelcome          = "welcome"
	TemplateBookingConfirmed = "booking_confirmed"
	TemplateBookingCancelled = "booking_cancelled"
)

type builtin struct {
	subjectMarker string
	subject       *template.Template
	body          *template.Template
}

func mustBuiltin(id, subjectMarker, subject, body string) builtin {
	return builtin{
		subjectMarker: subjectMarker,
		subject:       template.Must(template.New(id + ".subject").Option("missingkey=error").Parse(subject)),
		body:          template.Must(template.New(id + ".body").Option("missingkey=error").Parse(body)),
	}
}

var builtins = map[string]builtin{
	TemplateWelcome: mustBuiltin(TemplateWelcome, "Welcome to",
		`Welcome to {{.AppName}}`,
		`Hi {{.Name}},

your {{.AppName}} account is ready. Start browsing kost listings near you.
`),
	TemplateBookingConfirmed: mustBuiltin(TemplateBookingConfirmed, "Booking confirmed",
		`Booking confirmed: {{.ListingName}}`,
		`Hi {{.Name}},

your booking for {{.ListingName}} ({{.ListingPrice}}) was recorded on {{.BookedAt}}.
Booking reference: {{.BookingID}}
`),
	TemplateBookingCancelled: mustBuiltin(TemplateBookingCancelled, "Booking cancelled",
		`Booking cancelled: {{.ListingName}}`,
		`Hi {{.Name}},

your booking {{.BookingID}} for {{.ListingName}} has been cancelled.
`),
}

// Render fills the template with data and returns subject and body.
func Render(templateID string, data map[string]interface{}) (string, string, error) {
	t, ok := builtins[templateID]
	if !ok {
		return "", "", fmt.Errorf("unknown email template %q", templateID)
	}
	var subject, body bytes.Buffer
	if err := t.subject.Execute(&subject, data); err != nil {
		return "", "", fmt.Errorf("failed to render subject of %s: %w", templateID, err)
	}
	if err := t.body.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("failed to render body of %s: %w", templateID, err)
	}
	return subject.String(), body.String(), nil
}

// TemplateForSubject maps a rendered subject back to its template id, or "unknown".
func TemplateForSubject(subject string) string {
	for id, t := range builtins {
		if strings.HasPrefix(subject, t.subjectMarker) {
			return id
		}
	}
	return "unknown"
}
