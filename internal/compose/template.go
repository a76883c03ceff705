// Package compose holds the compose-form data and turns it into one
// personalized RFC 5322 message per recipient.
package compose

import (
	"fmt"
	"log/slog"
	"strings"

	"github.io/infrasutra/bulkmailer/internal/recipients"
)

const (
	PlaceholderName    = "name"
	PlaceholderCompany = "company"
)

// Template is what the user typed into the compose form. Nothing is
// checked here; the sender enforces presence before opening the relay.
type Template struct {
	Subject string
	Body    string
	Image   *Image
}

type Credentials struct {
	Sender   string
	Password string
}

func (c Credentials) String() string {
	return c.Sender + ":[redacted]"
}

func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(slog.String("sender", c.Sender))
}

// TemplateError reports a placeholder other than {name} or {company}, or a
// brace that does not open or close a placeholder.
type TemplateError struct {
	Placeholder string
	Reason      string
}

func (e *TemplateError) Error() string {
	if e.Placeholder != "" {
		return fmt.Sprintf("unsupported placeholder {%s}: use only {name} and {company}", e.Placeholder)
	}
	return fmt.Sprintf("invalid template: %s; use only {name} and {company}", e.Reason)
}

// Render substitutes {name} and {company}. Doubled braces are literal.
func Render(body string, rec recipients.Record) (string, error) {
	var out strings.Builder
	out.Grow(len(body))

	for i := 0; i < len(body); i++ {
		c := body[i]
		switch c {
		case '{':
			if i+1 < len(body) && body[i+1] == '{' {
				out.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(body[i+1:], '}')
			if end < 0 {
				return "", &TemplateError{Reason: "single '{' encountered"}
			}
			field := body[i+1 : i+1+end]
			switch field {
			case PlaceholderName:
				out.WriteString(rec.Name)
			case PlaceholderCompany:
				out.WriteString(rec.Company)
			default:
				if field == "" {
					return "", &TemplateError{Reason: "empty placeholder {}"}
				}
				return "", &TemplateError{Placeholder: field}
			}
			i += end + 1
		case '}':
			if i+1 < len(body) && body[i+1] == '}' {
				out.WriteByte('}')
				i++
				continue
			}
			return "", &TemplateError{Reason: "single '}' encountered"}
		default:
			out.WriteByte(c)
		}
	}
	return out.String(), nil
}

// Greeting is the full text part sent to one recipient.
func Greeting(name, rendered string) string {
	return "Hello " + name + ",\n\n" + rendered
}
