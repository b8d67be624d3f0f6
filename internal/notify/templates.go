package notify

import (
	"strings"
)

const (
	verificationSubject = "Verify your course portal account"
	verificationBody    = `Hello {name},

Confirm your email address to finish creating your course portal account:

{link}

This link expires in {expires}.`

	resetSubject = "Reset your course portal password"
	resetBody    = `Hello {name},

Use the link below to choose a new password:

{link}

This link expires in {expires}. If you did not ask for a reset, ignore this email.`

	decisionSubject = "Your {request_type} Request Has Been {action}"
	decisionBody    = `Hello {requester_name},

Your request for "{request_type}" ({course_code}) has been {status}.
{note_block}
If you have any further questions, feel free to contact the department office.

Thank you,
Administration Department Team`
)

type templateData map[string]string

// renderTemplate replaces {placeholder} markers with values from data.
// Unknown markers are left untouched.
func renderTemplate(template string, data templateData) string {
	pairs := make([]string, 0, len(data)*2)
	for key, value := range data {
		pairs = append(pairs, "{"+key+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

func noteBlock(note string) string {
	if strings.TrimSpace(note) == "" {
		return ""
	}
	return "\nNote from the department:\n\"" + note + "\"\n"
}
