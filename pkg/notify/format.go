package notify

import (
	"fmt"
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/ekaya-inc/ekaya-monitor/pkg/models"
)

// Subject summarizes a digest, e.g. "2 checks need attention".
func Subject(checks []models.Check) string {
	return fmt.Sprintf("%d %s need%s attention", len(checks), Pluralize("check", len(checks)), verbSuffix(len(checks)))
}

// Pluralize returns word in plural form unless n is exactly 1.
func Pluralize(word string, n int) string {
	if n == 1 {
		return word
	}
	return inflection.Plural(word)
}

func verbSuffix(n int) string {
	if n == 1 {
		return "s"
	}
	return ""
}

// Lines renders one line per check: name, state and message.
func Lines(checks []models.Check) []string {
	lines := make([]string, len(checks))
	for i, c := range checks {
		name := c.QueryName
		if name == "" {
			name = "Check " + c.ID.String()
		}
		line := fmt.Sprintf("%s: %s", name, c.State)
		if c.Message != "" {
			line += " (" + c.Message + ")"
		}
		lines[i] = line
	}
	return lines
}

// Text renders a plain text digest.
func Text(checks []models.Check) string {
	var b strings.Builder
	b.WriteString(Subject(checks))
	for _, line := range Lines(checks) {
		b.WriteString("\n- ")
		b.WriteString(line)
	}
	return b.String()
}
