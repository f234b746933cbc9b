// Package notify renders detected changes and hands them to the mail service.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/leadwatch/core/pkg/models"
	"github.com/leadwatch/core/pkg/triggers"
)

// Notifier delivers one rendered message to one address
type Notifier interface {
	Send(ctx context.Context, address, subject, body string) error
}

// Message is the envelope published for the mail service
type Message struct {
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Format renders the change set of one check.
// The subject carries the highest severity and the event count; the body
// lists events from critical to low.
func Format(entityName string, events []models.TriggerEvent) (subject, body string) {
	if entityName == "" {
		entityName = "watched company"
	}

	noun := "changes"
	if len(events) == 1 {
		noun = "change"
	}
	subject = fmt.Sprintf("[%s] %d %s detected for %s",
		strings.ToUpper(string(triggers.MaxSeverity(events))), len(events), noun, entityName)

	var b strings.Builder
	fmt.Fprintf(&b, "The following changes were detected for %s:\n\n", entityName)
	for _, ev := range triggers.SortBySeverity(events) {
		fmt.Fprintf(&b, "[%s] %s\n", strings.ToUpper(string(ev.Severity)), ev.Message)
		switch {
		case ev.OldValue != "" && ev.NewValue != "":
			fmt.Fprintf(&b, "    %s -> %s", ev.OldValue, ev.NewValue)
		case ev.NewValue != "":
			fmt.Fprintf(&b, "    %s", ev.NewValue)
		}
		if ev.ChangePercentage != nil {
			fmt.Fprintf(&b, " (%+.2f%%)", *ev.ChangePercentage)
		}
		b.WriteString("\n")
	}
	if len(events) > 0 {
		fmt.Fprintf(&b, "\nDetected at %s.\n", events[0].DetectedAt.UTC().Format(time.RFC3339))
	}
	return subject, b.String()
}
