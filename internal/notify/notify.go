package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"taskflow/backend/internal/models"
)

type Details struct {
	Priority    models.Priority `json:"priority"`
	Deadline    *time.Time      `json:"deadline,omitempty"`
	Description string          `json:"description,omitempty"`
}

// Assignment tells a user that a task was assigned to them.
type Assignment struct {
	RecipientEmail string  `json:"recipient_email"`
	Title          string  `json:"title"`
	AssignerName   string  `json:"assigner_name"`
	Details        Details `json:"details"`
}

type PasswordReset struct {
	RecipientEmail string    `json:"recipient_email"`
	Link           string    `json:"link"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Receipt is what a notifier reports back. Queued receipts mean the message
// was accepted for later delivery.
type Receipt struct {
	ID      string    `json:"id"`
	SentAt  time.Time `json:"sent_at"`
	Success bool      `json:"success"`
	Queued  bool      `json:"queued"`
	Message string    `json:"message"`
}

// Notifier failures must never block the operation that triggered them.
type Notifier interface {
	NotifyAssignment(ctx context.Context, a Assignment) (*Receipt, error)
	NotifyPasswordReset(ctx context.Context, r PasswordReset) (*Receipt, error)
}

type Email struct {
	To      string
	Subject string
	From    string
	Body    string
}

func AssignmentEmail(from string, a Assignment) Email {
	priority := string(a.Details.Priority)
	if priority == "" {
		priority = string(models.PriorityMedium)
	}
	deadline := "No deadline set"
	if a.Details.Deadline != nil && !a.Details.Deadline.IsZero() {
		deadline = a.Details.Deadline.Format("2006-01-02")
	}

	var b strings.Builder
	b.WriteString("Dear User,\n\n")
	fmt.Fprintf(&b, "You have been assigned a new task by %s.\n\n", a.AssignerName)
	b.WriteString("Task Details:\n")
	fmt.Fprintf(&b, "- Title: %s\n", a.Title)
	fmt.Fprintf(&b, "- Priority: %s\n", priority)
	fmt.Fprintf(&b, "- Deadline: %s\n", deadline)
	b.WriteString("- Status: Pending\n")
	if a.Details.Description != "" {
		fmt.Fprintf(&b, "- Description: %s\n", a.Details.Description)
	}
	b.WriteString("\nPlease log in to your TaskFlow dashboard to view the task and update its status.\n\n")
	b.WriteString("Best regards,\nTaskFlow Team")

	return Email{
		To:      a.RecipientEmail,
		Subject: "New Task Assigned: " + a.Title,
		From:    from,
		Body:    b.String(),
	}
}

func PasswordResetEmail(from string, r PasswordReset) Email {
	var b strings.Builder
	b.WriteString("Hello,\n\n")
	b.WriteString("We received a request to reset the password for your TaskFlow account.\n")
	fmt.Fprintf(&b, "Use the link below before %s:\n\n%s\n\n", r.ExpiresAt.UTC().Format(time.RFC1123), r.Link)
	b.WriteString("If you did not ask for this, you can ignore this email.\n\nTaskFlow Team")

	return Email{
		To:      r.RecipientEmail,
		Subject: "Reset your TaskFlow password",
		From:    from,
		Body:    b.String(),
	}
}
