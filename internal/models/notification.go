package models

// NotificationTemplate identifies which outbound template is due. Rendering
// and delivery belong to the external email service.
type NotificationTemplate string

const (
	TemplateApplicationReceived NotificationTemplate = "application_received"
	TemplateApplicationApproved NotificationTemplate = "application_approved"
	TemplateApplicationRejected NotificationTemplate = "application_rejected"
	TemplateApplicationWaitlist NotificationTemplate = "application_waitlisted"
	TemplateApplicationMigrated NotificationTemplate = "application_migrated"
	TemplatePaymentVerified     NotificationTemplate = "payment_verified"
)

// Notification carries what the dispatcher needs: who, which template, and
// the template context.
type Notification struct {
	Recipient string               `json:"recipient"`
	Template  NotificationTemplate `json:"template"`
	Data      map[string]string    `json:"data,omitempty"`
}
