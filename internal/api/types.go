package api

import "github.com/restmail/restmail-receiver/internal/email"

// DomainLookupRequest asks whether the platform hosts a domain.
type DomainLookupRequest struct {
	Domain string `json:"domain"`
}

// DomainLookupResponse reports domain existence and state. A domain that
// exists but is inactive is a confirmed negative for recipient validation.
type DomainLookupResponse struct {
	Exists   bool   `json:"exists"`
	IsActive bool   `json:"is_active"`
	IsPublic bool   `json:"is_public"`
	DomainID string `json:"domain_id,omitempty"`
}

// EmailLookupRequest asks whether an address belongs to a mailbox.
type EmailLookupRequest struct {
	Email string `json:"email"`
}

// EmailLookupResponse reports a mailbox match. The platform resolves
// plus-addressing itself, so the request carries the raw address.
type EmailLookupResponse struct {
	Exists                   bool   `json:"exists"`
	NormalizedEmail          string `json:"normalized_email,omitempty"`
	UserID                   string `json:"user_id,omitempty"`
	EmailAddressID           string `json:"email_address_id,omitempty"`
	IsPrimary                bool   `json:"is_primary,omitempty"`
	MatchedViaPlusAddressing bool   `json:"matched_via_plus_addressing,omitempty"`
}

// AliasLookupRequest asks whether an address is an alias for a mailbox.
type AliasLookupRequest struct {
	Email string `json:"email"`
}

// AliasLookupResponse reports an alias match and its target.
type AliasLookupResponse struct {
	IsAlias                  bool   `json:"is_alias"`
	NormalizedAlias          string `json:"normalized_alias,omitempty"`
	AliasID                  string `json:"alias_id,omitempty"`
	TargetEmailAddressID     string `json:"target_email_address_id,omitempty"`
	TargetEmailAddress       string `json:"target_email_address,omitempty"`
	UserID                   string `json:"user_id,omitempty"`
	MatchedViaPlusAddressing bool   `json:"matched_via_plus_addressing,omitempty"`
}

// ReceiveEmailRequest submits a parsed message to the platform. Subject and
// body fields serialize as null when absent; cc, bcc, headers and
// attachments are omitted entirely when empty, matching what the platform's
// verifier hashes on its side.
type ReceiveEmailRequest struct {
	From        string            `json:"from"`
	To          []string          `json:"to"`
	Cc          []string          `json:"cc,omitempty"`
	Bcc         []string          `json:"bcc,omitempty"`
	Subject     *string           `json:"subject"`
	BodyText    *string           `json:"body_text"`
	BodyHTML    *string           `json:"body_html"`
	Headers     map[string]string `json:"headers,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
}

// Attachment is a file carried in a submission. The gateway's parser never
// produces attachments, but the schema supports them.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	SizeBytes   uint64 `json:"size_bytes"`
	Content     string `json:"content"` // base64
}

// ReceiveEmailResponse is the per-recipient outcome of a submission. It
// drives the delivery dialog's final response code.
type ReceiveEmailResponse struct {
	Status      string           `json:"status"`
	Message     string           `json:"message"`
	DeliveredTo []DeliveryResult `json:"delivered_to"`
}

// DeliveryResult is one recipient's outcome within a submission.
type DeliveryResult struct {
	Recipient string `json:"recipient"`
	Success   bool   `json:"success"`
	EmailID   string `json:"email_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ReceiveRequestFromMessage converts a parsed message into the submission
// payload shape.
func ReceiveRequestFromMessage(msg *email.Message) *ReceiveEmailRequest {
	return &ReceiveEmailRequest{
		From:     msg.From,
		To:       msg.To,
		Cc:       msg.Cc,
		Bcc:      msg.Bcc,
		Subject:  msg.Subject,
		BodyText: msg.BodyText,
		BodyHTML: msg.BodyHTML,
		Headers:  msg.Headers,
	}
}
