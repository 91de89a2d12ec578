// Package email defines the message data model shared by the parser,
// the delivery session and the API client.
package email

// Message is a structured mail message extracted from raw wire bytes.
// Subject and the body fields are nil when the corresponding part was
// absent from the input. BodyHTML is never populated by the gateway's
// parser; the field exists because the platform submission schema has it.
type Message struct {
	From     string
	To       []string
	Cc       []string
	Bcc      []string
	Subject  *string
	BodyText *string
	BodyHTML *string

	// Headers holds every header seen, keyed by its original-case name.
	// A repeated name overwrites the earlier value.
	Headers map[string]string
}
