package model

import "time"

// Account is a managed mailbox account as the provider reports it.
type Account struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Mailbox is one folder inside an account.
type Mailbox struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// Message is the provider's read-only view of one email. The identity key
// (AccountID, MailboxID, ID) is globally unique and immutable.
type Message struct {
	AccountID  string    `json:"account_id"`
	MailboxID  string    `json:"mailbox_id"`
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	Sender     string    `json:"sender"`
	ReceivedAt time.Time `json:"received_at"`
}
