package models

import (
	"time"
)

// ItemStatus represents the lifecycle status of a queue item
type ItemStatus string

const (
	StatusQueued  ItemStatus = "queued"
	StatusSending ItemStatus = "sending"
	StatusSent    ItemStatus = "sent"
	StatusFailed  ItemStatus = "failed"
)

// SecurityMode is the transport security used when connecting to the relay
type SecurityMode string

const (
	SecurityNone SecurityMode = "none"
	SecurityTLS  SecurityMode = "tls" // STARTTLS
	SecuritySSL  SecurityMode = "ssl" // implicit TLS
)

// SMTPConfig is one delivery configuration row. Exactly one row is
// active at a time; the password is stored encrypted and only
// decrypted inside the transport immediately before dialing.
type SMTPConfig struct {
	ID          int64        `json:"id"`
	Host        string       `json:"host"`
	Port        int          `json:"port"`
	Security    SecurityMode `json:"security"`
	Username    string       `json:"username"`
	PasswordEnc string       `json:"-"`
	PasswordIV  string       `json:"-"`
	FromAddress string       `json:"from_address"`
	FromName    string       `json:"from_name,omitempty"`
	ReplyTo     string       `json:"reply_to,omitempty"`
	MaxAttempts int          `json:"max_attempts"`
	SendTimeout time.Duration `json:"send_timeout"`
	RatePerHour int          `json:"rate_per_hour"`
	Active      bool         `json:"active"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Template is a named notification template. Identity is the key;
// content is mutable and versioned by updated_at only.
type Template struct {
	ID        string         `json:"id"`
	Key       string         `json:"key"`
	Name      string         `json:"name"`
	Category  string         `json:"category,omitempty"`
	Subject   string         `json:"subject"`
	HTML      string         `json:"html,omitempty"`
	Text      string         `json:"text,omitempty"`
	Variables []VariableInfo `json:"variables,omitempty"`
	Active    bool           `json:"active"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// VariableInfo documents a template variable. Documentation only:
// rendering is permissive and never rejects missing variables.
type VariableInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Example     string `json:"example,omitempty"`
}

// QueueItem is one unit of delivery work. Subject and bodies are the
// snapshot rendered at enqueue time; later template edits do not
// change queued content.
type QueueItem struct {
	ID           string     `json:"id"`
	TemplateKey  string     `json:"template_key,omitempty"`
	Recipient    string     `json:"recipient"`
	Subject      string     `json:"subject"`
	HTML         string     `json:"html,omitempty"`
	Text         string     `json:"text,omitempty"`
	Status       ItemStatus `json:"status"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"max_attempts"`
	ScheduledFor time.Time  `json:"scheduled_for"`
	LastError    string     `json:"last_error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// LogEntry is one terminal-transition record, used for statistics and
// pruned by age.
type LogEntry struct {
	ID        int64      `json:"id"`
	ItemID    string     `json:"item_id"`
	Recipient string     `json:"recipient"`
	Status    ItemStatus `json:"status"`
	Detail    string     `json:"detail,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// StatusCount is a point-in-time queue summary row.
type StatusCount struct {
	Status ItemStatus `json:"status"`
	Count  int64      `json:"count"`
}

// DailyCount is one historical statistics row, grouped by calendar
// date and terminal status.
type DailyCount struct {
	Date   string     `json:"date"` // YYYY-MM-DD
	Status ItemStatus `json:"status"`
	Count  int64      `json:"count"`
}

// CycleResult is the aggregate outcome of one delivery cycle.
type CycleResult struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Deferred  int `json:"deferred"`
}
