// Package session runs sending sessions: one letter mailed to the eligible
// contacts of the selected nations, one at a time, with a randomized pause
// between emails.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iase/mailmerge/internal/email"
)

// MinDelay is the shortest pause allowed between two emails
const MinDelay = time.Second

// MaxCountOptions are the session sizes offered to the user
var MaxCountOptions = []int{5, 10, 25, 50, 75, 100, 150, 200, 250, 300, 400, 500, 600, 700, 800, 900, 1000}

var (
	// ErrSessionRunning is returned when a session is started while another runs
	ErrSessionRunning = errors.New("a sending session is already running")
	// ErrNoContacts is returned when the selection leaves nobody to email
	ErrNoContacts = errors.New("no contacts left to send to")
	// ErrNotRunning is returned by Cancel when no session is running
	ErrNotRunning = errors.New("no sending session is running")
)

// Status of a session
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusFinished  Status = "finished"
	StatusCancelled Status = "cancelled"
)

// Recipient is an explicit recipient for single-contact mode
type Recipient struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Validate checks the recipient has a name and a well-formed address
func (r *Recipient) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("recipient name is required")
	}
	if !email.IsAddress(r.Email) {
		return fmt.Errorf("invalid recipient email %q", r.Email)
	}
	return nil
}

// Request describes a sending session. Runner.DefaultRequest returns one
// filled from the configuration.
type Request struct {
	Nations       []string
	MaxCount      int
	Language      string
	Letter        string
	SubjectOption string
	CustomSubject string
	Delay         time.Duration
	RandomWindow  time.Duration
	FinalDelay    time.Duration
	// Single switches to single-contact mode: only this recipient is emailed
	// and the contact store is left untouched.
	Single *Recipient
}

// Progress is a snapshot of the current or last session
type Progress struct {
	SessionID  string    `json:"session_id,omitempty"`
	Status     Status    `json:"status"`
	Subject    string    `json:"subject,omitempty"`
	Current    int       `json:"current"`
	Total      int       `json:"total"`
	Sent       int       `json:"sent"`
	Failed     int       `json:"failed"`
	NextName   string    `json:"next_name,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Elapsed    string    `json:"elapsed,omitempty"`
}

// Running reports whether the session is still in progress
func (p Progress) Running() bool {
	return p.Status == StatusRunning
}
