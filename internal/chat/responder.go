// Package chat answers demo chat messages with canned replies.
package chat

import (
	"errors"
	"strings"
)

// ErrEmptyMessage is returned for an empty or whitespace-only message
var ErrEmptyMessage = errors.New("message cannot be empty")

const (
	replyGreeting  = "Hello! How can I help you today?"
	replyHowAreYou = "I'm doing well, thank you for asking! How can I assist you?"
	replyGoodbye   = "Goodbye! Have a great day!"
	replyThanks    = "You're welcome! Is there anything else I can help you with?"
	replyHelp      = "I can help you with various tasks. Just let me know what you need!"
	replyDefault   = "I understand. What would you like to know more about?"
)

// Responder picks a canned reply for a chat message
type Responder struct{}

// NewResponder creates a chat responder
func NewResponder() *Responder {
	return &Responder{}
}

// Reply returns the reply for message. Matching is case-insensitive on the trimmed text.
func (r *Responder) Reply(message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", ErrEmptyMessage
	}

	lower := strings.ToLower(message)
	switch {
	case lower == "hi" || lower == "hello" || lower == "hey":
		return replyGreeting, nil
	case lower == "how are you":
		return replyHowAreYou, nil
	case lower == "bye" || lower == "goodbye":
		return replyGoodbye, nil
	case strings.Contains(lower, "thank you") || lower == "thanks":
		return replyThanks, nil
	case lower == "help":
		return replyHelp, nil
	default:
		return replyDefault, nil
	}
}
