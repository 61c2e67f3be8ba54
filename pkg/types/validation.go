package types

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxContentLength bounds a chat message body, counted in runes
	MaxContentLength = 5000
	// MaxUserIDLength fits UUIDs and 24-char document ids with room to spare
	MaxUserIDLength = 64
	// MaxAppointmentTypeLength bounds the free-form appointment type label
	MaxAppointmentTypeLength = 50
	// MaxAttachmentNameLength bounds the attachment display name
	MaxAttachmentNameLength = 255
)

var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidUserID checks if a user ID meets format requirements
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > MaxUserIDLength {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidRole checks the role against the two roles the relay knows
func IsValidRole(role string) bool {
	return role == RolePatient || role == RoleDoctor
}

// ValidateContent checks a chat body; an attachment makes empty content legal
func ValidateContent(content string, attachment *Attachment) error {
	if strings.TrimSpace(content) == "" && attachment == nil {
		return ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return ErrContentTooLarge
	}
	if attachment != nil {
		return attachment.Validate()
	}
	return nil
}

// Validate ensures the attachment descriptor is usable by the receiving client
func (a *Attachment) Validate() error {
	if a == nil {
		return nil
	}
	if strings.TrimSpace(a.Name) == "" || len(a.Name) > MaxAttachmentNameLength {
		return ErrInvalidAttachment
	}
	if a.Size < 0 {
		return ErrInvalidAttachment
	}
	u, err := url.Parse(a.URL)
	if err != nil || u.Host == "" {
		return ErrInvalidAttachment
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrInvalidAttachment
	}
	return nil
}

// ValidateAppointmentType checks the free-form appointment type label
func ValidateAppointmentType(appointmentType string) error {
	trimmed := strings.TrimSpace(appointmentType)
	if trimmed == "" || utf8.RuneCountInString(trimmed) > MaxAppointmentTypeLength {
		return ErrInvalidAppointmentType
	}
	return nil
}
