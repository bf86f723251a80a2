package models

import "time"

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	StatusRequested BookingStatus = "REQUESTED"
	StatusApproved  BookingStatus = "APPROVED"
	StatusCancelled BookingStatus = "CANCELLED"
	StatusCompleted BookingStatus = "COMPLETED"
)

// Valid reports whether s is a known status.
func (s BookingStatus) Valid() bool {
	switch s {
	case StatusRequested, StatusApproved, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// ResourceRole selects which side of a booking a conflict check looks at.
type ResourceRole string

const (
	ResourceInstructor ResourceRole = "INSTRUCTOR"
	ResourceStudent    ResourceRole = "STUDENT"
)

// Booking is a reserved flight lesson slot.
type Booking struct {
	ID                 string        `json:"id"`
	TenantID           string        `json:"tenantId"`
	StudentID          string        `json:"studentId"`
	InstructorID       *string       `json:"instructorId"`
	StartTime          time.Time     `json:"startTime"`
	EndTime            time.Time     `json:"endTime"`
	Status             BookingStatus `json:"status"`
	CancellationReason string        `json:"cancellationReason,omitempty"`
	CreatedAt          time.Time     `json:"createdAt"`
	UpdatedAt          time.Time     `json:"updatedAt"`
}

// HasInstructor reports whether an instructor is assigned.
func (b *Booking) HasInstructor() bool {
	return b.InstructorID != nil && *b.InstructorID != ""
}

// IsActive reports whether the booking still occupies its slot.
func (b *Booking) IsActive() bool {
	return b.Status != StatusCancelled
}

// OverlapsRange checks the booking against [start, end).
// Touching intervals (one ends exactly when the other starts) do not overlap.
func (b *Booking) OverlapsRange(start, end time.Time) bool {
	return b.StartTime.Before(end) && b.EndTime.After(start)
}

// OverlapsWith checks if this booking overlaps with another booking.
func (b *Booking) OverlapsWith(other *Booking) bool {
	return b.OverlapsRange(other.StartTime, other.EndTime)
}

// Involves reports whether userID is the student or the instructor of the booking.
func (b *Booking) Involves(userID string) bool {
	return b.StudentID == userID || (b.InstructorID != nil && *b.InstructorID == userID)
}

// Clone returns a deep copy, so callers can keep a before-image across updates.
func (b *Booking) Clone() *Booking {
	c := *b
	if b.InstructorID != nil {
		id := *b.InstructorID
		c.InstructorID = &id
	}
	return &c
}
