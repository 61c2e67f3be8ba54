package appointment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"medrelay/pkg/types"
)

// BookRequest carries a booking as received from a patient
type BookRequest struct {
	DoctorID  string
	PatientID string
	Date      string
	Type      string
}

// Stats summarizes broker state
type Stats struct {
	Doctors   int `json:"doctors"`
	Scheduled int `json:"scheduled"`
	Cancelled int `json:"cancelled"`
}

// Broker owns every appointment for the process lifetime
// ARCHITECTURAL DISCOVERY: Each doctor's schedule has its own lock so the conflict scan
// and the append are one atomic step per doctor while different doctors book in parallel.
// The id index replaces a scan over all doctors when cancelling.
type Broker struct {
	mu      sync.RWMutex
	doctors map[string]*schedule // doctorID -> schedule
	index   map[string]string    // appointmentID -> doctorID

	now   func() time.Time
	newID func() string
}

type schedule struct {
	mu           sync.Mutex
	appointments []*types.Appointment
}

// NewBroker creates an empty broker
func NewBroker() *Broker {
	return &Broker{
		doctors: make(map[string]*schedule),
		index:   make(map[string]string),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// ParseDate parses an RFC 3339 instant and normalizes it to UTC
func ParseDate(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	return t.UTC(), nil
}

func (b *Broker) scheduleFor(doctorID string, create bool) *schedule {
	b.mu.RLock()
	s, ok := b.doctors[doctorID]
	b.mu.RUnlock()
	if ok || !create {
		return s
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok = b.doctors[doctorID]; ok {
		return s
	}
	s = &schedule{}
	b.doctors[doctorID] = s
	return s
}

// Book creates a scheduled appointment unless the doctor already holds a
// non-cancelled appointment at the same instant
func (b *Broker) Book(ctx context.Context, req BookRequest) (types.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return types.Appointment{}, err
	}
	if !types.IsValidUserID(req.DoctorID) {
		return types.Appointment{}, ErrInvalidDoctor
	}
	if !types.IsValidUserID(req.PatientID) {
		return types.Appointment{}, ErrInvalidPatient
	}
	if req.DoctorID == req.PatientID {
		return types.Appointment{}, ErrSelfBooking
	}
	if err := types.ValidateAppointmentType(req.Type); err != nil {
		return types.Appointment{}, err
	}
	date, err := ParseDate(req.Date)
	if err != nil {
		return types.Appointment{}, err
	}

	s := b.scheduleFor(req.DoctorID, true)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Compare instants, not strings: "10:00:00Z" and "12:00:00+02:00" are the same slot
	for _, existing := range s.appointments {
		if !existing.IsCancelled() && existing.Date.Equal(date) {
			return types.Appointment{}, ErrSlotConflict
		}
	}

	appt := &types.Appointment{
		ID:        b.newID(),
		DoctorID:  req.DoctorID,
		PatientID: req.PatientID,
		Date:      date,
		Type:      req.Type,
		Status:    types.AppointmentStatusScheduled,
		CreatedAt: b.now().UTC(),
	}
	s.appointments = append(s.appointments, appt)

	b.mu.Lock()
	b.index[appt.ID] = req.DoctorID
	b.mu.Unlock()

	return *appt, nil
}

// Cancel moves an appointment to cancelled. changed is false when it was already
// cancelled, in which case the existing terminal record is returned unchanged.
func (b *Broker) Cancel(ctx context.Context, appointmentID, requesterID string) (types.Appointment, bool, error) {
	if err := ctx.Err(); err != nil {
		return types.Appointment{}, false, err
	}

	b.mu.RLock()
	doctorID, ok := b.index[appointmentID]
	b.mu.RUnlock()
	if !ok {
		return types.Appointment{}, false, ErrNotFound
	}

	s := b.scheduleFor(doctorID, false)
	if s == nil {
		return types.Appointment{}, false, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, appt := range s.appointments {
		if appt.ID != appointmentID {
			continue
		}
		if requesterID != appt.DoctorID && requesterID != appt.PatientID {
			return types.Appointment{}, false, ErrUnauthorized
		}
		if appt.IsCancelled() {
			return cloneAppointment(appt), false, nil
		}
		now := b.now().UTC()
		appt.Status = types.AppointmentStatusCancelled
		appt.CancelledBy = requesterID
		appt.CancelledAt = &now
		return cloneAppointment(appt), true, nil
	}
	return types.Appointment{}, false, ErrNotFound
}

// Get returns a single appointment by id
func (b *Broker) Get(appointmentID string) (types.Appointment, bool) {
	b.mu.RLock()
	doctorID, ok := b.index[appointmentID]
	b.mu.RUnlock()
	if !ok {
		return types.Appointment{}, false
	}

	s := b.scheduleFor(doctorID, false)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, appt := range s.appointments {
		if appt.ID == appointmentID {
			return cloneAppointment(appt), true
		}
	}
	return types.Appointment{}, false
}

// ForUser returns every appointment where userID is the doctor or the patient, ordered by date
func (b *Broker) ForUser(userID string) []types.Appointment {
	out := []types.Appointment{}
	for _, s := range b.schedules() {
		s.mu.Lock()
		for _, appt := range s.appointments {
			if appt.DoctorID == userID || appt.PatientID == userID {
				out = append(out, cloneAppointment(appt))
			}
		}
		s.mu.Unlock()
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

// Stats counts doctors with at least one booking and appointments by status
func (b *Broker) Stats() Stats {
	schedules := b.schedules()
	stats := Stats{Doctors: len(schedules)}
	for _, s := range schedules {
		s.mu.Lock()
		for _, appt := range s.appointments {
			if appt.IsCancelled() {
				stats.Cancelled++
			} else {
				stats.Scheduled++
			}
		}
		s.mu.Unlock()
	}
	return stats
}

func (b *Broker) schedules() []*schedule {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*schedule, 0, len(b.doctors))
	for _, s := range b.doctors {
		out = append(out, s)
	}
	return out
}

func cloneAppointment(appt *types.Appointment) types.Appointment {
	c := *appt
	if appt.CancelledAt != nil {
		at := *appt.CancelledAt
		c.CancelledAt = &at
	}
	return c
}
