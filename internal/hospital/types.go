package hospital

import (
	"errors"
	"math"
	"time"
)

// BloodGroup is one of the eight ABO/Rh groups.
type BloodGroup string

const (
	BloodGroupAPositive  BloodGroup = "A+"
	BloodGroupANegative  BloodGroup = "A-"
	BloodGroupBPositive  BloodGroup = "B+"
	BloodGroupBNegative  BloodGroup = "B-"
	BloodGroupABPositive BloodGroup = "AB+"
	BloodGroupABNegative BloodGroup = "AB-"
	BloodGroupOPositive  BloodGroup = "O+"
	BloodGroupONegative  BloodGroup = "O-"
)

func (b BloodGroup) Valid() bool {
	switch b {
	case BloodGroupAPositive, BloodGroupANegative, BloodGroupBPositive, BloodGroupBNegative,
		BloodGroupABPositive, BloodGroupABNegative, BloodGroupOPositive, BloodGroupONegative:
		return true
	}
	return false
}

// Patient shares its id with the owning account.
type Patient struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Email       string     `json:"email,omitempty"`
	Gender      string     `json:"gender,omitempty"`
	BirthDate   *time.Time `json:"birth_date,omitempty"`
	BloodGroup  BloodGroup `json:"blood_group,omitempty"`
	InsuranceID *int64     `json:"insurance_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Doctor shares its id with the owning account.
type Doctor struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Specialization string `json:"specialization"`
	Email          string `json:"email,omitempty"`
}

type Department struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	HeadDoctorID *int64  `json:"head_doctor_id,omitempty"`
	DoctorIDs    []int64 `json:"doctor_ids"`
}

type Insurance struct {
	ID           int64     `json:"id"`
	PolicyNumber string    `json:"policy_number"`
	Provider     string    `json:"provider"`
	ValidUntil   time.Time `json:"valid_until"`
	CreatedAt    time.Time `json:"created_at"`
}

type Appointment struct {
	ID              int64     `json:"id"`
	AppointmentTime time.Time `json:"appointment_time"`
	Reason          string    `json:"reason"`
	PatientID       int64     `json:"patient_id"`
	DoctorID        int64     `json:"doctor_id"`
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Page selects a slice of a listing. Number starts at 0.
type Page struct {
	Number int
	Size   int
}

// Normalize applies defaults and caps.
func (p Page) Normalize() Page {
	if p.Number < 0 {
		p.Number = 0
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	// Keep Offset within int; such a page is past any real listing.
	if p.Number > math.MaxInt/p.Size {
		p.Number = math.MaxInt / p.Size
	}
	return p
}

func (p Page) Offset() int { return p.Number * p.Size }

var (
	ErrNotFound     = errors.New("hospital: not found")
	ErrConflict     = errors.New("hospital: conflict")
	ErrInvalidInput = errors.New("hospital: invalid input")
)
