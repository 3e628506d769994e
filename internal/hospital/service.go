package hospital

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"hospital.org/internal/auth"
	"hospital.org/internal/authz"
	"hospital.org/internal/stream"
)

// Publisher receives appointment events.
type Publisher interface {
	Publish(evt stream.AppointmentEvent)
}

type OnboardDoctorRequest struct {
	UserID         int64  `json:"user_id" validate:"required,gt=0"`
	Name           string `json:"name" validate:"required,max=100"`
	Specialization string `json:"specialization" validate:"required,max=100"`
}

type CreateAppointmentRequest struct {
	DoctorID        int64     `json:"doctor_id" validate:"required,gt=0"`
	PatientID       int64     `json:"patient_id" validate:"omitempty,gt=0"`
	AppointmentTime time.Time `json:"appointment_time" validate:"required"`
	Reason          string    `json:"reason" validate:"required,max=500"`
}

type CreateDepartmentRequest struct {
	Name         string `json:"name" validate:"required,max=100"`
	HeadDoctorID *int64 `json:"head_doctor_id" validate:"omitempty,gt=0"`
}

type InsuranceRequest struct {
	PolicyNumber string    `json:"policy_number" validate:"required,max=50"`
	Provider     string    `json:"provider" validate:"required,max=100"`
	ValidUntil   time.Time `json:"valid_until" validate:"required"`
}

// Service implements hospital operations. Fine-grained authorization runs here,
// after the path rules have already admitted the request.
type Service struct {
	store    Store
	gate     *authz.Gate
	events   Publisher
	validate *validator.Validate
	log      zerolog.Logger
	now      func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

func WithPublisher(p Publisher) ServiceOption {
	return func(s *Service) {
		if p != nil {
			s.events = p
		}
	}
}

func WithLogger(l zerolog.Logger) ServiceOption {
	return func(s *Service) { s.log = l }
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewService(store Store, gate *authz.Gate, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		gate:     gate,
		events:   discard{},
		validate: newValidator(),
		log:      zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Patients -----------------------------------------------------------------

func (s *Service) GetPatient(ctx context.Context, id int64) (Patient, error) {
	return s.store.GetPatient(ctx, id)
}

func (s *Service) ListPatients(ctx context.Context, page Page) ([]Patient, error) {
	return s.store.ListPatients(ctx, page.Normalize())
}

// Profile returns the caller's own patient record.
func (s *Service) Profile(ctx context.Context) (Patient, error) {
	sc, ok := auth.SecurityFromContext(ctx)
	if !ok {
		return Patient{}, authz.ErrUnauthenticated
	}
	return s.store.GetPatient(ctx, sc.AccountID())
}

// PatientAppointments lists the caller's own appointments.
func (s *Service) PatientAppointments(ctx context.Context) ([]Appointment, error) {
	sc, ok := auth.SecurityFromContext(ctx)
	if !ok {
		return nil, authz.ErrUnauthenticated
	}
	return s.store.ListAppointmentsByPatient(ctx, sc.AccountID())
}

// AssignInsurance links a new policy to the patient. Insurance changes need
// patient:write; the coarse DELETE rule alone also admits doctors.
func (s *Service) AssignInsurance(ctx context.Context, patientID int64, req InsuranceRequest) (Patient, error) {
	if err := s.gate.Require(ctx, authz.HasAuthority(auth.PermPatientWrite)); err != nil {
		return Patient{}, err
	}
	if err := s.check(req); err != nil {
		return Patient{}, err
	}
	if !req.ValidUntil.After(s.now()) {
		return Patient{}, fmt.Errorf("%w: valid_until must be in the future", ErrInvalidInput)
	}
	ins := Insurance{
		PolicyNumber: strings.TrimSpace(req.PolicyNumber),
		Provider:     strings.TrimSpace(req.Provider),
		ValidUntil:   req.ValidUntil.UTC(),
	}
	if err := s.store.AssignInsurance(ctx, patientID, &ins); err != nil {
		return Patient{}, err
	}
	s.log.Info().Int64("patient_id", patientID).Int64("insurance_id", ins.ID).Msg("insurance assigned")
	return s.store.GetPatient(ctx, patientID)
}

func (s *Service) RemoveInsurance(ctx context.Context, patientID int64) (Patient, error) {
	if err := s.gate.Require(ctx, authz.HasAuthority(auth.PermPatientWrite)); err != nil {
		return Patient{}, err
	}
	if err := s.store.RemoveInsurance(ctx, patientID); err != nil {
		return Patient{}, err
	}
	return s.store.GetPatient(ctx, patientID)
}

// Doctors ------------------------------------------------------------------

func (s *Service) ListDoctors(ctx context.Context) ([]Doctor, error) {
	return s.store.ListDoctors(ctx)
}

// OnboardDoctor promotes an existing account to doctor.
func (s *Service) OnboardDoctor(ctx context.Context, req OnboardDoctorRequest) (Doctor, error) {
	if err := s.check(req); err != nil {
		return Doctor{}, err
	}
	doc := Doctor{
		ID:             req.UserID,
		Name:           strings.TrimSpace(req.Name),
		Specialization: strings.TrimSpace(req.Specialization),
	}
	if err := s.store.OnboardDoctor(ctx, &doc); err != nil {
		if errors.Is(err, ErrConflict) {
			return Doctor{}, fmt.Errorf("%w: already a doctor", ErrConflict)
		}
		return Doctor{}, err
	}
	s.log.Info().Int64("doctor_id", doc.ID).Msg("doctor onboarded")
	return doc, nil
}

// Departments --------------------------------------------------------------

func (s *Service) CreateDepartment(ctx context.Context, req CreateDepartmentRequest) (Department, error) {
	if err := s.check(req); err != nil {
		return Department{}, err
	}
	dep := Department{Name: strings.TrimSpace(req.Name), HeadDoctorID: req.HeadDoctorID}
	if req.HeadDoctorID != nil {
		if _, err := s.store.GetDoctor(ctx, *req.HeadDoctorID); err != nil {
			return Department{}, err
		}
		dep.DoctorIDs = []int64{*req.HeadDoctorID}
	}
	if err := s.store.CreateDepartment(ctx, &dep); err != nil {
		return Department{}, err
	}
	return dep, nil
}

func (s *Service) ListDepartments(ctx context.Context) ([]Department, error) {
	return s.store.ListDepartments(ctx)
}

func (s *Service) AddDoctorToDepartment(ctx context.Context, departmentID, doctorID int64) error {
	if _, err := s.store.GetDoctor(ctx, doctorID); err != nil {
		return err
	}
	return s.store.AddDoctorToDepartment(ctx, departmentID, doctorID)
}

// Appointments -------------------------------------------------------------

// CreateAppointment books an appointment. The caller needs appointment:write
// or must be the doctor being booked. Booking for another patient also needs
// patient:write unless the caller is that doctor.
func (s *Service) CreateAppointment(ctx context.Context, req CreateAppointmentRequest) (Appointment, error) {
	if err := s.check(req); err != nil {
		return Appointment{}, err
	}
	sc, ok := auth.SecurityFromContext(ctx)
	if !ok {
		return Appointment{}, authz.ErrUnauthenticated
	}
	if req.PatientID == 0 {
		req.PatientID = sc.AccountID()
	}

	rule := authz.AllOf(
		authz.AnyOf(authz.HasAuthority(auth.PermAppointmentWrite), authz.IsSelf(req.DoctorID)),
		authz.AnyOf(authz.IsSelf(req.PatientID), authz.IsSelf(req.DoctorID), authz.HasAuthority(auth.PermPatientWrite)),
	)
	if err := s.gate.Require(ctx, rule); err != nil {
		return Appointment{}, err
	}

	if _, err := s.store.GetDoctor(ctx, req.DoctorID); err != nil {
		return Appointment{}, err
	}
	if _, err := s.store.GetPatient(ctx, req.PatientID); err != nil {
		return Appointment{}, err
	}

	appt := Appointment{
		AppointmentTime: req.AppointmentTime.UTC(),
		Reason:          strings.TrimSpace(req.Reason),
		PatientID:       req.PatientID,
		DoctorID:        req.DoctorID,
	}
	if err := s.store.CreateAppointment(ctx, &appt); err != nil {
		return Appointment{}, err
	}
	s.publish(stream.AppointmentCreated, appt)
	return appt, nil
}

// ReassignAppointment moves an appointment to another doctor. The caller needs
// appointment:write or must be the new doctor.
func (s *Service) ReassignAppointment(ctx context.Context, appointmentID, doctorID int64) (Appointment, error) {
	rule := authz.AnyOf(authz.HasAuthority(auth.PermAppointmentWrite), authz.IsSelf(doctorID))
	if err := s.gate.Require(ctx, rule); err != nil {
		return Appointment{}, err
	}
	if _, err := s.store.GetDoctor(ctx, doctorID); err != nil {
		return Appointment{}, err
	}
	if err := s.store.UpdateAppointmentDoctor(ctx, appointmentID, doctorID); err != nil {
		return Appointment{}, err
	}
	appt, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return Appointment{}, err
	}
	s.publish(stream.AppointmentReassigned, appt)
	return appt, nil
}

// DoctorAppointments lists a doctor's appointments. Admins may read any
// doctor's list; doctors only their own.
func (s *Service) DoctorAppointments(ctx context.Context, doctorID int64) ([]Appointment, error) {
	rule := authz.AnyOf(
		authz.HasRole(auth.RoleAdmin),
		authz.AllOf(authz.HasRole(auth.RoleDoctor), authz.IsSelf(doctorID)),
	)
	if err := s.gate.Require(ctx, rule); err != nil {
		return nil, err
	}
	return s.store.ListAppointmentsByDoctor(ctx, doctorID)
}

func (s *Service) DeleteAppointment(ctx context.Context, id int64) error {
	appt, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteAppointment(ctx, id); err != nil {
		return err
	}
	s.publish(stream.AppointmentDeleted, appt)
	return nil
}

func (s *Service) publish(kind stream.EventType, appt Appointment) {
	s.events.Publish(stream.AppointmentEvent{
		Type:          kind,
		AppointmentID: appt.ID,
		DoctorID:      appt.DoctorID,
		PatientID:     appt.PatientID,
		At:            s.now().UTC(),
	})
}

func (s *Service) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(fields, "; "))
	}
	return fmt.Errorf("%w: %v", ErrInvalidInput, err)
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type discard struct{}

func (discard) Publish(stream.AppointmentEvent) {}
