package hospital

import "context"

// Store persists hospital records. Missing rows are reported as ErrNotFound
// and uniqueness violations as ErrConflict.
type Store interface {
	GetPatient(ctx context.Context, id int64) (Patient, error)
	ListPatients(ctx context.Context, page Page) ([]Patient, error)
	// AssignInsurance stores ins and links it to the patient, replacing any
	// previous policy.
	AssignInsurance(ctx context.Context, patientID int64, ins *Insurance) error
	RemoveInsurance(ctx context.Context, patientID int64) error

	GetDoctor(ctx context.Context, id int64) (Doctor, error)
	ListDoctors(ctx context.Context) ([]Doctor, error)
	// OnboardDoctor creates the doctor record for an existing account and
	// grants it the DOCTOR role in one transaction.
	OnboardDoctor(ctx context.Context, doc *Doctor) error

	CreateDepartment(ctx context.Context, dep *Department) error
	ListDepartments(ctx context.Context) ([]Department, error)
	AddDoctorToDepartment(ctx context.Context, departmentID, doctorID int64) error

	CreateAppointment(ctx context.Context, appt *Appointment) error
	GetAppointment(ctx context.Context, id int64) (Appointment, error)
	UpdateAppointmentDoctor(ctx context.Context, id, doctorID int64) error
	DeleteAppointment(ctx context.Context, id int64) error
	ListAppointmentsByDoctor(ctx context.Context, doctorID int64) ([]Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID int64) ([]Appointment, error)
}
