package pg

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"hospital.org/internal/hospital"
)

type rowScanner interface {
	Scan(dest ...any) error
}

const patientSelect = `
	select id, name, coalesce(email, ''), coalesce(gender, ''), birth_date, coalesce(blood_group, ''), insurance_id, created_at
	from patients
`

func scanPatient(row rowScanner) (hospital.Patient, error) {
	var (
		p         hospital.Patient
		birth     sql.NullTime
		blood     string
		insurance sql.NullInt64
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Email, &p.Gender, &birth, &blood, &insurance, &p.CreatedAt); err != nil {
		return hospital.Patient{}, err
	}
	if birth.Valid {
		t := birth.Time
		p.BirthDate = &t
	}
	p.BloodGroup = hospital.BloodGroup(blood)
	if insurance.Valid {
		id := insurance.Int64
		p.InsuranceID = &id
	}
	return p, nil
}

func (s *Store) GetPatient(ctx context.Context, id int64) (hospital.Patient, error) {
	p, err := scanPatient(s.db.QueryRowContext(ctx, patientSelect+`where id = $1`, id))
	return p, hospitalErr(err)
}

func (s *Store) ListPatients(ctx context.Context, page hospital.Page) ([]hospital.Patient, error) {
	page = page.Normalize()
	rows, err := s.db.QueryContext(ctx, patientSelect+`order by id limit $1 offset $2`, page.Size, page.Offset())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []hospital.Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// lockInsurance locks the patient row and returns its current insurance id.
func lockInsurance(ctx context.Context, tx *sql.Tx, patientID int64) (sql.NullInt64, error) {
	var current sql.NullInt64
	err := tx.QueryRowContext(ctx, `select insurance_id from patients where id = $1 for update`, patientID).Scan(&current)
	return current, hospitalErr(err)
}

func (s *Store) AssignInsurance(ctx context.Context, patientID int64, ins *hospital.Insurance) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	previous, err := lockInsurance(ctx, tx, patientID)
	if err != nil {
		return err
	}
	if err := tx.QueryRowContext(ctx, `
		insert into insurances (policy_number, provider, valid_until)
		values ($1, $2, $3)
		returning id, created_at
	`, ins.PolicyNumber, ins.Provider, ins.ValidUntil).Scan(&ins.ID, &ins.CreatedAt); err != nil {
		return hospitalErr(err)
	}
	if _, err := tx.ExecContext(ctx, `update patients set insurance_id = $2 where id = $1`, patientID, ins.ID); err != nil {
		return hospitalErr(err)
	}
	if previous.Valid {
		if _, err := tx.ExecContext(ctx, `delete from insurances where id = $1`, previous.Int64); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) RemoveInsurance(ctx context.Context, patientID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := lockInsurance(ctx, tx, patientID)
	if err != nil {
		return err
	}
	if !current.Valid {
		return hospital.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `update patients set insurance_id = null where id = $1`, patientID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from insurances where id = $1`, current.Int64); err != nil {
		return err
	}
	return tx.Commit()
}

// Doctors ------------------------------------------------------------------

const doctorSelect = `select id, name, specialization, coalesce(email, '') from doctors `

func (s *Store) GetDoctor(ctx context.Context, id int64) (hospital.Doctor, error) {
	var d hospital.Doctor
	err := s.db.QueryRowContext(ctx, doctorSelect+`where id = $1`, id).Scan(&d.ID, &d.Name, &d.Specialization, &d.Email)
	return d, hospitalErr(err)
}

func (s *Store) ListDoctors(ctx context.Context) ([]hospital.Doctor, error) {
	rows, err := s.db.QueryContext(ctx, doctorSelect+`order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []hospital.Doctor{}
	for rows.Next() {
		var d hospital.Doctor
		if err := rows.Scan(&d.ID, &d.Name, &d.Specialization, &d.Email); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// OnboardDoctor inserts the doctor row for an existing account and grants the
// DOCTOR role in the same transaction.
func (s *Store) OnboardDoctor(ctx context.Context, doc *hospital.Doctor) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.QueryRowContext(ctx, `
		insert into doctors (id, name, specialization, email)
		select a.id, $2, $3, a.username from accounts a where a.id = $1
		returning email
	`, doc.ID, doc.Name, doc.Specialization).Scan(&doc.Email); err != nil {
		return hospitalErr(err)
	}
	if _, err := tx.ExecContext(ctx,
		`insert into account_roles (account_id, role) values ($1, 'DOCTOR') on conflict do nothing`,
		doc.ID); err != nil {
		return err
	}
	return tx.Commit()
}

// Departments --------------------------------------------------------------

func (s *Store) CreateDepartment(ctx context.Context, dep *hospital.Department) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var head sql.NullInt64
	if dep.HeadDoctorID != nil {
		head = sql.NullInt64{Int64: *dep.HeadDoctorID, Valid: true}
	}
	if err := tx.QueryRowContext(ctx,
		`insert into departments (name, head_doctor_id) values ($1, $2) returning id`,
		dep.Name, head).Scan(&dep.ID); err != nil {
		return hospitalErr(err)
	}
	for _, doctorID := range dep.DoctorIDs {
		if _, err := tx.ExecContext(ctx,
			`insert into department_doctors (department_id, doctor_id) values ($1, $2)`,
			dep.ID, doctorID); err != nil {
			return hospitalErr(err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListDepartments(ctx context.Context) ([]hospital.Department, error) {
	rows, err := s.db.QueryContext(ctx, `
		select d.id, d.name, d.head_doctor_id,
			coalesce(string_agg(dd.doctor_id::text, ',' order by dd.doctor_id), '')
		from departments d
		left join department_doctors dd on dd.department_id = d.id
		group by d.id, d.name, d.head_doctor_id
		order by d.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []hospital.Department{}
	for rows.Next() {
		var (
			dep     hospital.Department
			head    sql.NullInt64
			members string
		)
		if err := rows.Scan(&dep.ID, &dep.Name, &head, &members); err != nil {
			return nil, err
		}
		if head.Valid {
			id := head.Int64
			dep.HeadDoctorID = &id
		}
		dep.DoctorIDs, err = parseIDs(members)
		if err != nil {
			return nil, err
		}
		out = append(out, dep)
	}
	return out, rows.Err()
}

func parseIDs(csv string) ([]int64, error) {
	out := []int64{}
	if csv == "" {
		return out, nil
	}
	for _, part := range strings.Split(csv, ",") {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func (s *Store) AddDoctorToDepartment(ctx context.Context, departmentID, doctorID int64) error {
	_, err := s.db.ExecContext(ctx,
		`insert into department_doctors (department_id, doctor_id) values ($1, $2)`,
		departmentID, doctorID)
	return hospitalErr(err)
}

// Appointments -------------------------------------------------------------

const appointmentSelect = `select id, appointment_time, coalesce(reason, ''), patient_id, doctor_id from appointments `

func scanAppointment(row rowScanner) (hospital.Appointment, error) {
	var a hospital.Appointment
	err := row.Scan(&a.ID, &a.AppointmentTime, &a.Reason, &a.PatientID, &a.DoctorID)
	return a, err
}

func (s *Store) CreateAppointment(ctx context.Context, appt *hospital.Appointment) error {
	err := s.db.QueryRowContext(ctx, `
		insert into appointments (appointment_time, reason, patient_id, doctor_id)
		values ($1, $2, $3, $4)
		returning id
	`, appt.AppointmentTime, appt.Reason, appt.PatientID, appt.DoctorID).Scan(&appt.ID)
	return hospitalErr(err)
}

func (s *Store) GetAppointment(ctx context.Context, id int64) (hospital.Appointment, error) {
	a, err := scanAppointment(s.db.QueryRowContext(ctx, appointmentSelect+`where id = $1`, id))
	return a, hospitalErr(err)
}

func (s *Store) UpdateAppointmentDoctor(ctx context.Context, id, doctorID int64) error {
	res, err := s.db.ExecContext(ctx, `update appointments set doctor_id = $2 where id = $1`, id, doctorID)
	if err != nil {
		return hospitalErr(err)
	}
	return requireAffected(res, hospital.ErrNotFound)
}

func (s *Store) DeleteAppointment(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `delete from appointments where id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, hospital.ErrNotFound)
}

func (s *Store) ListAppointmentsByDoctor(ctx context.Context, doctorID int64) ([]hospital.Appointment, error) {
	return s.listAppointments(ctx, appointmentSelect+`where doctor_id = $1 order by appointment_time, id`, doctorID)
}

func (s *Store) ListAppointmentsByPatient(ctx context.Context, patientID int64) ([]hospital.Appointment, error) {
	return s.listAppointments(ctx, appointmentSelect+`where patient_id = $1 order by appointment_time, id`, patientID)
}

func (s *Store) listAppointments(ctx context.Context, query string, arg int64) ([]hospital.Appointment, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []hospital.Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
