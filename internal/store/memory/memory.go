// Package memory is an in-process store used for local runs and tests. It
// enforces the same uniqueness rules as the PostgreSQL schema.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"hospital.org/internal/auth"
	"hospital.org/internal/hospital"
)

var (
	_ auth.AccountStore = (*Store)(nil)
	_ hospital.Store    = (*Store)(nil)
)

type providerKey struct {
	id       string
	provider auth.ProviderType
}

// Store implements auth.AccountStore and hospital.Store with in-process concurrency safety.
type Store struct {
	mu sync.RWMutex

	nextID       int64
	accounts     map[int64]*auth.Account
	byUsername   map[string]int64
	byProvider   map[providerKey]int64
	patients     map[int64]*hospital.Patient
	doctors      map[int64]*hospital.Doctor
	departments  map[int64]*hospital.Department
	insurances   map[int64]*hospital.Insurance
	policies     map[string]int64
	appointments map[int64]*hospital.Appointment

	now func() time.Time
}

func New() *Store {
	return &Store{
		accounts:     make(map[int64]*auth.Account),
		byUsername:   make(map[string]int64),
		byProvider:   make(map[providerKey]int64),
		patients:     make(map[int64]*hospital.Patient),
		doctors:      make(map[int64]*hospital.Doctor),
		departments:  make(map[int64]*hospital.Department),
		insurances:   make(map[int64]*hospital.Insurance),
		policies:     make(map[string]int64),
		appointments: make(map[int64]*hospital.Appointment),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// Accounts -----------------------------------------------------------------

func copyAccount(a *auth.Account) auth.Account {
	out := *a
	out.Roles = slices.Clone(a.Roles)
	return out
}

func (s *Store) FindByID(_ context.Context, id int64) (auth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return auth.Account{}, auth.ErrNotFound
	}
	return copyAccount(a), nil
}

func (s *Store) FindByUsername(_ context.Context, username string) (auth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUsername[username]
	if !ok {
		return auth.Account{}, auth.ErrNotFound
	}
	return copyAccount(s.accounts[id]), nil
}

func (s *Store) FindByProvider(_ context.Context, providerID string, provider auth.ProviderType) (auth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byProvider[providerKey{providerID, provider}]
	if !ok {
		return auth.Account{}, auth.ErrNotFound
	}
	return copyAccount(s.accounts[id]), nil
}

func (s *Store) UpdateUsername(_ context.Context, id int64, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return auth.ErrNotFound
	}
	if owner, taken := s.byUsername[username]; taken && owner != id {
		return auth.ErrConflict
	}
	delete(s.byUsername, a.Username)
	a.Username = username
	s.byUsername[username] = id
	return nil
}

// CreateWithPatient inserts the account and its patient profile atomically.
func (s *Store) CreateWithPatient(_ context.Context, acct *auth.Account, profile auth.PatientProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byUsername[acct.Username]; taken {
		return auth.ErrConflict
	}
	key := providerKey{acct.ProviderID, acct.ProviderType}
	if acct.ProviderID != "" {
		if _, taken := s.byProvider[key]; taken {
			return auth.ErrConflict
		}
	}

	now := s.now()
	acct.ID = s.id()
	acct.CreatedAt = now
	stored := copyAccount(acct)
	s.accounts[acct.ID] = &stored
	s.byUsername[acct.Username] = acct.ID
	if acct.ProviderID != "" {
		s.byProvider[key] = acct.ID
	}
	s.patients[acct.ID] = &hospital.Patient{
		ID:        acct.ID,
		Name:      profile.Name,
		Email:     profile.Email,
		CreatedAt: now,
	}
	return nil
}

func (s *Store) AddRole(_ context.Context, id int64, role auth.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addRoleLocked(id, role)
}

func (s *Store) addRoleLocked(id int64, role auth.Role) error {
	a, ok := s.accounts[id]
	if !ok {
		return auth.ErrNotFound
	}
	if !slices.Contains(a.Roles, role) {
		a.Roles = append(a.Roles, role)
	}
	return nil
}

// Patients -----------------------------------------------------------------

func copyPatient(p *hospital.Patient) hospital.Patient {
	out := *p
	if p.InsuranceID != nil {
		id := *p.InsuranceID
		out.InsuranceID = &id
	}
	if p.BirthDate != nil {
		d := *p.BirthDate
		out.BirthDate = &d
	}
	return out
}

func (s *Store) GetPatient(_ context.Context, id int64) (hospital.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[id]
	if !ok {
		return hospital.Patient{}, hospital.ErrNotFound
	}
	return copyPatient(p), nil
}

func (s *Store) ListPatients(_ context.Context, page hospital.Page) ([]hospital.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := sortedKeys(s.patients)
	page = page.Normalize()
	start := min(page.Offset(), len(ids))
	end := min(start+page.Size, len(ids))
	out := make([]hospital.Patient, 0, end-start)
	for _, id := range ids[start:end] {
		out = append(out, copyPatient(s.patients[id]))
	}
	return out, nil
}

func (s *Store) AssignInsurance(_ context.Context, patientID int64, ins *hospital.Insurance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[patientID]
	if !ok {
		return hospital.ErrNotFound
	}
	if _, taken := s.policies[ins.PolicyNumber]; taken {
		return hospital.ErrConflict
	}
	if p.InsuranceID != nil {
		s.dropInsuranceLocked(*p.InsuranceID)
	}
	ins.ID = s.id()
	ins.CreatedAt = s.now()
	stored := *ins
	s.insurances[ins.ID] = &stored
	s.policies[ins.PolicyNumber] = ins.ID
	id := ins.ID
	p.InsuranceID = &id
	return nil
}

func (s *Store) RemoveInsurance(_ context.Context, patientID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[patientID]
	if !ok || p.InsuranceID == nil {
		return hospital.ErrNotFound
	}
	s.dropInsuranceLocked(*p.InsuranceID)
	p.InsuranceID = nil
	return nil
}

func (s *Store) dropInsuranceLocked(id int64) {
	if ins, ok := s.insurances[id]; ok {
		delete(s.policies, ins.PolicyNumber)
		delete(s.insurances, id)
	}
}

// Doctors ------------------------------------------------------------------

func (s *Store) GetDoctor(_ context.Context, id int64) (hospital.Doctor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.doctors[id]
	if !ok {
		return hospital.Doctor{}, hospital.ErrNotFound
	}
	return *d, nil
}

func (s *Store) ListDoctors(_ context.Context) ([]hospital.Doctor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]hospital.Doctor, 0, len(s.doctors))
	for _, id := range sortedKeys(s.doctors) {
		out = append(out, *s.doctors[id])
	}
	return out, nil
}

func (s *Store) OnboardDoctor(_ context.Context, doc *hospital.Doctor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[doc.ID]
	if !ok {
		return hospital.ErrNotFound
	}
	if _, exists := s.doctors[doc.ID]; exists {
		return hospital.ErrConflict
	}
	if doc.Email == "" {
		doc.Email = a.Username
	}
	stored := *doc
	s.doctors[doc.ID] = &stored
	return s.addRoleLocked(doc.ID, auth.RoleDoctor)
}

// Departments --------------------------------------------------------------

func copyDepartment(d *hospital.Department) hospital.Department {
	out := *d
	out.DoctorIDs = slices.Clone(d.DoctorIDs)
	if out.DoctorIDs == nil {
		out.DoctorIDs = []int64{}
	}
	return out
}

func (s *Store) CreateDepartment(_ context.Context, dep *hospital.Department) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.departments {
		if d.Name == dep.Name {
			return hospital.ErrConflict
		}
	}
	dep.ID = s.id()
	stored := copyDepartment(dep)
	s.departments[dep.ID] = &stored
	return nil
}

func (s *Store) ListDepartments(_ context.Context) ([]hospital.Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]hospital.Department, 0, len(s.departments))
	for _, id := range sortedKeys(s.departments) {
		out = append(out, copyDepartment(s.departments[id]))
	}
	return out, nil
}

func (s *Store) AddDoctorToDepartment(_ context.Context, departmentID, doctorID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.departments[departmentID]
	if !ok {
		return hospital.ErrNotFound
	}
	if _, ok := s.doctors[doctorID]; !ok {
		return hospital.ErrNotFound
	}
	if slices.Contains(d.DoctorIDs, doctorID) {
		return hospital.ErrConflict
	}
	d.DoctorIDs = append(d.DoctorIDs, doctorID)
	return nil
}

// Appointments -------------------------------------------------------------

func (s *Store) CreateAppointment(_ context.Context, appt *hospital.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.patients[appt.PatientID]; !ok {
		return hospital.ErrNotFound
	}
	if _, ok := s.doctors[appt.DoctorID]; !ok {
		return hospital.ErrNotFound
	}
	appt.ID = s.id()
	stored := *appt
	s.appointments[appt.ID] = &stored
	return nil
}

func (s *Store) GetAppointment(_ context.Context, id int64) (hospital.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.appointments[id]
	if !ok {
		return hospital.Appointment{}, hospital.ErrNotFound
	}
	return *a, nil
}

func (s *Store) UpdateAppointmentDoctor(_ context.Context, id, doctorID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[id]
	if !ok {
		return hospital.ErrNotFound
	}
	if _, ok := s.doctors[doctorID]; !ok {
		return hospital.ErrNotFound
	}
	a.DoctorID = doctorID
	return nil
}

func (s *Store) DeleteAppointment(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.appointments[id]; !ok {
		return hospital.ErrNotFound
	}
	delete(s.appointments, id)
	return nil
}

func (s *Store) ListAppointmentsByDoctor(_ context.Context, doctorID int64) ([]hospital.Appointment, error) {
	return s.listAppointments(func(a *hospital.Appointment) bool { return a.DoctorID == doctorID }), nil
}

func (s *Store) ListAppointmentsByPatient(_ context.Context, patientID int64) ([]hospital.Appointment, error) {
	return s.listAppointments(func(a *hospital.Appointment) bool { return a.PatientID == patientID }), nil
}

func (s *Store) listAppointments(keep func(*hospital.Appointment) bool) []hospital.Appointment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []hospital.Appointment{}
	for _, a := range s.appointments {
		if keep(a) {
			out = append(out, *a)
		}
	}
	slices.SortFunc(out, func(a, b hospital.Appointment) int {
		if c := a.AppointmentTime.Compare(b.AppointmentTime); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
