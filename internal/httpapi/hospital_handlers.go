package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"hospital.org/internal/auth"
	"hospital.org/internal/hospital"
)

func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", hospital.ErrInvalidInput, name)
	}
	return id, nil
}

func intQuery(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", hospital.ErrInvalidInput, name)
	}
	return v, nil
}

// decodeRequest decodes the body and reports failures as invalid input.
func (a *API) decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(r, dst); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// Public ---------------------------------------------------------------------

func (a *API) handleListDoctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := a.deps.Hospital.ListDoctors(r.Context())
	if err != nil {
		writeDomainError(w, r, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, doctors)
}

// Patients -------------------------------------------------------------------

func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	p, err := a.deps.Hospital.Profile(r.Context())
	if err != nil {
		writeDomainError(w, r, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handlePatientAppointments(w http.ResponseWriter, r *http.Request) {
	list, err := a.deps.Hospital.PatientAppointments(r.Context())
	if err != nil {
		writeDomainError(w, r, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleCreateAppointment(w http.ResponseWriter, r *http.Request) {
	var req hospital.CreateAppointmentRequest
	if !a.decodeRequest(w, r, &req) {
		return
	}
	appt, err := a.deps.Hospital.CreateAppointment(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, a.log, err)
		return
	}
	_ = a.deps.Audit.Event(r.Context(), "appointment.created", map[string]any{
		"appointment_id": appt.ID,
		"doctor_id":      appt.DoctorID,
		"patient_id":     appt.PatientID,
	})
	writeJSON(w, http.StatusCreated, appt)
}

// Doctors --------------------------------------------------------------------

func (a *API) handleOwnAppointments(w http.ResponseWriter, r *http.Request) {
	sc, ok := auth.SecurityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	a.doctorAppointments(w, r, sc.AccountID())
}

func (a *API) handleDoctorAppointments(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "doctorID")
	if err != nil {
		writeDomainError(w, r, a.log, err)
		return
	}
	a.doctorAppointments(w, r, id)
}

func (a *API) doctorAppointments(w http.ResponseWriter, r *http.Request, doctorID int64) {
	list, err := a.deps.Hospital.DoctorAppointments(r.Context(), doctorID)
	if err != nil {
		writeDomainError(w, r, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Admin ----------------------------------------------------------------------

func (a *API) handleListPatients(w http.ResponseWriter, r *http.Request) {
	number, err := intQuery(r, "page", 0)
	if err != nil {
		writeDomainError(w, r, a.log, err)
		return
	}
	size, err := intQuery(r, "size", hospital.DefaultPageSize)
	if err != nil {
		writeDomainError(w, r, a.log, err)
		return
	}
	patients, err := a.deps.Hospital.ListPatients(r.Context(), hospital.Page{Number: number, Size: size})
	if err != nil {
		writeDomainError(w, r, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, patients)
}

func (a *API) handleGetPatient(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "patientID")
	if err != nil {
		writeDomainError(w, r, a.log, err)
		return
	}
	p, err := a.deps.Hospital.GetPatient(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleAssignInsurance(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "patientID")
	if err != nil {
		writeDomainError(w, r, a.log, err)
		return
	}
	var req hospital.InsuranceRequest
	if !a.decodeRequest(w, r, &req) {
		return
	}
	p, err := a.deps.Hospital.AssignInsurance(r.Context(), id, req)
	if err != nil {
		writeDomainError(w, r, a.log, err)
		return
	}
	_ = a.deps.Audit.Event(r.Context(), "insurance.assigned", map[string]any{"patient_id": id})
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleRemoveInsurance(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "patientID")
	if err != nil {
		writeDomainError(w, r, a.log, err)
		return
	}
	p, err := a.deps.Hospital.RemoveInsurance(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, a.log, err)
		return
	}
	_ = a.deps.Audit.Event(r.Context(), "insurance.removed", map[string]any{"patient_id": id})
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleOnboardDoctor(w http.ResponseWriter, r *http.Request) {
	var req hospital.OnboardDoctorRequest
	if !a.decodeRequest(w, r, &req) {
		return
	}
	doc, err := a.deps.Hospital.OnboardDoctor(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, a.log, err)
		return
	}
	_ = a.deps.Audit.Event(r.Context(), "doctor.onboarded", map[string]any{"doctor_id": doc.ID})
	writeJSON(w, http.StatusCreated, doc)
}

func (a *API) handleListDepartments(w http.ResponseWriter, r *http.Request) {
	deps, err := a.deps.Hospital.ListDepartments(r.Context())
	if err != nil {
		writeDomainError(w, r, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, deps)
}

func (a *API) handleCreateDepartment(w http.ResponseWriter, r *http.Request) {
	var req hospital.CreateDepartmentRequest
	if !a.decodeRequest(w, r, &req) {
		return
	}
	dep, err := a.deps.Hospital.CreateDepartment(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, a.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, dep)
}

type addDoctorRequest struct {
	DoctorID int64 `json:"doctor_id"`
}

func (a *API) handleAddDoctorToDepartment(w http.ResponseWriter, r *http.Request) {
	depID, err := idParam(r, "departmentID")
	if err != nil {
		writeDomainError(w, r, a.log, err)
		return
	}
	var req addDoctorRequest
	if !a.decodeRequest(w, r, &req) {
		return
	}
	if err := a.deps.Hospital.AddDoctorToDepartment(r.Context(), depID, req.DoctorID); err != nil {
		writeDomainError(w, r, a.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reassignRequest struct {
	DoctorID int64 `json:"doctor_id"`
}

func (a *API) handleReassignAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "appointmentID")
	if err != nil {
		writeDomainError(w, r, a.log, err)
		return
	}
	var req reassignRequest
	if !a.decodeRequest(w, r, &req) {
		return
	}
	appt, err := a.deps.Hospital.ReassignAppointment(r.Context(), id, req.DoctorID)
	if err != nil {
		writeDomainError(w, r, a.log, err)
		return
	}
	_ = a.deps.Audit.Event(r.Context(), "appointment.reassigned", map[string]any{
		"appointment_id": appt.ID,
		"doctor_id":      appt.DoctorID,
	})
	writeJSON(w, http.StatusOK, appt)
}

func (a *API) handleDeleteAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "appointmentID")
	if err != nil {
		writeDomainError(w, r, a.log, err)
		return
	}
	if err := a.deps.Hospital.DeleteAppointment(r.Context(), id); err != nil {
		writeDomainError(w, r, a.log, err)
		return
	}
	_ = a.deps.Audit.Event(r.Context(), "appointment.deleted", map[string]any{"appointment_id": id})
	w.WriteHeader(http.StatusNoContent)
}
