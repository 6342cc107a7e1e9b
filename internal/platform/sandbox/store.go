package sandbox

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/medibridge/clinic/internal/domain/identity"
	"github.com/medibridge/clinic/internal/domain/patient"
	"github.com/medibridge/clinic/pkg/pagination"
)

var (
	ErrNotFound           = errors.New("sandbox: patient not found")
	ErrDuplicateEmail     = errors.New("sandbox: duplicate patient email")
	ErrInvalidDate        = errors.New("sandbox: invalid date of birth")
	ErrInvalidCredentials = errors.New("sandbox: invalid credentials")
)

type account struct {
	identity.Identity
	hash []byte
}

// Store keeps staff accounts and patient records in memory.
type Store struct {
	mu       sync.RWMutex
	users    map[string]account
	patients map[uint]*patient.Patient
	nextID   uint

	// Cost is the bcrypt cost used for new accounts.
	Cost int
	// Now overrides the clock, for tests.
	Now func() time.Time
}

func NewStore() *Store {
	return &Store{
		users:    make(map[string]account),
		patients: make(map[uint]*patient.Patient),
		Cost:     bcrypt.DefaultCost,
	}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Reset removes every account and record.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = make(map[string]account)
	s.patients = make(map[uint]*patient.Patient)
	s.nextID = 0
}

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

// AddUser stores u with a bcrypt hash of password, replacing any account with
// the same email.
func (s *Store) AddUser(u identity.Identity, password string) error {
	if !u.Valid() {
		return fmt.Errorf("invalid user %q", u.Email)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.Cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[emailKey(u.Email)] = account{Identity: u, hash: hash}
	return nil
}

// Authenticate checks an email and password pair.
func (s *Store) Authenticate(email, password string) (identity.Identity, error) {
	s.mu.RLock()
	a, ok := s.users[emailKey(email)]
	s.mu.RUnlock()
	if !ok {
		return identity.Identity{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(password)); err != nil {
		return identity.Identity{}, ErrInvalidCredentials
	}
	return a.Identity, nil
}

// User looks an account up by ID.
func (s *Store) User(id uint) (identity.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.users {
		if a.ID == id {
			return a.Identity, true
		}
	}
	return identity.Identity{}, false
}

// ---------------------------------------------------------------------------
// Patients
// ---------------------------------------------------------------------------

func (s *Store) emailTaken(email string, except uint) bool {
	key := emailKey(email)
	for id, p := range s.patients {
		if id != except && emailKey(p.Email) == key {
			return true
		}
	}
	return false
}

func matches(p *patient.Patient, search string) bool {
	if search == "" {
		return true
	}
	q := strings.ToLower(search)
	return strings.Contains(strings.ToLower(p.FirstName), q) ||
		strings.Contains(strings.ToLower(p.LastName), q) ||
		strings.Contains(strings.ToLower(p.Email), q)
}

// List returns one page of records ordered by ID, plus the number of records
// matching the search.
func (s *Store) List(p pagination.Params) ([]patient.Patient, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]patient.Patient, 0, len(s.patients))
	for _, rec := range s.patients {
		if matches(rec, p.Search) {
			hits = append(hits, *rec)
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].ID < hits[j].ID })

	start, end := p.Slice(len(hits))
	return hits[start:end], len(hits)
}

// Get returns a copy of one record.
func (s *Store) Get(id uint) (patient.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.patients[id]
	if !ok {
		return patient.Patient{}, ErrNotFound
	}
	return *rec, nil
}

// Create stores a new record attributed to by.
func (s *Store) Create(in patient.NewPatient, by uint) (patient.Patient, error) {
	if _, err := time.Parse(patient.DateLayout, in.DateOfBirth); err != nil {
		return patient.Patient{}, ErrInvalidDate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.emailTaken(in.Email, 0) {
		return patient.Patient{}, ErrDuplicateEmail
	}
	s.nextID++
	now := s.now()
	rec := &patient.Patient{
		ID:               s.nextID,
		FirstName:        in.FirstName,
		LastName:         in.LastName,
		Email:            in.Email,
		Phone:            in.Phone,
		DateOfBirth:      patient.Date(in.DateOfBirth),
		Gender:           in.Gender,
		Address:          in.Address,
		EmergencyContact: in.EmergencyContact,
		EmergencyPhone:   in.EmergencyPhone,
		BloodGroup:       in.BloodGroup,
		Allergies:        in.Allergies,
		CreatedAt:        now,
		UpdatedAt:        now,
		CreatedBy:        by,
		UpdatedBy:        by,
	}
	s.patients[rec.ID] = rec
	return *rec, nil
}

func set(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Update applies the non-empty fields of d and n to a record.
func (s *Store) Update(id uint, d patient.Demographics, n patient.ClinicalNotes, by uint) (patient.Patient, error) {
	if d.DateOfBirth != "" {
		if _, err := time.Parse(patient.DateLayout, d.DateOfBirth); err != nil {
			return patient.Patient{}, ErrInvalidDate
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.patients[id]
	if !ok {
		return patient.Patient{}, ErrNotFound
	}
	if d.Email != "" && s.emailTaken(d.Email, id) {
		return patient.Patient{}, ErrDuplicateEmail
	}

	set(&rec.FirstName, d.FirstName)
	set(&rec.LastName, d.LastName)
	set(&rec.Email, d.Email)
	set(&rec.Phone, d.Phone)
	if d.DateOfBirth != "" {
		rec.DateOfBirth = patient.Date(d.DateOfBirth)
	}
	set(&rec.Gender, d.Gender)
	set(&rec.Address, d.Address)
	set(&rec.EmergencyContact, d.EmergencyContact)
	set(&rec.EmergencyPhone, d.EmergencyPhone)
	set(&rec.BloodGroup, d.BloodGroup)
	set(&rec.Allergies, d.Allergies)
	set(&rec.Diagnosis, n.Diagnosis)
	set(&rec.Notes, n.Notes)

	rec.UpdatedAt = s.now()
	rec.UpdatedBy = by
	return *rec, nil
}

// Delete removes a record.
func (s *Store) Delete(id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.patients[id]; !ok {
		return ErrNotFound
	}
	delete(s.patients, id)
	return nil
}

// Len is the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.patients)
}
