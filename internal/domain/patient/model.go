package patient

import (
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/medibridge/clinic/pkg/pagination"
)

// DateLayout is the wire format of dateOfBirth.
const DateLayout = "2006-01-02"

// Genders accepted by the API.
var Genders = []string{"male", "female", "other"}

// BloodGroups offered by the record forms.
var BloodGroups = []string{"A+", "A-", "B+", "B-", "AB+", "AB-", "O+", "O-"}

// Date is a calendar date. It decodes from either YYYY-MM-DD or an RFC 3339
// timestamp and always encodes as YYYY-MM-DD.
type Date string

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*d = Date(normalizeDate(s))
	return nil
}

func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC().Format(DateLayout)
	}
	if len(s) >= len(DateLayout) {
		if t, err := time.Parse(DateLayout, s[:len(DateLayout)]); err == nil {
			return t.Format(DateLayout)
		}
	}
	return s
}

func (d Date) String() string { return string(d) }

// Age returns the age in whole years on the given day, or -1 when the date
// is unparseable.
func (d Date) Age(on time.Time) int {
	born, err := time.Parse(DateLayout, string(d))
	if err != nil {
		return -1
	}
	age := on.Year() - born.Year()
	if on.Month() < born.Month() || (on.Month() == born.Month() && on.Day() < born.Day()) {
		age--
	}
	return age
}

// Patient is a record as returned by the API.
type Patient struct {
	ID               uint      `json:"id"`
	FirstName        string    `json:"firstName"`
	LastName         string    `json:"lastName"`
	Email            string    `json:"email"`
	Phone            string    `json:"phone"`
	DateOfBirth      Date      `json:"dateOfBirth"`
	Gender           string    `json:"gender"`
	Address          string    `json:"address"`
	EmergencyContact string    `json:"emergencyContact"`
	EmergencyPhone   string    `json:"emergencyPhone"`
	BloodGroup       string    `json:"bloodGroup,omitempty"`
	Allergies        string    `json:"allergies,omitempty"`
	Diagnosis        string    `json:"diagnosis,omitempty"`
	Notes            string    `json:"notes,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
	CreatedBy        uint      `json:"createdBy"`
	UpdatedBy        uint      `json:"updatedBy"`
}

// FullName is "First Last".
func (p Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Demographics returns the demographic part of the record, the starting point
// of an edit form.
func (p Patient) Demographics() Demographics {
	return Demographics{
		FirstName:        p.FirstName,
		LastName:         p.LastName,
		Email:            p.Email,
		Phone:            p.Phone,
		DateOfBirth:      p.DateOfBirth.String(),
		Gender:           p.Gender,
		Address:          p.Address,
		EmergencyContact: p.EmergencyContact,
		EmergencyPhone:   p.EmergencyPhone,
		BloodGroup:       p.BloodGroup,
		Allergies:        p.Allergies,
	}
}

// NewPatient holds the fields of a record to create. Identifiers and audit
// fields are assigned by the server.
type NewPatient struct {
	FirstName        string `json:"firstName" form:"firstName" validate:"required"`
	LastName         string `json:"lastName" form:"lastName" validate:"required"`
	Email            string `json:"email" form:"email" validate:"required,email"`
	Phone            string `json:"phone" form:"phone" validate:"required"`
	DateOfBirth      string `json:"dateOfBirth" form:"dateOfBirth" validate:"required,datetime=2006-01-02"`
	Gender           string `json:"gender" form:"gender" validate:"required,oneof=male female other"`
	Address          string `json:"address" form:"address" validate:"required"`
	EmergencyContact string `json:"emergencyContact" form:"emergencyContact" validate:"required"`
	EmergencyPhone   string `json:"emergencyPhone" form:"emergencyPhone" validate:"required"`
	BloodGroup       string `json:"bloodGroup,omitempty" form:"bloodGroup" validate:"omitempty,oneof=A+ A- B+ B- AB+ AB- O+ O-"`
	Allergies        string `json:"allergies,omitempty" form:"allergies"`
}

// Demographics is a receptionist update. Empty fields are not sent and leave
// the stored value untouched.
type Demographics struct {
	FirstName        string `json:"firstName,omitempty" form:"firstName"`
	LastName         string `json:"lastName,omitempty" form:"lastName"`
	Email            string `json:"email,omitempty" form:"email" validate:"omitempty,email"`
	Phone            string `json:"phone,omitempty" form:"phone"`
	DateOfBirth      string `json:"dateOfBirth,omitempty" form:"dateOfBirth" validate:"omitempty,datetime=2006-01-02"`
	Gender           string `json:"gender,omitempty" form:"gender" validate:"omitempty,oneof=male female other"`
	Address          string `json:"address,omitempty" form:"address"`
	EmergencyContact string `json:"emergencyContact,omitempty" form:"emergencyContact"`
	EmergencyPhone   string `json:"emergencyPhone,omitempty" form:"emergencyPhone"`
	BloodGroup       string `json:"bloodGroup,omitempty" form:"bloodGroup" validate:"omitempty,oneof=A+ A- B+ B- AB+ AB- O+ O-"`
	Allergies        string `json:"allergies,omitempty" form:"allergies"`
}

// Empty reports whether no field is provided.
func (d Demographics) Empty() bool {
	return d == Demographics{}
}

// ClinicalNotes is a doctor update. It carries nothing else.
type ClinicalNotes struct {
	Diagnosis string `json:"diagnosis" form:"diagnosis"`
	Notes     string `json:"notes" form:"notes"`
}

// ListParams selects a page of the listing.
type ListParams = pagination.Params

// Listing is one page of records.
type Listing struct {
	Items      []Patient
	Total      int
	Page       int
	Limit      int
	TotalPages int
}

// Meta returns the pagination block of the listing.
func (l Listing) Meta() pagination.Meta {
	return pagination.Meta{Total: l.Total, Page: l.Page, Limit: l.Limit, TotalPages: l.TotalPages}
}

type listingWire struct {
	Data       []Patient       `json:"data"`
	Pagination pagination.Meta `json:"pagination"`
}
