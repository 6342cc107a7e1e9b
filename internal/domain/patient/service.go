package patient

import (
	"context"
	"fmt"
	"net/http"

	"github.com/medibridge/clinic/internal/domain/identity"
	"github.com/medibridge/clinic/internal/platform/apiclient"
	"github.com/medibridge/clinic/pkg/pagination"
)

// Doer performs one API call. apiclient.Client satisfies it.
type Doer interface {
	Do(ctx context.Context, req apiclient.Request, out any) error
}

// Service maps record operations onto the REST surface. Each method issues
// exactly one request; nothing is cached or retried. Server failures are
// returned as *apiclient.Error.
type Service struct {
	api Doer
}

func NewService(api Doer) *Service {
	return &Service{api: api}
}

func collection(role identity.Role) string {
	return "/" + string(role) + "/patients"
}

func item(role identity.Role, id uint) string {
	return fmt.Sprintf("%s/%d", collection(role), id)
}

func checkRole(role identity.Role) error {
	if !role.Valid() {
		return newValidationError("role", fmt.Sprintf("unknown role %q", role))
	}
	return nil
}

func checkID(id uint) error {
	if id == 0 {
		return newValidationError("id", "Invalid patient ID")
	}
	return nil
}

// List fetches one page of records through the role's collection.
func (s *Service) List(ctx context.Context, role identity.Role, p ListParams) (*Listing, error) {
	if err := checkRole(role); err != nil {
		return nil, err
	}
	if p.Page <= 0 {
		return nil, newValidationError("page", "Page must be a positive number")
	}
	if p.Limit <= 0 {
		return nil, newValidationError("limit", "Limit must be a positive number")
	}

	var wire listingWire
	if err := s.api.Do(ctx, apiclient.Request{
		Method: http.MethodGet,
		Path:   collection(role),
		Query:  p.Values(),
	}, &wire); err != nil {
		return nil, err
	}

	meta := wire.Pagination
	if meta.Page <= 0 {
		meta.Page = p.Page
	}
	if meta.Limit <= 0 {
		meta.Limit = p.Limit
	}
	if meta.TotalPages <= 0 {
		meta.TotalPages = pagination.TotalPages(meta.Total, meta.Limit)
	}
	items := wire.Data
	if items == nil {
		items = []Patient{}
	}
	return &Listing{
		Items:      items,
		Total:      meta.Total,
		Page:       meta.Page,
		Limit:      meta.Limit,
		TotalPages: meta.TotalPages,
	}, nil
}

// Get fetches a single record.
func (s *Service) Get(ctx context.Context, role identity.Role, id uint) (*Patient, error) {
	if err := checkRole(role); err != nil {
		return nil, err
	}
	if err := checkID(id); err != nil {
		return nil, err
	}
	var p Patient
	if err := s.api.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: item(role, id)}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Create registers a new record. Input is validated before anything is sent.
func (s *Service) Create(ctx context.Context, in NewPatient) (*Patient, error) {
	if err := Validate(in); err != nil {
		return nil, err
	}
	var p Patient
	if err := s.api.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   collection(identity.RoleReceptionist),
		Body:   in,
	}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateDemographics sends the provided demographic fields. Clinical fields
// are never part of this request.
func (s *Service) UpdateDemographics(ctx context.Context, id uint, d Demographics) (*Patient, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	if d.Empty() {
		return nil, newValidationError("fields", "Nothing to update")
	}
	if err := Validate(d); err != nil {
		return nil, err
	}
	var p Patient
	if err := s.api.Do(ctx, apiclient.Request{
		Method: http.MethodPut,
		Path:   item(identity.RoleReceptionist, id),
		Body:   d,
	}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateClinicalNotes sends diagnosis and notes only.
func (s *Service) UpdateClinicalNotes(ctx context.Context, id uint, n ClinicalNotes) (*Patient, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	var p Patient
	if err := s.api.Do(ctx, apiclient.Request{
		Method: http.MethodPatch,
		Path:   item(identity.RoleDoctor, id),
		Body:   n,
	}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Delete removes a record. Any 2xx response counts as success.
func (s *Service) Delete(ctx context.Context, id uint) error {
	if err := checkID(id); err != nil {
		return err
	}
	return s.api.Do(ctx, apiclient.Request{
		Method: http.MethodDelete,
		Path:   item(identity.RoleReceptionist, id),
	}, nil)
}
