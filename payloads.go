package users

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/goliatone/go-errors"
)

var roleRule = validation.In(RoleTenant, RoleLandlord, RoleAdmin).Error("must be one of tenant, landlord, admin")

// CreateUserPayload is the body of POST /users/
type CreateUserPayload struct {
	ExternalID string  `json:"cognito_id"`
	Name       string  `json:"name"`
	Email      string  `json:"email"`
	Role       *string `json:"role"`
}

// Validate will run validation rules
func (p CreateUserPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.ExternalID, validation.Required, validation.Length(1, 255)),
		validation.Field(&p.Name, validation.Required, validation.Length(1, 255)),
		validation.Field(&p.Email, validation.Required, validation.Length(3, 255), is.EmailFormat),
		validation.Field(&p.Role, validation.NilOrNotEmpty, roleRule),
	)
}

// ToUser builds the record to insert
func (p CreateUserPayload) ToUser() *User {
	u := &User{
		ExternalID: p.ExternalID,
		Name:       p.Name,
		Email:      strings.TrimSpace(p.Email),
	}
	if p.Role != nil {
		u.Role = *p.Role
	}
	return u
}

// UpdateProfilePayload is the body of PUT /user/profile/update. An omitted
// role leaves the current one untouched.
type UpdateProfilePayload struct {
	Name  string  `json:"name"`
	Email string  `json:"email"`
	Role  *string `json:"role"`
}

// Validate will run validation rules
func (p UpdateProfilePayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Name, validation.Required, validation.Length(1, 255)),
		validation.Field(&p.Email, validation.Required, validation.Length(3, 255), is.EmailFormat),
		validation.Field(&p.Role, validation.NilOrNotEmpty, roleRule),
	)
}

// Apply copies the payload onto user
func (p UpdateProfilePayload) Apply(user *User) *User {
	out := *user
	out.Name = p.Name
	out.Email = strings.TrimSpace(p.Email)
	if p.Role != nil {
		out.Role = *p.Role
	}
	return &out
}

// NewValidationError wraps an ozzo validation failure, keeping the
// per field messages in the metadata.
func NewValidationError(err error) error {
	richErr := errors.New("Validation failed", errors.CategoryValidation).
		WithTextCode(TextCodeValidationFailed)
	richErr.Source = err

	fields := map[string]any{}
	if verrs, ok := err.(validation.Errors); ok {
		for field, ferr := range verrs {
			fields[field] = ferr.Error()
		}
	} else if err != nil {
		fields["body"] = err.Error()
	}

	return richErr.WithMetadata(map[string]any{"fields": fields})
}

// IsValidationError reports whether err is a payload validation failure
func IsValidationError(err error) bool {
	return hasTextCode(err, TextCodeValidationFailed)
}
