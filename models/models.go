// Package models defines the entity schemas for the identity domain that
// ships with the library. Applications register their own schemas the same
// way; these double as a reference for the builder API.
package models

import (
	"fmt"

	"github.com/vellum/vellum/domain"
)

// Person is an individual identified by name.
var Person = domain.NewSchema("Person").
	Scalar("first_name", domain.TypeString, domain.WithRule("required")).
	Scalar("last_name", domain.TypeString).
	Computed("full_name", domain.TypeString, func(e *domain.Entity) any {
		first, _ := e.Get("first_name")
		last, _ := e.Get("last_name")
		if last == nil || last == "" {
			return fmt.Sprint(first)
		}
		return fmt.Sprintf("%v %v", first, last)
	}).
	TypeChecking().
	MustBuild()

// Organization is a group of people with a shared credit balance. Membership
// lives on PersonOrganizationRole records.
var Organization = domain.NewSchema("Organization").
	Scalar("name", domain.TypeString, domain.WithRule("required")).
	Scalar("code", domain.TypeString).
	Scalar("description", domain.TypeString).
	Scalar("credit_balance", domain.TypeDecimal).
	TypeChecking().
	MustBuild()

// Email is an address attached to a person. The stored column keeps the
// legacy name while the wire key reads naturally.
var Email = domain.NewSchema("Email").
	Ref("person_id", "Person").
	Scalar("email_address", domain.TypeString, domain.WithAlias("email"), domain.WithRule("required,email")).
	Scalar("is_verified", domain.TypeBool).
	Scalar("is_default", domain.TypeBool).
	TypeChecking().
	MustBuild()

// LoginMethod is one way a person signs in. Provider-specific settings live
// in the nested method_data document; unknown provider fields flow into the
// extension bag.
var LoginMethod = domain.NewSchema("LoginMethod").
	Table("login_method").
	Ref("person_id", "Person").
	Ref("email_id", "Email").
	Enum("method_type", []string{"email-password", "google", "github", "saml"}, domain.WithRule("required")).
	Nested("method_data").
	Scalar("password", domain.TypeString).
	AllowExtra().
	TypeChecking().
	MustBuild()

// OtpMethod is a one-time-password enrollment for a person.
var OtpMethod = domain.NewSchema("OtpMethod").
	Table("otp_method").
	Ref("person_id", "Person").
	Scalar("secret", domain.TypeString, domain.WithRule("required")).
	Scalar("name", domain.TypeString).
	Scalar("enabled", domain.TypeBool).
	ManyToMany("recovery_codes", "RecoveryCode").
	TypeChecking().
	MustBuild()

// RecoveryCode is a single-use fallback credential for an OTP enrollment.
var RecoveryCode = domain.NewSchema("RecoveryCode").
	Table("recovery_code").
	Ref("otp_method_id", "OtpMethod").
	Scalar("secret", domain.TypeString, domain.WithRule("required")).
	Scalar("name", domain.TypeString).
	Scalar("enabled", domain.TypeBool).
	TypeChecking().
	MustBuild()

// PersonOrganizationRole binds a person to an organization with a role.
var PersonOrganizationRole = domain.NewSchema("PersonOrganizationRole").
	Table("person_organization_role").
	Ref("person_id", "Person").
	Ref("organization_id", "Organization").
	Enum("role", []string{"owner", "manager", "member"}, domain.WithRule("required")).
	TypeChecking().
	MustBuild()

// NewRegistry returns a registry with every built-in schema registered.
func NewRegistry() *domain.Registry {
	reg := domain.NewRegistry()
	for _, schema := range []*domain.Schema{
		Person,
		Organization,
		Email,
		LoginMethod,
		OtpMethod,
		RecoveryCode,
		PersonOrganizationRole,
	} {
		reg.MustRegister(schema)
	}
	return reg
}
