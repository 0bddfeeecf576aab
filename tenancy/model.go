// Package tenancy holds the tenant record model, its persistence over the
// companies collection, and port-offset allocation.
package tenancy

import (
	"time"
)

// Status is the tenant lifecycle state.
type Status string

const (
	StatusPending      Status = "pending"
	StatusProvisioning Status = "provisioning"
	StatusActive       Status = "active"
	StatusSuspended    Status = "suspended"
	StatusDeleted      Status = "deleted"
	StatusFailed       Status = "failed"
)

// Ports are a tenant's concrete published ports, derived from its offset.
type Ports struct {
	Frontend int `bson:"frontend" json:"frontend"`
	Backend  int `bson:"backend" json:"backend"`
	Database int `bson:"database" json:"database"`
}

// URLs are a tenant's public addresses as recorded after provisioning.
type URLs struct {
	Website string `bson:"website" json:"website"`
	Panel   string `bson:"panel" json:"panel"`
	API     string `bson:"api" json:"api"`
}

// Tenant is one customer company. Durable copies live in the companies
// collection; the orchestration stack referenced by StackID is owned by the
// container platform.
type Tenant struct {
	ID        string `bson:"id" json:"id"`
	Code      string `bson:"code" json:"code"`
	Name      string `bson:"name" json:"name"`
	Domain    string `bson:"domain,omitempty" json:"domain,omitempty"`
	Subdomain string `bson:"subdomain,omitempty" json:"subdomain,omitempty"`
	Plan      string `bson:"plan,omitempty" json:"plan,omitempty"`

	Status Status `bson:"status" json:"status"`
	// FailureReason carries the last provisioning error for operator
	// visibility. Cleared on the next successful transition.
	FailureReason string `bson:"failure_reason,omitempty" json:"failure_reason,omitempty"`

	PortOffset int    `bson:"port_offset" json:"port_offset"`
	StackID    *int   `bson:"stack_id,omitempty" json:"stack_id,omitempty"`
	StackName  string `bson:"stack_name,omitempty" json:"stack_name,omitempty"`
	Ports      Ports  `bson:"ports" json:"ports"`
	URLs       URLs   `bson:"urls" json:"urls"`

	AdminEmail string `bson:"admin_email" json:"admin_email"`
	// AdminPassword is used once at initial provisioning to seed the
	// tenant's admin user and is not returned by read endpoints.
	AdminPassword string `bson:"admin_password,omitempty" json:"-"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Provisioned reports whether the tenant currently references a stack.
func (t *Tenant) Provisioned() bool {
	return t.StackID != nil
}
