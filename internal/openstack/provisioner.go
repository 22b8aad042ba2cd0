package openstack

import (
	"context"
	"fmt"
)

// ProvisionRequest names the project and user to create for a tenant.
type ProvisionRequest struct {
	Name        string
	Description string
	Password    string
	MemberRole  string
}

// ProvisionedTenant identifies the created project.
type ProvisionedTenant struct {
	ProjectID string
	UserID    string
}

// Provisioner creates projects with the region's admin credentials.
type Provisioner struct {
	svc *Service
}

// NewProvisioner wraps an admin-scoped façade.
func NewProvisioner(admin *Service) *Provisioner {
	return &Provisioner{svc: admin}
}

// CreateTenant creates a project and a user named after it, then grants the
// user the member role on the project.
func (p *Provisioner) CreateTenant(ctx context.Context, req ProvisionRequest) (*ProvisionedTenant, error) {
	client, err := p.svc.identityClient(ctx)
	if err != nil {
		return nil, err
	}
	projectID, err := client.CreateProject(ctx, req.Name, req.Description)
	if err != nil {
		return nil, mapError("create project", err)
	}
	userID, err := client.CreateUser(ctx, req.Name, req.Password, projectID)
	if err != nil {
		return nil, mapError("create user", err)
	}
	role := req.MemberRole
	if role == "" {
		role = "member"
	}
	roleID, err := client.FindRole(ctx, role)
	if err != nil {
		return nil, mapError(fmt.Sprintf("find role %q", role), err)
	}
	if err := client.AssignProjectRole(ctx, roleID, userID, projectID); err != nil {
		return nil, mapError("assign role", err)
	}
	return &ProvisionedTenant{ProjectID: projectID, UserID: userID}, nil
}
