package openstack

import "github.com/MRC-CLIMB/bryn/pkg/config"

// AdminCredentials scope a session to the region's admin project.
func AdminCredentials(cloud config.RegionCloud) Credentials {
	return Credentials{
		AuthURL:     cloud.AuthURL,
		Region:      cloud.EndpointRegion,
		DomainName:  cloud.DomainName,
		DomainID:    cloud.DomainID,
		Username:    cloud.AdminUsername,
		Password:    cloud.AdminPassword,
		ProjectName: cloud.AdminProject,
	}
}

// TenantCredentials scope a session to a tenant project. The tenant's
// user shares the project name.
func TenantCredentials(cloud config.RegionCloud, tenantName, password string) Credentials {
	return Credentials{
		AuthURL:     cloud.AuthURL,
		Region:      cloud.EndpointRegion,
		DomainName:  cloud.DomainName,
		DomainID:    cloud.DomainID,
		Username:    tenantName,
		Password:    password,
		ProjectName: tenantName,
	}
}
