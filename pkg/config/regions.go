package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RegionCloud describes how to reach one region's OpenStack deployment.
type RegionCloud struct {
	Description       string `yaml:"description"`
	AuthURL           string `yaml:"auth_url"`
	EndpointRegion    string `yaml:"endpoint_region"`
	DomainName        string `yaml:"domain_name"`
	DomainID          string `yaml:"domain_id"`
	AdminUsername     string `yaml:"admin_username"`
	AdminPassword     string `yaml:"admin_password"`
	AdminProject      string `yaml:"admin_project"`
	MemberRole        string `yaml:"member_role"`
	DefaultVolumeType string `yaml:"default_volume_type"`
}

// Regions maps region names to their cloud endpoints.
type Regions map[string]RegionCloud

type regionsFile struct {
	Regions Regions `yaml:"regions"`
}

// LoadRegions reads the YAML regions file. Password values of the form
// "env:NAME" are resolved from the environment.
func LoadRegions(path string) (Regions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read regions file: %w", err)
	}
	return ParseRegions(data)
}

// ParseRegions decodes regions YAML.
func ParseRegions(data []byte) (Regions, error) {
	var file regionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode regions file: %w", err)
	}
	if len(file.Regions) == 0 {
		return nil, errors.New("regions file defines no regions")
	}
	out := make(Regions, len(file.Regions))
	for name, cloud := range file.Regions {
		if strings.TrimSpace(cloud.AuthURL) == "" {
			return nil, fmt.Errorf("region %q: auth_url is required", name)
		}
		if ref, ok := strings.CutPrefix(cloud.AdminPassword, "env:"); ok {
			cloud.AdminPassword = os.Getenv(ref)
		}
		if cloud.DomainName == "" {
			cloud.DomainName = "Default"
		}
		if cloud.DomainID == "" {
			cloud.DomainID = "default"
		}
		if cloud.EndpointRegion == "" {
			cloud.EndpointRegion = name
		}
		if cloud.MemberRole == "" {
			cloud.MemberRole = "member"
		}
		out[name] = cloud
	}
	return out, nil
}

// Lookup returns the cloud settings for a region.
func (r Regions) Lookup(name string) (RegionCloud, bool) {
	cloud, ok := r[name]
	return cloud, ok
}
