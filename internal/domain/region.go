package domain

import "time"

// Region is one cloud-provider deployment teams can hold tenants in.
type Region struct {
	ID                   int64  `json:"id"`
	Name                 string `json:"name"`
	Description          string `json:"description"`
	Disabled             bool   `json:"disabled"`
	NewInstancesDisabled bool   `json:"new_instances_disabled"`
	UnshelvingDisabled   bool   `json:"unshelving_disabled"`
	MaxVolumeSizeGB      int    `json:"max_volume_size_gb"`
}

// HypervisorStats is the latest aggregate hypervisor capacity for a region.
type HypervisorStats struct {
	RegionID           int64     `json:"region_id"`
	RegionName         string    `json:"region"`
	HypervisorCount    int       `json:"hypervisor_count"`
	DiskAvailableLeast int       `json:"disk_available_least"`
	FreeDiskGB         int       `json:"free_disk_gb"`
	FreeRAMMB          int       `json:"free_ram_mb"`
	LocalGB            int       `json:"local_gb"`
	LocalGBUsed        int       `json:"local_gb_used"`
	MemoryMB           int       `json:"memory_mb"`
	MemoryMBUsed       int       `json:"memory_mb_used"`
	RunningVMs         int       `json:"running_vms"`
	VCPUs              int       `json:"vcpus"`
	VCPUsUsed          int       `json:"vcpus_used"`
	UpdatedAt          time.Time `json:"updated_at"`
}
