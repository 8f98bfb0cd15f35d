package system

import (
	"strings"
	"time"
)

type SystemStatus string

var (
	Up          SystemStatus = "UP"
	Down        SystemStatus = "DOWN"
	Maintenance SystemStatus = "MAINTENANCE"
	Unknown     SystemStatus = "UNKNOWN"
)

func (s SystemStatus) String() string {
	switch s {
	case Up, Down, Maintenance, Unknown:
		return string(s)
	default:
		return ""
	}
}

// System is the registration record for a remote execution system. The
// fields here are administrator-mutable; anything a job must stay
// consistent with (execution type, scheduler type) is copied onto the job
// at submission time.
type System struct {
	ID              int64        `gorm:"column:id;primaryKey"`
	SystemID        string       `gorm:"column:system_id;uniqueIndex;not null"`
	TenantID        string       `gorm:"column:tenant_id;index;not null"`
	Name            string       `gorm:"column:name"`
	Status          SystemStatus `gorm:"column:status;type:varchar(20);default:'UP'"`
	Available       bool         `gorm:"column:available;default:true"`
	StorageProtocol string       `gorm:"column:storage_protocol;type:varchar(20)"`
	ExecutionType   string       `gorm:"column:execution_type"`
	SchedulerType   string       `gorm:"column:scheduler_type"`
	CreatedAt       time.Time    `gorm:"column:created_at"`
	UpdatedAt       time.Time    `gorm:"column:updated_at"`
}

func (System) TableName() string { return "execution_systems" }

// IsAvailable reports whether the system is registered as reachable.
func (s *System) IsAvailable() bool {
	return s.Available && s.Status == Up
}

// IsLocalStorage reports whether the system stages data through local disk,
// in which case only the worker instance dedicated to local systems may
// process its jobs.
func (s *System) IsLocalStorage() bool {
	return strings.EqualFold(s.StorageProtocol, "LOCAL")
}
