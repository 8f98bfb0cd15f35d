package job

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"gorm.io/datatypes"
)

// MaxDocumentLength bounds the inputs and parameters blobs of a job.
const MaxDocumentLength = 16384

type Status string

const (
	StatusPending          Status = "PENDING"
	StatusProcessingInputs Status = "PROCESSING_INPUTS"
	StatusStagingInputs    Status = "STAGING_INPUTS"
	StatusStaged           Status = "STAGED"
	StatusSubmitting       Status = "SUBMITTING"
	StatusQueued           Status = "QUEUED"
	StatusRunning          Status = "RUNNING"
	StatusArchiving        Status = "ARCHIVING"
	StatusFinished         Status = "FINISHED"
	StatusFailed           Status = "FAILED"
	StatusKilled           Status = "KILLED"
)

func (s Status) String() string {
	return string(s)
}

// Terminal reports whether no further phase transition may leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusFinished, StatusFailed, StatusKilled:
		return true
	default:
		return false
	}
}

// Job is the persistent record of one computational request. The public
// identifier is UUID; ID is the storage key and never leaves this process.
type Job struct {
	ID               int64  `gorm:"column:id;primaryKey"`
	UUID             string `gorm:"column:uuid;uniqueIndex;type:varchar(96);not null"`
	TenantID         string `gorm:"column:tenant_id;index;not null"`
	Owner            string `gorm:"column:owner;index;not null"`
	InternalUsername string `gorm:"column:internal_username"`
	Name             string `gorm:"column:name;type:varchar(128)"`

	// Execution target. ExecutionType and SchedulerType are captured at
	// submission time and never re-derived from the mutable system record,
	// so monitoring and cleanup stay consistent after a reconfiguration.
	SystemID          string  `gorm:"column:system_id;index"`
	BatchQueue        string  `gorm:"column:batch_queue"`
	NodeCount         int64   `gorm:"column:node_count"`
	ProcessorsPerNode int64   `gorm:"column:processors_per_node"`
	MemoryPerNode     float64 `gorm:"column:memory_per_node"`
	MaxRunTime        string  `gorm:"column:max_run_time;type:varchar(20)"`
	ExecutionType     string  `gorm:"column:execution_type"`
	SchedulerType     string  `gorm:"column:scheduler_type"`

	Status       Status `gorm:"column:status;type:varchar(32);index;default:'PENDING'"`
	LastMessage  string `gorm:"column:last_message;type:text"`
	StatusChecks int    `gorm:"column:status_checks"`
	Retries      int    `gorm:"column:retries"`
	UpdateToken  string `gorm:"column:update_token"`

	Inputs     datatypes.JSON `gorm:"column:inputs"`
	Parameters datatypes.JSON `gorm:"column:parameters"`

	WorkPath      string `gorm:"column:work_path"`
	OutputPath    string `gorm:"column:output_path"`
	ArchiveOutput bool   `gorm:"column:archive_output"`
	ArchivePath   string `gorm:"column:archive_path"`
	ArchiveSystem string `gorm:"column:archive_system"`

	Created     time.Time  `gorm:"column:created"`
	LastUpdated time.Time  `gorm:"column:last_updated"`
	SubmitTime  *time.Time `gorm:"column:submit_time"`
	StartTime   *time.Time `gorm:"column:start_time"`
	EndTime     *time.Time `gorm:"column:end_time"`

	// Version is the optimistic concurrency counter. Every persist is a
	// compare-and-swap on (id, version); a mismatch means another worker
	// claimed the job first.
	// Visible carries no column default: gorm omits zero-valued fields on
	// insert when one is set, which would silently resurrect a job stored
	// with visible=false.
	Version int  `gorm:"column:version;not null;default:0"`
	Visible bool `gorm:"column:visible"`

	Events []JobEvent `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE"`
}

func (Job) TableName() string { return "jobs" }

// JobEvent is an immutable history record appended on every status change.
type JobEvent struct {
	ID          int64     `gorm:"column:id;primaryKey"`
	JobID       int64     `gorm:"column:job_id;index;not null"`
	Status      Status    `gorm:"column:status;type:varchar(32)"`
	Description string    `gorm:"column:description;type:text"`
	CreatedBy   string    `gorm:"column:created_by"`
	Created     time.Time `gorm:"column:created"`
}

func (JobEvent) TableName() string { return "job_events" }

// HasInputs reports whether the job declared any input data to stage.
func (j *Job) HasInputs() bool {
	if len(j.Inputs) == 0 {
		return false
	}
	var m map[string]any
	if err := json.Unmarshal(j.Inputs, &m); err == nil {
		return len(m) > 0
	}
	var a []any
	if err := json.Unmarshal(j.Inputs, &a); err == nil {
		return len(a) > 0
	}
	return false
}

var runTimePattern = regexp.MustCompile(`^\d+:[0-5]\d:[0-5]\d$`)

// ValidRunTime reports whether s is a HH:MM:SS duration.
func ValidRunTime(s string) bool {
	return runTimePattern.MatchString(s)
}

// Field enumerates the job attributes exposed to callers that address
// attributes by name. Keeping this a closed set makes an unknown attribute
// a compile-time concern instead of a runtime lookup failure.
type Field int

const (
	FieldUUID Field = iota
	FieldTenantID
	FieldOwner
	FieldName
	FieldSystemID
	FieldBatchQueue
	FieldNodeCount
	FieldProcessorsPerNode
	FieldMemoryPerNode
	FieldMaxRunTime
	FieldExecutionType
	FieldSchedulerType
	FieldStatus
	FieldLastMessage
	FieldRetries
	FieldWorkPath
	FieldOutputPath
	FieldArchivePath
	FieldArchiveSystem
)

// Attribute returns the string form of the addressed field.
func (j *Job) Attribute(f Field) (string, error) {
	switch f {
	case FieldUUID:
		return j.UUID, nil
	case FieldTenantID:
		return j.TenantID, nil
	case FieldOwner:
		return j.Owner, nil
	case FieldName:
		return j.Name, nil
	case FieldSystemID:
		return j.SystemID, nil
	case FieldBatchQueue:
		return j.BatchQueue, nil
	case FieldNodeCount:
		return strconv.FormatInt(j.NodeCount, 10), nil
	case FieldProcessorsPerNode:
		return strconv.FormatInt(j.ProcessorsPerNode, 10), nil
	case FieldMemoryPerNode:
		return strconv.FormatFloat(j.MemoryPerNode, 'f', -1, 64), nil
	case FieldMaxRunTime:
		return j.MaxRunTime, nil
	case FieldExecutionType:
		return j.ExecutionType, nil
	case FieldSchedulerType:
		return j.SchedulerType, nil
	case FieldStatus:
		return j.Status.String(), nil
	case FieldLastMessage:
		return j.LastMessage, nil
	case FieldRetries:
		return strconv.Itoa(j.Retries), nil
	case FieldWorkPath:
		return j.WorkPath, nil
	case FieldOutputPath:
		return j.OutputPath, nil
	case FieldArchivePath:
		return j.ArchivePath, nil
	case FieldArchiveSystem:
		return j.ArchiveSystem, nil
	default:
		return "", fmt.Errorf("unknown job field %d", f)
	}
}
