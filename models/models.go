// models.go
// Defines the core data structures shared by the lab power shutdown API.

package models

import (
	"time"
)

// DeviceStatus is the power state of a lab device.
type DeviceStatus string

const (
	StatusOn          DeviceStatus = "on"
	StatusOff         DeviceStatus = "off"
	StatusMaintenance DeviceStatus = "maintenance"
)

// Role defines the access level of a user.
type Role string

const (
	RoleEngineer Role = "Engineer"
	RoleAdmin    Role = "Admin"
)

// ShutdownStatus is the outcome of a shutdown attempt.
type ShutdownStatus string

const (
	ShutdownSuccess ShutdownStatus = "success"
	ShutdownFailed  ShutdownStatus = "failed"
)

// Device represents a piece of lab equipment under power management.
// Status transitions only go through the shutdown gate or the start
// operations, never through the plain update endpoint.
type Device struct {
	DeviceID      string       `firestore:"device_id" json:"deviceId"`
	Name          string       `firestore:"name" json:"name"`
	Location      string       `firestore:"location,omitempty" json:"location,omitempty"`
	Status        DeviceStatus `firestore:"status" json:"status"`
	AssignedUsers []string     `firestore:"assigned_users" json:"assignedUsers"` // usernames with shutdown authorization
	LastShutdown  *time.Time   `firestore:"last_shutdown,omitempty" json:"lastShutdown,omitempty"`
	LastStartup   *time.Time   `firestore:"last_startup,omitempty" json:"lastStartup,omitempty"`
	CreatedAt     time.Time    `firestore:"created_at" json:"createdAt"`
	UpdatedAt     time.Time    `firestore:"updated_at" json:"updatedAt"`
}

// ChecklistItem is a single pre-shutdown task. All critical items must be
// completed before any device shutdown is permitted.
type ChecklistItem struct {
	TaskID      string     `firestore:"task_id" json:"taskId"`
	Description string     `firestore:"description" json:"description"`
	Category    string     `firestore:"category" json:"category"` // safety, security, backup, network
	IsCritical  bool       `firestore:"is_critical" json:"isCritical"`
	Completed   bool       `firestore:"completed" json:"completed"`
	CompletedBy string     `firestore:"completed_by,omitempty" json:"completedBy,omitempty"`
	CompletedAt *time.Time `firestore:"completed_at,omitempty" json:"completedAt,omitempty"`
	CreatedAt   time.Time  `firestore:"created_at" json:"createdAt"`
	UpdatedAt   time.Time  `firestore:"updated_at" json:"updatedAt"`
}

// User represents an account in the system. AssignedDevices is the canonical
// side of the user-device relation; Device.AssignedUsers is the mirrored view
// and both sides are written in one transaction.
type User struct {
	UserID          string    `firestore:"user_id" json:"userId"`
	Name            string    `firestore:"name" json:"name"`
	Role            Role      `firestore:"role" json:"role"`
	AssignedDevices []string  `firestore:"assigned_devices" json:"assignedDevices"`
	LastLogin       time.Time `firestore:"last_login" json:"lastLogin"`
	CreatedAt       time.Time `firestore:"created_at" json:"createdAt"`
	UpdatedAt       time.Time `firestore:"updated_at" json:"updatedAt"`
}

// ShutdownLogEntry is one immutable record of a shutdown attempt.
// Entries are append-only: created exactly once by the shutdown gate,
// never updated or deleted.
type ShutdownLogEntry struct {
	LogID     string         `firestore:"log_id" json:"logId"`
	Device    string         `firestore:"device" json:"device"`
	User      string         `firestore:"user" json:"user"`
	UserName  string         `firestore:"user_name" json:"userName"`
	Status    ShutdownStatus `firestore:"status" json:"status"`
	Reason    string         `firestore:"reason,omitempty" json:"reason,omitempty"`
	Duration  int            `firestore:"duration" json:"duration"` // seconds
	Timestamp time.Time      `firestore:"timestamp" json:"timestamp"`
}

// IncompleteTask identifies a critical checklist item still blocking shutdown.
type IncompleteTask struct {
	TaskID      string `json:"taskId"`
	Description string `json:"description"`
}

// ChecklistValidation is the result of the read-only gate precheck.
type ChecklistValidation struct {
	AllCompleted       bool             `json:"allCompleted"`
	TotalCriticalItems int              `json:"totalCriticalItems"`
	CompletedItems     int              `json:"completedItems"`
	IncompleteItems    []IncompleteTask `json:"incompleteItems"`
}

// ShutdownResult is returned from a successful single-device shutdown.
type ShutdownResult struct {
	DeviceID      string         `json:"deviceId"`
	Status        ShutdownStatus `json:"status"`
	Message       string         `json:"message"`
	Duration      int            `json:"duration"`
	AllDevicesOff bool           `json:"allDevicesOff"`
}

// BatchResult is returned from the initiate-all and start-all operations.
type BatchResult struct {
	Transitioned []string `json:"transitioned"`
	Count        int      `json:"count"`
	Message      string   `json:"message"`
}

// LogFilter narrows a shutdown-log query. Zero values mean no constraint.
type LogFilter struct {
	Device    string
	User      string
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
}
