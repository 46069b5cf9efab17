// Package db provides the persistence layer: a Firestore-backed store for
// normal operation and an in-memory store for demo mode and tests. Both
// implement Store, so every caller is indifferent to the backend.
package db

import (
	"context"
	"time"

	"labpower/models"
)

// Store is the full persistence surface of the API.
//
// Unique-key enforcement: device, checklist and user records use their
// natural keys (device_id, task_id, user_id) as document IDs; usernames are
// kept unique by a lookup-before-create check inside the create operations.
//
// The two assignment methods and the power CAS methods are transactional:
// they either apply completely or not at all, which is what keeps the
// user<->device mirror relation consistent and prevents duplicate shutdowns.
type Store interface {
	// Devices
	CreateDevice(ctx context.Context, device *models.Device) error
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)
	ListDevices(ctx context.Context) ([]models.Device, error)
	UpdateDeviceInfo(ctx context.Context, deviceID string, name, location *string) (*models.Device, error)
	DeleteDevice(ctx context.Context, deviceID string) error

	// Power transitions. Each is a compare-and-swap on the current status:
	// PowerOff fails with an invalid-state error when the device is already
	// off, PowerOn when it is already on. The batch variants transition every
	// eligible device in one transaction and return the transitioned IDs.
	PowerOff(ctx context.Context, deviceID string, at time.Time) (*models.Device, error)
	PowerOn(ctx context.Context, deviceID string, at time.Time) (*models.Device, error)
	PowerOffAll(ctx context.Context, at time.Time) ([]string, error)
	PowerOnAll(ctx context.Context, at time.Time) ([]string, error)

	// Checklist
	CreateChecklistItem(ctx context.Context, item *models.ChecklistItem) error
	GetChecklistItem(ctx context.Context, taskID string) (*models.ChecklistItem, error)
	ListChecklistItems(ctx context.Context) ([]models.ChecklistItem, error)
	ListCriticalItems(ctx context.Context) ([]models.ChecklistItem, error)
	CompleteChecklistItem(ctx context.Context, taskID, byUser string) (*models.ChecklistItem, error)
	ReopenChecklistItem(ctx context.Context, taskID string) (*models.ChecklistItem, error)
	DeleteChecklistItem(ctx context.Context, taskID string) error

	// Users
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, userID string) (*models.User, error)
	GetUserByName(ctx context.Context, name string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	ListUsersByRole(ctx context.Context, role models.Role) ([]models.User, error)
	RenameUser(ctx context.Context, userID, newName string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error

	// Credentials
	StorePasswordHash(ctx context.Context, userID, passwordHash string) error
	GetPasswordHash(ctx context.Context, userID string) (string, error)

	// Assignments. ReplaceAssignments swaps the user's assigned device set
	// and updates every affected device's assigned_users mirror in the same
	// transaction; RemoveAssignments removes the given devices from both
	// sides likewise.
	ReplaceAssignments(ctx context.Context, userID string, deviceIDs []string) error
	RemoveAssignments(ctx context.Context, userID string, deviceIDs []string) error

	// Shutdown logs (append-only)
	AppendShutdownLog(ctx context.Context, entry *models.ShutdownLogEntry) error
	GetShutdownLog(ctx context.Context, logID string) (*models.ShutdownLogEntry, error)
	QueryShutdownLogs(ctx context.Context, filter models.LogFilter) ([]models.ShutdownLogEntry, error)
	LastShutdownLogForDevice(ctx context.Context, deviceID string) (*models.ShutdownLogEntry, error)

	Ping(ctx context.Context) error
	Close() error
}
