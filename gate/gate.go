// Package gate implements the shutdown gate: the policy component that
// authorizes and executes device power transitions.
//
// A single shutdown attempt moves through
//
//	Requested -> Authorizing -> ValidatingChecklist -> {Blocked | Executing}
//	          -> {Logged-Failure | Logged-Success}
//
// and always reaches exactly one of the two terminal states. A checklist
// block and a completed shutdown each produce exactly one audit log entry;
// an authorization failure or an already-off device produce none, because
// neither counts as a shutdown attempt.
package gate

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"labpower/apperrors"
	"labpower/models"
)

// BatchDeviceID is recorded as the device of the single failure entry
// written when a shutdown-all attempt is blocked by the checklist.
const BatchDeviceID = "ALL"

// DeviceStore is the device access the gate needs. The power methods are
// conditional: they fail with an invalid-state error instead of repeating a
// transition, which is what makes concurrent shutdowns of one device safe.
type DeviceStore interface {
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)
	ListDevices(ctx context.Context) ([]models.Device, error)
	PowerOff(ctx context.Context, deviceID string, at time.Time) (*models.Device, error)
	PowerOn(ctx context.Context, deviceID string, at time.Time) (*models.Device, error)
	PowerOffAll(ctx context.Context, at time.Time) ([]string, error)
	PowerOnAll(ctx context.Context, at time.Time) ([]string, error)
}

// ChecklistStore provides the critical items the gate validates.
type ChecklistStore interface {
	ListCriticalItems(ctx context.Context) ([]models.ChecklistItem, error)
}

// LogStore appends immutable shutdown log entries.
type LogStore interface {
	AppendShutdownLog(ctx context.Context, entry *models.ShutdownLogEntry) error
}

// Authorizer answers whether a user may operate a device.
type Authorizer interface {
	IsAuthorized(ctx context.Context, userName, deviceID string) (bool, error)
}

// Delays are the simulated power-transition durations. They exist for
// user-perceived realism only; zero values are valid and used in tests.
type Delays struct {
	Shutdown     time.Duration
	Startup      time.Duration
	BatchStartup time.Duration
}

// Gate validates, authorizes and executes power transitions.
type Gate struct {
	devices   DeviceStore
	checklist ChecklistStore
	logs      LogStore
	authz     Authorizer
	delays    Delays
}

// New creates a shutdown gate
func New(devices DeviceStore, checklist ChecklistStore, logs LogStore, authz Authorizer, delays Delays) *Gate {
	return &Gate{
		devices:   devices,
		checklist: checklist,
		logs:      logs,
		authz:     authz,
		delays:    delays,
	}
}

// ValidateChecklist is the read-only precheck: it reports whether every
// critical item is completed and lists every incomplete one.
func (g *Gate) ValidateChecklist(ctx context.Context) (*models.ChecklistValidation, error) {
	critical, err := g.checklist.ListCriticalItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load critical checklist items: %w", err)
	}

	incomplete := []models.IncompleteTask{}
	for _, item := range critical {
		if !item.Completed {
			incomplete = append(incomplete, models.IncompleteTask{
				TaskID:      item.TaskID,
				Description: item.Description,
			})
		}
	}

	return &models.ChecklistValidation{
		AllCompleted:       len(incomplete) == 0,
		TotalCriticalItems: len(critical),
		CompletedItems:     len(critical) - len(incomplete),
		IncompleteItems:    incomplete,
	}, nil
}

// InitiateShutdown runs the full gate for one device on behalf of user.
func (g *Gate) InitiateShutdown(ctx context.Context, deviceID string, user *models.User) (*models.ShutdownResult, error) {
	// Authorizing
	device, err := g.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	authorized, err := g.authz.IsAuthorized(ctx, user.Name, deviceID)
	if err != nil {
		return nil, err
	}
	if !authorized {
		// Not a shutdown attempt: no log entry.
		return nil, apperrors.Forbidden("user %s has no shutdown authorization for device %s", user.Name, deviceID)
	}

	// Precondition
	if device.Status == models.StatusOff {
		return nil, apperrors.InvalidState("device %s is already powered off", deviceID)
	}

	// ValidatingChecklist
	validation, err := g.ValidateChecklist(ctx)
	if err != nil {
		return nil, err
	}
	if !validation.AllCompleted {
		// Blocked -> Logged-Failure
		g.appendLog(ctx, &models.ShutdownLogEntry{
			LogID:     uuid.NewString(),
			Device:    deviceID,
			User:      user.UserID,
			UserName:  user.Name,
			Status:    models.ShutdownFailed,
			Reason:    blockedReason(validation.IncompleteItems),
			Duration:  0,
			Timestamp: time.Now(),
		})
		return nil, &apperrors.ChecklistBlockedError{IncompleteItems: validation.IncompleteItems}
	}

	// Executing: simulate the physical power-down, then flip the state. The
	// flip happens only after the delay completes, so an aborted request
	// never leaves the device half-transitioned.
	if err := g.sleep(ctx, g.delays.Shutdown); err != nil {
		return nil, err
	}

	now := time.Now()
	if _, err := g.devices.PowerOff(ctx, deviceID, now); err != nil {
		// A concurrent shutdown may have won the race during the delay; the
		// conditional update reports that as invalid state and the winner
		// already owns the log entry.
		return nil, err
	}

	duration := int(g.delays.Shutdown.Seconds())
	g.appendLog(ctx, &models.ShutdownLogEntry{
		LogID:     uuid.NewString(),
		Device:    deviceID,
		User:      user.UserID,
		UserName:  user.Name,
		Status:    models.ShutdownSuccess,
		Duration:  duration,
		Timestamp: now,
	})

	allOff, err := g.allDevicesOff(ctx)
	if err != nil {
		return nil, err
	}

	return &models.ShutdownResult{
		DeviceID:      deviceID,
		Status:        models.ShutdownSuccess,
		Message:       fmt.Sprintf("Device %s shutdown successfully", deviceID),
		Duration:      duration,
		AllDevicesOff: allOff,
	}, nil
}

// InitiateShutdownAll shuts down every device currently on or in
// maintenance. The checklist is a single global gate: it is validated once
// for the whole batch, not per device. Each transitioned device gets its own
// success log entry so every device remains independently queryable in the
// audit trail.
func (g *Gate) InitiateShutdownAll(ctx context.Context, user *models.User) (*models.BatchResult, error) {
	validation, err := g.ValidateChecklist(ctx)
	if err != nil {
		return nil, err
	}
	if !validation.AllCompleted {
		g.appendLog(ctx, &models.ShutdownLogEntry{
			LogID:     uuid.NewString(),
			Device:    BatchDeviceID,
			User:      user.UserID,
			UserName:  user.Name,
			Status:    models.ShutdownFailed,
			Reason:    blockedReason(validation.IncompleteItems),
			Duration:  0,
			Timestamp: time.Now(),
		})
		return nil, &apperrors.ChecklistBlockedError{IncompleteItems: validation.IncompleteItems}
	}

	if err := g.sleep(ctx, g.delays.Shutdown); err != nil {
		return nil, err
	}

	now := time.Now()
	transitioned, err := g.devices.PowerOffAll(ctx, now)
	if err != nil {
		return nil, err
	}

	duration := int(g.delays.Shutdown.Seconds())
	for _, deviceID := range transitioned {
		g.appendLog(ctx, &models.ShutdownLogEntry{
			LogID:     uuid.NewString(),
			Device:    deviceID,
			User:      user.UserID,
			UserName:  user.Name,
			Status:    models.ShutdownSuccess,
			Duration:  duration,
			Timestamp: now,
		})
	}

	return &models.BatchResult{
		Transitioned: transitioned,
		Count:        len(transitioned),
		Message:      fmt.Sprintf("Successfully shut down %d devices", len(transitioned)),
	}, nil
}

// StartDevice is the mirror operation without the checklist gate.
func (g *Gate) StartDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	device, err := g.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if device.Status == models.StatusOn {
		return nil, apperrors.InvalidState("device %s is already powered on", deviceID)
	}

	if err := g.sleep(ctx, g.delays.Startup); err != nil {
		return nil, err
	}
	return g.devices.PowerOn(ctx, deviceID, time.Now())
}

// StartAllDevices powers on every device currently off or in maintenance.
func (g *Gate) StartAllDevices(ctx context.Context) (*models.BatchResult, error) {
	if err := g.sleep(ctx, g.delays.BatchStartup); err != nil {
		return nil, err
	}

	transitioned, err := g.devices.PowerOnAll(ctx, time.Now())
	if err != nil {
		return nil, err
	}

	message := fmt.Sprintf("Successfully started %d devices", len(transitioned))
	if len(transitioned) == 0 {
		message = "All devices are already powered on"
	}
	return &models.BatchResult{
		Transitioned: transitioned,
		Count:        len(transitioned),
		Message:      message,
	}, nil
}

// allDevicesOff reports whether every device in the store is off. Full scan,
// acceptable at this scale.
func (g *Gate) allDevicesOff(ctx context.Context) (bool, error) {
	devices, err := g.devices.ListDevices(ctx)
	if err != nil {
		return false, err
	}
	for _, device := range devices {
		if device.Status != models.StatusOff {
			return false, nil
		}
	}
	return true, nil
}

// sleep is a bounded, cancellable wait.
func (g *Gate) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// appendLog writes an audit entry. The gate's decision stands even if the
// audit write fails, so failures are logged rather than propagated.
func (g *Gate) appendLog(ctx context.Context, entry *models.ShutdownLogEntry) {
	if err := g.logs.AppendShutdownLog(ctx, entry); err != nil {
		log.Printf("❌ Failed to append shutdown log for device %s: %v", entry.Device, err)
	}
}

func blockedReason(incomplete []models.IncompleteTask) string {
	ids := make([]string, len(incomplete))
	for i, task := range incomplete {
		ids[i] = task.TaskID
	}
	return "Critical checklist items not completed: " + strings.Join(ids, ", ")
}
