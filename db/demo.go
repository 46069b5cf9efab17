package db

import (
	"context"
	"fmt"
	"log"
	"time"

	"labpower/auth"
	"labpower/models"
)

// SeedDemoData loads the demo data set: a handful of devices, the standard
// pre-shutdown checklist, and demo accounts. It backs memory mode and the
// seed script; existing records make the individual creates fail, which the
// script treats as fatal and memory mode never hits (it always starts empty).
func SeedDemoData(ctx context.Context, store Store) error {
	now := time.Now()

	devices := []models.Device{
		{DeviceID: "SRV-01", Name: "Rack Server 1", Location: "Lab A"},
		{DeviceID: "SRV-02", Name: "Rack Server 2", Location: "Lab A"},
		{DeviceID: "OSC-01", Name: "Oscilloscope", Location: "Bench 3"},
		{DeviceID: "PSU-01", Name: "Programmable PSU", Location: "Bench 1"},
	}
	for i := range devices {
		devices[i].Status = models.StatusOn
		devices[i].AssignedUsers = []string{}
		devices[i].CreatedAt = now
		devices[i].UpdatedAt = now
		if err := store.CreateDevice(ctx, &devices[i]); err != nil {
			return fmt.Errorf("failed to seed device %s: %w", devices[i].DeviceID, err)
		}
		log.Printf("  ✓ Created device: %s", devices[i].Name)
	}

	items := []models.ChecklistItem{
		{TaskID: "CHK-BACKUP", Description: "Verify all experiment data is backed up", Category: "backup", IsCritical: true},
		{TaskID: "CHK-SAFETY", Description: "Confirm no active experiments on powered equipment", Category: "safety", IsCritical: true},
		{TaskID: "CHK-NETWORK", Description: "Notify network operations of the shutdown window", Category: "network", IsCritical: true},
		{TaskID: "CHK-TIDY", Description: "Clear benches and store loose cabling", Category: "safety", IsCritical: false},
	}
	for i := range items {
		items[i].CreatedAt = now
		items[i].UpdatedAt = now
		if err := store.CreateChecklistItem(ctx, &items[i]); err != nil {
			return fmt.Errorf("failed to seed checklist item %s: %w", items[i].TaskID, err)
		}
		log.Printf("  ✓ Created checklist item: %s", items[i].TaskID)
	}

	users := []struct {
		User     models.User
		Password string
		Devices  []string
	}{
		{
			User:     models.User{UserID: "user-demo-admin", Name: "admin", Role: models.RoleAdmin},
			Password: "admin123!",
			Devices:  []string{"SRV-01", "SRV-02", "OSC-01", "PSU-01"},
		},
		{
			User:     models.User{UserID: "user-demo-engineer", Name: "engineer", Role: models.RoleEngineer},
			Password: "engineer123!",
			Devices:  []string{"SRV-01", "OSC-01"},
		},
	}
	for _, seed := range users {
		user := seed.User
		user.AssignedDevices = []string{}
		user.LastLogin = now
		user.CreatedAt = now
		user.UpdatedAt = now
		if err := store.CreateUser(ctx, &user); err != nil {
			return fmt.Errorf("failed to seed user %s: %w", user.Name, err)
		}

		passwordHash, err := auth.HashPassword(seed.Password)
		if err != nil {
			return fmt.Errorf("failed to hash password for %s: %w", user.Name, err)
		}
		if err := store.StorePasswordHash(ctx, user.UserID, passwordHash); err != nil {
			return fmt.Errorf("failed to store password for %s: %w", user.Name, err)
		}

		if err := store.ReplaceAssignments(ctx, user.UserID, seed.Devices); err != nil {
			return fmt.Errorf("failed to assign devices to %s: %w", user.Name, err)
		}
		log.Printf("  ✓ Created user: %s (role: %s)", user.Name, user.Role)
	}

	return nil
}
