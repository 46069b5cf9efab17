package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"labpower/apperrors"
	"labpower/models"
)

// MemoryStore is an in-memory Store used for demo mode and tests. A single
// mutex serializes every write, which trivially gives the same atomicity the
// Firestore transactions provide.
type MemoryStore struct {
	mu          sync.RWMutex
	devices     map[string]*models.Device
	checklist   map[string]*models.ChecklistItem
	users       map[string]*models.User
	credentials map[string]string
	logs        []models.ShutdownLogEntry
	logIndex    map[string]int
	seq         int // insertion order tie-breaker for equal timestamps
	itemOrder   map[string]int
	deviceOrder map[string]int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices:     make(map[string]*models.Device),
		checklist:   make(map[string]*models.ChecklistItem),
		users:       make(map[string]*models.User),
		credentials: make(map[string]string),
		logIndex:    make(map[string]int),
		itemOrder:   make(map[string]int),
		deviceOrder: make(map[string]int),
	}
}

// Ping always succeeds for the in-memory store
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error { return nil }

func copyDevice(d *models.Device) *models.Device {
	cp := *d
	cp.AssignedUsers = append([]string(nil), d.AssignedUsers...)
	return &cp
}

func copyUser(u *models.User) *models.User {
	cp := *u
	cp.AssignedDevices = append([]string(nil), u.AssignedDevices...)
	return &cp
}

func copyItem(i *models.ChecklistItem) *models.ChecklistItem {
	cp := *i
	return &cp
}

// --- Device Operations ---

func (s *MemoryStore) CreateDevice(ctx context.Context, device *models.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.devices[device.DeviceID]; exists {
		return apperrors.Conflict("device with ID %s already exists", device.DeviceID)
	}
	s.seq++
	s.deviceOrder[device.DeviceID] = s.seq
	s.devices[device.DeviceID] = copyDevice(device)
	return nil
}

func (s *MemoryStore) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	device, found := s.devices[deviceID]
	if !found {
		return nil, apperrors.NotFound("device %s not found", deviceID)
	}
	return copyDevice(device), nil
}

func (s *MemoryStore) ListDevices(ctx context.Context) ([]models.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := make([]models.Device, 0, len(s.devices))
	for _, d := range s.devices {
		devices = append(devices, *copyDevice(d))
	}
	sort.Slice(devices, func(i, j int) bool {
		return s.deviceOrder[devices[i].DeviceID] < s.deviceOrder[devices[j].DeviceID]
	})
	return devices, nil
}

func (s *MemoryStore) UpdateDeviceInfo(ctx context.Context, deviceID string, name, location *string) (*models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	device, found := s.devices[deviceID]
	if !found {
		return nil, apperrors.NotFound("device %s not found", deviceID)
	}
	if name != nil {
		device.Name = *name
	}
	if location != nil {
		device.Location = *location
	}
	device.UpdatedAt = time.Now()
	return copyDevice(device), nil
}

func (s *MemoryStore) DeleteDevice(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found := s.devices[deviceID]; !found {
		return apperrors.NotFound("device %s not found", deviceID)
	}
	delete(s.devices, deviceID)
	delete(s.deviceOrder, deviceID)

	// Keep the mirror consistent: no user may keep holding a deleted device.
	for _, user := range s.users {
		var kept []string
		for _, id := range user.AssignedDevices {
			if id != deviceID {
				kept = append(kept, id)
			}
		}
		user.AssignedDevices = kept
	}
	return nil
}

func (s *MemoryStore) PowerOff(ctx context.Context, deviceID string, at time.Time) (*models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	device, found := s.devices[deviceID]
	if !found {
		return nil, apperrors.NotFound("device %s not found", deviceID)
	}
	if device.Status == models.StatusOff {
		return nil, apperrors.InvalidState("device %s is already powered off", deviceID)
	}

	ts := at
	device.Status = models.StatusOff
	device.LastShutdown = &ts
	device.UpdatedAt = at
	return copyDevice(device), nil
}

func (s *MemoryStore) PowerOn(ctx context.Context, deviceID string, at time.Time) (*models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	device, found := s.devices[deviceID]
	if !found {
		return nil, apperrors.NotFound("device %s not found", deviceID)
	}
	if device.Status == models.StatusOn {
		return nil, apperrors.InvalidState("device %s is already powered on", deviceID)
	}

	ts := at
	device.Status = models.StatusOn
	device.LastStartup = &ts
	device.UpdatedAt = at
	return copyDevice(device), nil
}

func (s *MemoryStore) PowerOffAll(ctx context.Context, at time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var transitioned []string
	for _, device := range s.devices {
		if device.Status == models.StatusOff {
			continue
		}
		ts := at
		device.Status = models.StatusOff
		device.LastShutdown = &ts
		device.UpdatedAt = at
		transitioned = append(transitioned, device.DeviceID)
	}
	sort.Strings(transitioned)
	return transitioned, nil
}

func (s *MemoryStore) PowerOnAll(ctx context.Context, at time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var transitioned []string
	for _, device := range s.devices {
		if device.Status == models.StatusOn {
			continue
		}
		ts := at
		device.Status = models.StatusOn
		device.LastStartup = &ts
		device.UpdatedAt = at
		transitioned = append(transitioned, device.DeviceID)
	}
	sort.Strings(transitioned)
	return transitioned, nil
}

// --- Checklist Operations ---

func (s *MemoryStore) CreateChecklistItem(ctx context.Context, item *models.ChecklistItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.checklist[item.TaskID]; exists {
		return apperrors.Conflict("checklist item with ID %s already exists", item.TaskID)
	}
	s.seq++
	s.itemOrder[item.TaskID] = s.seq
	s.checklist[item.TaskID] = copyItem(item)
	return nil
}

func (s *MemoryStore) GetChecklistItem(ctx context.Context, taskID string) (*models.ChecklistItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, found := s.checklist[taskID]
	if !found {
		return nil, apperrors.NotFound("checklist item %s not found", taskID)
	}
	return copyItem(item), nil
}

func (s *MemoryStore) ListChecklistItems(ctx context.Context) ([]models.ChecklistItem, error) {
	return s.listChecklist(false), nil
}

func (s *MemoryStore) ListCriticalItems(ctx context.Context) ([]models.ChecklistItem, error) {
	return s.listChecklist(true), nil
}

func (s *MemoryStore) listChecklist(criticalOnly bool) []models.ChecklistItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]models.ChecklistItem, 0, len(s.checklist))
	for _, item := range s.checklist {
		if criticalOnly && !item.IsCritical {
			continue
		}
		items = append(items, *copyItem(item))
	}
	// Stable creation order, matching the Firestore created_at ordering.
	sort.Slice(items, func(i, j int) bool {
		return s.itemOrder[items[i].TaskID] < s.itemOrder[items[j].TaskID]
	})
	return items
}

func (s *MemoryStore) CompleteChecklistItem(ctx context.Context, taskID, byUser string) (*models.ChecklistItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, found := s.checklist[taskID]
	if !found {
		return nil, apperrors.NotFound("checklist item %s not found", taskID)
	}
	if item.Completed {
		return copyItem(item), nil // idempotent: the original completer stands
	}

	now := time.Now()
	item.Completed = true
	item.CompletedBy = byUser
	item.CompletedAt = &now
	item.UpdatedAt = now
	return copyItem(item), nil
}

func (s *MemoryStore) ReopenChecklistItem(ctx context.Context, taskID string) (*models.ChecklistItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, found := s.checklist[taskID]
	if !found {
		return nil, apperrors.NotFound("checklist item %s not found", taskID)
	}

	item.Completed = false
	item.CompletedBy = ""
	item.CompletedAt = nil
	item.UpdatedAt = time.Now()
	return copyItem(item), nil
}

func (s *MemoryStore) DeleteChecklistItem(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found := s.checklist[taskID]; !found {
		return apperrors.NotFound("checklist item %s not found", taskID)
	}
	delete(s.checklist, taskID)
	delete(s.itemOrder, taskID)
	return nil
}

// --- User Operations ---

func (s *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.UserID]; exists {
		return apperrors.Conflict("user with ID %s already exists", user.UserID)
	}
	for _, u := range s.users {
		if u.Name == user.Name {
			return apperrors.Conflict("username %s already registered", user.Name)
		}
	}
	s.users[user.UserID] = copyUser(user)
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, userID string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, found := s.users[userID]
	if !found {
		return nil, apperrors.NotFound("user %s not found", userID)
	}
	return copyUser(user), nil
}

func (s *MemoryStore) GetUserByName(ctx context.Context, name string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if user.Name == name {
			return copyUser(user), nil
		}
	}
	return nil, apperrors.NotFound("user %s not found", name)
}

func (s *MemoryStore) ListUsers(ctx context.Context) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, *copyUser(u))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, nil
}

func (s *MemoryStore) ListUsersByRole(ctx context.Context, role models.Role) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var users []models.User
	for _, u := range s.users {
		if u.Role == role {
			users = append(users, *copyUser(u))
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, nil
}

func (s *MemoryStore) RenameUser(ctx context.Context, userID, newName string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, found := s.users[userID]
	if !found {
		return nil, apperrors.NotFound("user %s not found", userID)
	}
	for id, u := range s.users {
		if id != userID && u.Name == newName {
			return nil, apperrors.Conflict("username %s already taken", newName)
		}
	}

	oldName := user.Name
	user.Name = newName
	user.UpdatedAt = time.Now()

	for _, deviceID := range user.AssignedDevices {
		device, ok := s.devices[deviceID]
		if !ok {
			continue
		}
		for i, name := range device.AssignedUsers {
			if name == oldName {
				device.AssignedUsers[i] = newName
			}
		}
	}
	return copyUser(user), nil
}

func (s *MemoryStore) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, found := s.users[userID]
	if !found {
		return apperrors.NotFound("user %s not found", userID)
	}
	user.LastLogin = at
	return nil
}

// --- Credential Operations ---

func (s *MemoryStore) StorePasswordHash(ctx context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[userID] = passwordHash
	return nil
}

func (s *MemoryStore) GetPasswordHash(ctx context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hash, found := s.credentials[userID]
	if !found {
		return "", apperrors.NotFound("credentials for user %s not found", userID)
	}
	return hash, nil
}

// --- Assignment Operations ---

func (s *MemoryStore) ReplaceAssignments(ctx context.Context, userID string, deviceIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, found := s.users[userID]
	if !found {
		return apperrors.NotFound("user %s not found", userID)
	}
	for _, deviceID := range deviceIDs {
		if _, ok := s.devices[deviceID]; !ok {
			return apperrors.NotFound("device %s not found", deviceID)
		}
	}

	newSet := make(map[string]bool, len(deviceIDs))
	for _, id := range deviceIDs {
		newSet[id] = true
	}

	// Drop the user from devices no longer assigned.
	for _, deviceID := range user.AssignedDevices {
		if newSet[deviceID] {
			continue
		}
		if device, ok := s.devices[deviceID]; ok {
			device.AssignedUsers = removeString(device.AssignedUsers, user.Name)
		}
	}

	for _, deviceID := range deviceIDs {
		device := s.devices[deviceID]
		if !containsString(device.AssignedUsers, user.Name) {
			device.AssignedUsers = append(device.AssignedUsers, user.Name)
		}
	}

	user.AssignedDevices = append([]string(nil), deviceIDs...)
	user.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) RemoveAssignments(ctx context.Context, userID string, deviceIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, found := s.users[userID]
	if !found {
		return apperrors.NotFound("user %s not found", userID)
	}

	remove := make(map[string]bool, len(deviceIDs))
	for _, id := range deviceIDs {
		remove[id] = true
		if device, ok := s.devices[id]; ok {
			device.AssignedUsers = removeString(device.AssignedUsers, user.Name)
		}
	}

	var kept []string
	for _, id := range user.AssignedDevices {
		if !remove[id] {
			kept = append(kept, id)
		}
	}
	user.AssignedDevices = kept
	user.UpdatedAt = time.Now()
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func removeString(list []string, s string) []string {
	var out []string
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

// --- Shutdown Log Operations ---

func (s *MemoryStore) AppendShutdownLog(ctx context.Context, entry *models.ShutdownLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.logIndex[entry.LogID]; exists {
		return apperrors.Conflict("shutdown log %s already exists", entry.LogID)
	}
	s.logs = append(s.logs, *entry)
	s.logIndex[entry.LogID] = len(s.logs) - 1
	return nil
}

func (s *MemoryStore) GetShutdownLog(ctx context.Context, logID string) (*models.ShutdownLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, found := s.logIndex[logID]
	if !found {
		return nil, apperrors.NotFound("shutdown log %s not found", logID)
	}
	entry := s.logs[idx]
	return &entry, nil
}

func (s *MemoryStore) QueryShutdownLogs(ctx context.Context, filter models.LogFilter) ([]models.ShutdownLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []models.ShutdownLogEntry
	for _, entry := range s.logs {
		if filter.Device != "" && entry.Device != filter.Device {
			continue
		}
		if filter.User != "" && entry.User != filter.User {
			continue
		}
		if filter.StartDate != nil && entry.Timestamp.Before(*filter.StartDate) {
			continue
		}
		if filter.EndDate != nil && entry.Timestamp.After(*filter.EndDate) {
			continue
		}
		entries = append(entries, entry)
	}

	// Newest first, matching the Firestore ordering.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *MemoryStore) LastShutdownLogForDevice(ctx context.Context, deviceID string) (*models.ShutdownLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.logs) - 1; i >= 0; i-- {
		if s.logs[i].Device == deviceID {
			entry := s.logs[i]
			return &entry, nil
		}
	}
	return nil, nil
}
