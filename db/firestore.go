package db

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"labpower/apperrors"
	"labpower/models"
)

// Collection names
const (
	colDevices     = "devices"
	colChecklist   = "checklist"
	colUsers       = "users"
	colCredentials = "credentials"
	colLogs        = "shutdownLogs"
)

// FirestoreDB wraps the Firestore client
type FirestoreDB struct {
	client *firestore.Client
}

var _ Store = (*FirestoreDB)(nil)

// NewFirestoreDB initializes a new Firestore client
func NewFirestoreDB(ctx context.Context, projectID, credentialsPath string) (*FirestoreDB, error) {
	opt := option.WithCredentialsFile(credentialsPath)

	config := &firebase.Config{ProjectID: projectID}
	app, err := firebase.NewApp(ctx, config, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firestore client: %w", err)
	}

	log.Printf("✅ Connected to Firestore project: %s", projectID)

	return &FirestoreDB{client: client}, nil
}

// Ping runs a cheap read to verify the store is reachable.
func (db *FirestoreDB) Ping(ctx context.Context) error {
	iter := db.client.Collection(colDevices).Limit(1).Documents(ctx)
	defer iter.Stop()

	if _, err := iter.Next(); err != nil && err != iterator.Done {
		return fmt.Errorf("firestore ping failed: %w", err)
	}
	return nil
}

// Close closes the Firestore client
func (db *FirestoreDB) Close() error {
	return db.client.Close()
}

func isNotFound(err error) bool {
	return grpcstatus.Code(err) == codes.NotFound
}

func isAlreadyExists(err error) bool {
	return grpcstatus.Code(err) == codes.AlreadyExists
}

// --- Device Operations ---

// CreateDevice creates a new device. The device ID is the document ID, so a
// duplicate create surfaces as a conflict.
func (db *FirestoreDB) CreateDevice(ctx context.Context, device *models.Device) error {
	_, err := db.client.Collection(colDevices).Doc(device.DeviceID).Create(ctx, device)
	if err != nil {
		if isAlreadyExists(err) {
			return apperrors.Conflict("device with ID %s already exists", device.DeviceID)
		}
		return fmt.Errorf("failed to create device: %w", err)
	}
	return nil
}

// GetDevice retrieves a device by ID
func (db *FirestoreDB) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	doc, err := db.client.Collection(colDevices).Doc(deviceID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, apperrors.NotFound("device %s not found", deviceID)
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	var device models.Device
	if err := doc.DataTo(&device); err != nil {
		return nil, fmt.Errorf("failed to parse device: %w", err)
	}

	return &device, nil
}

// ListDevices retrieves all devices ordered by creation time
func (db *FirestoreDB) ListDevices(ctx context.Context) ([]models.Device, error) {
	iter := db.client.Collection(colDevices).OrderBy("created_at", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var devices []models.Device
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate devices: %w", err)
		}

		var device models.Device
		if err := doc.DataTo(&device); err != nil {
			log.Printf("Warning: failed to parse device %s: %v", doc.Ref.ID, err)
			continue
		}
		devices = append(devices, device)
	}

	return devices, nil
}

// UpdateDeviceInfo updates a device's name and/or location. Power state is
// deliberately not updatable here: status only moves through the shutdown
// gate and the start operations.
func (db *FirestoreDB) UpdateDeviceInfo(ctx context.Context, deviceID string, name, location *string) (*models.Device, error) {
	updates := []firestore.Update{{Path: "updated_at", Value: time.Now()}}
	if name != nil {
		updates = append(updates, firestore.Update{Path: "name", Value: *name})
	}
	if location != nil {
		updates = append(updates, firestore.Update{Path: "location", Value: *location})
	}

	_, err := db.client.Collection(colDevices).Doc(deviceID).Update(ctx, updates)
	if err != nil {
		if isNotFound(err) {
			return nil, apperrors.NotFound("device %s not found", deviceID)
		}
		return nil, fmt.Errorf("failed to update device: %w", err)
	}

	return db.GetDevice(ctx, deviceID)
}

// DeleteDevice deletes a device and removes it from every user that had it
// assigned, in one transaction, so the mirror relation cannot be left
// pointing at a dead device.
func (db *FirestoreDB) DeleteDevice(ctx context.Context, deviceID string) error {
	devRef := db.client.Collection(colDevices).Doc(deviceID)

	return db.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(devRef); err != nil {
			if isNotFound(err) {
				return apperrors.NotFound("device %s not found", deviceID)
			}
			return fmt.Errorf("failed to get device: %w", err)
		}

		holders := tx.Documents(db.client.Collection(colUsers).
			Where("assigned_devices", "array-contains", deviceID))
		defer holders.Stop()

		var holderRefs []*firestore.DocumentRef
		for {
			doc, err := holders.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				return fmt.Errorf("failed to find assigned users: %w", err)
			}
			holderRefs = append(holderRefs, doc.Ref)
		}

		for _, ref := range holderRefs {
			if err := tx.Update(ref, []firestore.Update{
				{Path: "assigned_devices", Value: firestore.ArrayRemove(deviceID)},
				{Path: "updated_at", Value: time.Now()},
			}); err != nil {
				return fmt.Errorf("failed to unassign device from user: %w", err)
			}
		}

		return tx.Delete(devRef)
	})
}

// PowerOff flips a device to off iff it is not off already. The read and the
// conditional write run in one transaction, so two concurrent shutdowns of
// the same device cannot both observe "on" and both proceed.
func (db *FirestoreDB) PowerOff(ctx context.Context, deviceID string, at time.Time) (*models.Device, error) {
	devRef := db.client.Collection(colDevices).Doc(deviceID)
	var device models.Device

	err := db.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(devRef)
		if err != nil {
			if isNotFound(err) {
				return apperrors.NotFound("device %s not found", deviceID)
			}
			return fmt.Errorf("failed to get device: %w", err)
		}
		if err := doc.DataTo(&device); err != nil {
			return fmt.Errorf("failed to parse device: %w", err)
		}
		if device.Status == models.StatusOff {
			return apperrors.InvalidState("device %s is already powered off", deviceID)
		}

		device.Status = models.StatusOff
		device.LastShutdown = &at
		device.UpdatedAt = at
		return tx.Set(devRef, &device)
	})
	if err != nil {
		return nil, err
	}

	return &device, nil
}

// PowerOn flips a device to on iff it is not on already.
func (db *FirestoreDB) PowerOn(ctx context.Context, deviceID string, at time.Time) (*models.Device, error) {
	devRef := db.client.Collection(colDevices).Doc(deviceID)
	var device models.Device

	err := db.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(devRef)
		if err != nil {
			if isNotFound(err) {
				return apperrors.NotFound("device %s not found", deviceID)
			}
			return fmt.Errorf("failed to get device: %w", err)
		}
		if err := doc.DataTo(&device); err != nil {
			return fmt.Errorf("failed to parse device: %w", err)
		}
		if device.Status == models.StatusOn {
			return apperrors.InvalidState("device %s is already powered on", deviceID)
		}

		device.Status = models.StatusOn
		device.LastStartup = &at
		device.UpdatedAt = at
		return tx.Set(devRef, &device)
	})
	if err != nil {
		return nil, err
	}

	return &device, nil
}

// PowerOffAll transitions every device currently on or in maintenance to off
// in a single transaction and returns the transitioned device IDs.
func (db *FirestoreDB) PowerOffAll(ctx context.Context, at time.Time) ([]string, error) {
	return db.powerAll(ctx, at, models.StatusOff,
		[]models.DeviceStatus{models.StatusOn, models.StatusMaintenance})
}

// PowerOnAll transitions every device currently off or in maintenance to on.
func (db *FirestoreDB) PowerOnAll(ctx context.Context, at time.Time) ([]string, error) {
	return db.powerAll(ctx, at, models.StatusOn,
		[]models.DeviceStatus{models.StatusOff, models.StatusMaintenance})
}

func (db *FirestoreDB) powerAll(ctx context.Context, at time.Time, target models.DeviceStatus, eligible []models.DeviceStatus) ([]string, error) {
	var transitioned []string

	err := db.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		transitioned = transitioned[:0]

		iter := tx.Documents(db.client.Collection(colDevices).Where("status", "in", eligible))
		defer iter.Stop()

		type pending struct {
			ref    *firestore.DocumentRef
			device models.Device
		}
		var batch []pending
		for {
			doc, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				return fmt.Errorf("failed to iterate devices: %w", err)
			}
			var device models.Device
			if err := doc.DataTo(&device); err != nil {
				log.Printf("Warning: failed to parse device %s: %v", doc.Ref.ID, err)
				continue
			}
			batch = append(batch, pending{ref: doc.Ref, device: device})
		}

		for _, p := range batch {
			p.device.Status = target
			p.device.UpdatedAt = at
			if target == models.StatusOff {
				ts := at
				p.device.LastShutdown = &ts
			} else {
				ts := at
				p.device.LastStartup = &ts
			}
			if err := tx.Set(p.ref, &p.device); err != nil {
				return fmt.Errorf("failed to update device %s: %w", p.device.DeviceID, err)
			}
			transitioned = append(transitioned, p.device.DeviceID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(transitioned)
	return transitioned, nil
}

// --- Checklist Operations ---

// CreateChecklistItem creates a new checklist item keyed by task ID.
func (db *FirestoreDB) CreateChecklistItem(ctx context.Context, item *models.ChecklistItem) error {
	_, err := db.client.Collection(colChecklist).Doc(item.TaskID).Create(ctx, item)
	if err != nil {
		if isAlreadyExists(err) {
			return apperrors.Conflict("checklist item with ID %s already exists", item.TaskID)
		}
		return fmt.Errorf("failed to create checklist item: %w", err)
	}
	return nil
}

// GetChecklistItem retrieves a checklist item by task ID
func (db *FirestoreDB) GetChecklistItem(ctx context.Context, taskID string) (*models.ChecklistItem, error) {
	doc, err := db.client.Collection(colChecklist).Doc(taskID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, apperrors.NotFound("checklist item %s not found", taskID)
		}
		return nil, fmt.Errorf("failed to get checklist item: %w", err)
	}

	var item models.ChecklistItem
	if err := doc.DataTo(&item); err != nil {
		return nil, fmt.Errorf("failed to parse checklist item: %w", err)
	}

	return &item, nil
}

// ListChecklistItems retrieves all checklist items ordered by creation time
func (db *FirestoreDB) ListChecklistItems(ctx context.Context) ([]models.ChecklistItem, error) {
	return db.listChecklist(ctx, db.client.Collection(colChecklist).
		OrderBy("created_at", firestore.Asc))
}

// ListCriticalItems retrieves critical checklist items ordered by creation time
func (db *FirestoreDB) ListCriticalItems(ctx context.Context) ([]models.ChecklistItem, error) {
	return db.listChecklist(ctx, db.client.Collection(colChecklist).
		Where("is_critical", "==", true).
		OrderBy("created_at", firestore.Asc))
}

func (db *FirestoreDB) listChecklist(ctx context.Context, q firestore.Query) ([]models.ChecklistItem, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var items []models.ChecklistItem
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate checklist: %w", err)
		}

		var item models.ChecklistItem
		if err := doc.DataTo(&item); err != nil {
			log.Printf("Warning: failed to parse checklist item %s: %v", doc.Ref.ID, err)
			continue
		}
		items = append(items, item)
	}

	return items, nil
}

// CompleteChecklistItem marks an item completed by the given user. Completing
// an already-completed item succeeds without overwriting who completed it or
// when.
func (db *FirestoreDB) CompleteChecklistItem(ctx context.Context, taskID, byUser string) (*models.ChecklistItem, error) {
	itemRef := db.client.Collection(colChecklist).Doc(taskID)
	var item models.ChecklistItem

	err := db.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(itemRef)
		if err != nil {
			if isNotFound(err) {
				return apperrors.NotFound("checklist item %s not found", taskID)
			}
			return fmt.Errorf("failed to get checklist item: %w", err)
		}
		if err := doc.DataTo(&item); err != nil {
			return fmt.Errorf("failed to parse checklist item: %w", err)
		}
		if item.Completed {
			return nil // idempotent: the original completer stands
		}

		now := time.Now()
		item.Completed = true
		item.CompletedBy = byUser
		item.CompletedAt = &now
		item.UpdatedAt = now
		return tx.Set(itemRef, &item)
	})
	if err != nil {
		return nil, err
	}

	return &item, nil
}

// ReopenChecklistItem clears an item's completion state.
func (db *FirestoreDB) ReopenChecklistItem(ctx context.Context, taskID string) (*models.ChecklistItem, error) {
	itemRef := db.client.Collection(colChecklist).Doc(taskID)
	var item models.ChecklistItem

	err := db.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(itemRef)
		if err != nil {
			if isNotFound(err) {
				return apperrors.NotFound("checklist item %s not found", taskID)
			}
			return fmt.Errorf("failed to get checklist item: %w", err)
		}
		if err := doc.DataTo(&item); err != nil {
			return fmt.Errorf("failed to parse checklist item: %w", err)
		}

		item.Completed = false
		item.CompletedBy = ""
		item.CompletedAt = nil
		item.UpdatedAt = time.Now()
		return tx.Set(itemRef, &item)
	})
	if err != nil {
		return nil, err
	}

	return &item, nil
}

// DeleteChecklistItem deletes a checklist item
func (db *FirestoreDB) DeleteChecklistItem(ctx context.Context, taskID string) error {
	itemRef := db.client.Collection(colChecklist).Doc(taskID)
	if _, err := itemRef.Get(ctx); err != nil {
		if isNotFound(err) {
			return apperrors.NotFound("checklist item %s not found", taskID)
		}
		return fmt.Errorf("failed to get checklist item: %w", err)
	}

	if _, err := itemRef.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete checklist item: %w", err)
	}
	return nil
}

// --- User Operations ---

// CreateUser creates a new user. Usernames are unique: a lookup-before-create
// check rejects duplicates.
func (db *FirestoreDB) CreateUser(ctx context.Context, user *models.User) error {
	existing, err := db.GetUserByName(ctx, user.Name)
	if err != nil && !apperrors.IsKind(err, apperrors.KindNotFound) {
		return err
	}
	if existing != nil {
		return apperrors.Conflict("username %s already registered", user.Name)
	}

	_, err = db.client.Collection(colUsers).Doc(user.UserID).Create(ctx, user)
	if err != nil {
		if isAlreadyExists(err) {
			return apperrors.Conflict("user with ID %s already exists", user.UserID)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID
func (db *FirestoreDB) GetUser(ctx context.Context, userID string) (*models.User, error) {
	doc, err := db.client.Collection(colUsers).Doc(userID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, apperrors.NotFound("user %s not found", userID)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	var user models.User
	if err := doc.DataTo(&user); err != nil {
		return nil, fmt.Errorf("failed to parse user: %w", err)
	}

	return &user, nil
}

// GetUserByName retrieves a user by username
func (db *FirestoreDB) GetUserByName(ctx context.Context, name string) (*models.User, error) {
	iter := db.client.Collection(colUsers).
		Where("name", "==", name).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, apperrors.NotFound("user %s not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	var user models.User
	if err := doc.DataTo(&user); err != nil {
		return nil, fmt.Errorf("failed to parse user: %w", err)
	}

	return &user, nil
}

// ListUsers retrieves all users
func (db *FirestoreDB) ListUsers(ctx context.Context) ([]models.User, error) {
	return db.listUsers(ctx, db.client.Collection(colUsers).Query)
}

// ListUsersByRole retrieves all users with the given role
func (db *FirestoreDB) ListUsersByRole(ctx context.Context, role models.Role) ([]models.User, error) {
	return db.listUsers(ctx, db.client.Collection(colUsers).Where("role", "==", string(role)))
}

func (db *FirestoreDB) listUsers(ctx context.Context, q firestore.Query) ([]models.User, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var users []models.User
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate users: %w", err)
		}

		var user models.User
		if err := doc.DataTo(&user); err != nil {
			log.Printf("Warning: failed to parse user %s: %v", doc.Ref.ID, err)
			continue
		}
		users = append(users, user)
	}

	return users, nil
}

// RenameUser changes a username and rewrites the assigned_users mirror on
// every device the user holds, all in one transaction. Usernames appear in
// device documents, so a rename outside a transaction would leave the mirror
// pointing at a name that no longer exists.
func (db *FirestoreDB) RenameUser(ctx context.Context, userID, newName string) (*models.User, error) {
	userRef := db.client.Collection(colUsers).Doc(userID)
	var user models.User

	err := db.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(userRef)
		if err != nil {
			if isNotFound(err) {
				return apperrors.NotFound("user %s not found", userID)
			}
			return fmt.Errorf("failed to get user: %w", err)
		}
		if err := doc.DataTo(&user); err != nil {
			return fmt.Errorf("failed to parse user: %w", err)
		}

		taken := tx.Documents(db.client.Collection(colUsers).
			Where("name", "==", newName).Limit(1))
		defer taken.Stop()
		if _, err := taken.Next(); err != iterator.Done {
			if err != nil {
				return fmt.Errorf("failed to check username: %w", err)
			}
			return apperrors.Conflict("username %s already taken", newName)
		}

		oldName := user.Name
		now := time.Now()
		user.Name = newName
		user.UpdatedAt = now
		if err := tx.Set(userRef, &user); err != nil {
			return fmt.Errorf("failed to update user: %w", err)
		}

		for _, deviceID := range user.AssignedDevices {
			devRef := db.client.Collection(colDevices).Doc(deviceID)
			if err := tx.Update(devRef, []firestore.Update{
				{Path: "assigned_users", Value: firestore.ArrayRemove(oldName)},
				{Path: "assigned_users", Value: firestore.ArrayUnion(newName)},
				{Path: "updated_at", Value: now},
			}); err != nil {
				return fmt.Errorf("failed to rewrite device %s: %w", deviceID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// UpdateLastLogin records a successful login time
func (db *FirestoreDB) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := db.client.Collection(colUsers).Doc(userID).Update(ctx, []firestore.Update{
		{Path: "last_login", Value: at},
	})
	if err != nil {
		if isNotFound(err) {
			return apperrors.NotFound("user %s not found", userID)
		}
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// --- Credential Operations ---

// StorePasswordHash stores a password hash for a user
func (db *FirestoreDB) StorePasswordHash(ctx context.Context, userID, passwordHash string) error {
	_, err := db.client.Collection(colCredentials).Doc(userID).Set(ctx, map[string]interface{}{
		"user_id":       userID,
		"password_hash": passwordHash,
		"updated_at":    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to store password hash: %w", err)
	}
	return nil
}

// GetPasswordHash retrieves a password hash for a user
func (db *FirestoreDB) GetPasswordHash(ctx context.Context, userID string) (string, error) {
	doc, err := db.client.Collection(colCredentials).Doc(userID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return "", apperrors.NotFound("credentials for user %s not found", userID)
		}
		return "", fmt.Errorf("failed to get password hash: %w", err)
	}

	data := doc.Data()
	if hash, ok := data["password_hash"].(string); ok {
		return hash, nil
	}

	return "", apperrors.NotFound("credentials for user %s not found", userID)
}

// --- Assignment Operations ---

// ReplaceAssignments swaps a user's assigned device set. The user document
// and every affected device document are written in the same transaction:
// either both sides of the relation move or neither does.
func (db *FirestoreDB) ReplaceAssignments(ctx context.Context, userID string, deviceIDs []string) error {
	userRef := db.client.Collection(colUsers).Doc(userID)

	return db.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(userRef)
		if err != nil {
			if isNotFound(err) {
				return apperrors.NotFound("user %s not found", userID)
			}
			return fmt.Errorf("failed to get user: %w", err)
		}
		var user models.User
		if err := doc.DataTo(&user); err != nil {
			return fmt.Errorf("failed to parse user: %w", err)
		}
		prev := append([]string(nil), user.AssignedDevices...)

		// Every requested device must exist; reads double as transaction
		// preconditions.
		for _, deviceID := range deviceIDs {
			if _, err := tx.Get(db.client.Collection(colDevices).Doc(deviceID)); err != nil {
				if isNotFound(err) {
					return apperrors.NotFound("device %s not found", deviceID)
				}
				return fmt.Errorf("failed to get device %s: %w", deviceID, err)
			}
		}

		now := time.Now()
		newSet := make(map[string]bool, len(deviceIDs))
		for _, id := range deviceIDs {
			newSet[id] = true
		}

		user.AssignedDevices = append([]string(nil), deviceIDs...)
		user.UpdatedAt = now
		if err := tx.Set(userRef, &user); err != nil {
			return fmt.Errorf("failed to update user: %w", err)
		}

		for _, deviceID := range deviceIDs {
			devRef := db.client.Collection(colDevices).Doc(deviceID)
			if err := tx.Update(devRef, []firestore.Update{
				{Path: "assigned_users", Value: firestore.ArrayUnion(user.Name)},
				{Path: "updated_at", Value: now},
			}); err != nil {
				return fmt.Errorf("failed to update device %s: %w", deviceID, err)
			}
		}

		// Devices dropped by the replacement lose the user from their mirror.
		for _, deviceID := range prev {
			if newSet[deviceID] {
				continue
			}
			devRef := db.client.Collection(colDevices).Doc(deviceID)
			if err := tx.Update(devRef, []firestore.Update{
				{Path: "assigned_users", Value: firestore.ArrayRemove(user.Name)},
				{Path: "updated_at", Value: now},
			}); err != nil {
				return fmt.Errorf("failed to update device %s: %w", deviceID, err)
			}
		}
		return nil
	})
}

// RemoveAssignments removes the given devices from a user and removes the
// user from each named device's mirror, atomically. Devices that no longer
// exist are skipped: removal must still succeed after a device is deleted.
func (db *FirestoreDB) RemoveAssignments(ctx context.Context, userID string, deviceIDs []string) error {
	userRef := db.client.Collection(colUsers).Doc(userID)

	return db.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(userRef)
		if err != nil {
			if isNotFound(err) {
				return apperrors.NotFound("user %s not found", userID)
			}
			return fmt.Errorf("failed to get user: %w", err)
		}
		var user models.User
		if err := doc.DataTo(&user); err != nil {
			return fmt.Errorf("failed to parse user: %w", err)
		}

		remove := make(map[string]bool, len(deviceIDs))
		var present []*firestore.DocumentRef
		for _, deviceID := range deviceIDs {
			remove[deviceID] = true
			devRef := db.client.Collection(colDevices).Doc(deviceID)
			if _, err := tx.Get(devRef); err != nil {
				if isNotFound(err) {
					continue
				}
				return fmt.Errorf("failed to get device %s: %w", deviceID, err)
			}
			present = append(present, devRef)
		}

		now := time.Now()
		var kept []string
		for _, id := range user.AssignedDevices {
			if !remove[id] {
				kept = append(kept, id)
			}
		}
		user.AssignedDevices = kept
		user.UpdatedAt = now
		if err := tx.Set(userRef, &user); err != nil {
			return fmt.Errorf("failed to update user: %w", err)
		}

		for _, devRef := range present {
			if err := tx.Update(devRef, []firestore.Update{
				{Path: "assigned_users", Value: firestore.ArrayRemove(user.Name)},
				{Path: "updated_at", Value: now},
			}); err != nil {
				return fmt.Errorf("failed to update device: %w", err)
			}
		}
		return nil
	})
}

// --- Shutdown Log Operations ---

// AppendShutdownLog appends an immutable log entry. There is deliberately no
// update or delete counterpart.
func (db *FirestoreDB) AppendShutdownLog(ctx context.Context, entry *models.ShutdownLogEntry) error {
	_, err := db.client.Collection(colLogs).Doc(entry.LogID).Create(ctx, entry)
	if err != nil {
		if isAlreadyExists(err) {
			return apperrors.Conflict("shutdown log %s already exists", entry.LogID)
		}
		return fmt.Errorf("failed to append shutdown log: %w", err)
	}
	return nil
}

// GetShutdownLog retrieves a log entry by ID
func (db *FirestoreDB) GetShutdownLog(ctx context.Context, logID string) (*models.ShutdownLogEntry, error) {
	doc, err := db.client.Collection(colLogs).Doc(logID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, apperrors.NotFound("shutdown log %s not found", logID)
		}
		return nil, fmt.Errorf("failed to get shutdown log: %w", err)
	}

	var entry models.ShutdownLogEntry
	if err := doc.DataTo(&entry); err != nil {
		return nil, fmt.Errorf("failed to parse shutdown log: %w", err)
	}

	return &entry, nil
}

// QueryShutdownLogs retrieves log entries matching the filter, newest first.
func (db *FirestoreDB) QueryShutdownLogs(ctx context.Context, filter models.LogFilter) ([]models.ShutdownLogEntry, error) {
	q := db.client.Collection(colLogs).Query
	if filter.Device != "" {
		q = q.Where("device", "==", filter.Device)
	}
	if filter.User != "" {
		q = q.Where("user", "==", filter.User)
	}
	if filter.StartDate != nil {
		q = q.Where("timestamp", ">=", *filter.StartDate)
	}
	if filter.EndDate != nil {
		q = q.Where("timestamp", "<=", *filter.EndDate)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	q = q.OrderBy("timestamp", firestore.Desc).Limit(limit)

	iter := q.Documents(ctx)
	defer iter.Stop()

	var entries []models.ShutdownLogEntry
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate shutdown logs: %w", err)
		}

		var entry models.ShutdownLogEntry
		if err := doc.DataTo(&entry); err != nil {
			log.Printf("Warning: failed to parse shutdown log %s: %v", doc.Ref.ID, err)
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// LastShutdownLogForDevice returns the most recent log entry for a device,
// or nil if the device has never been through the gate.
func (db *FirestoreDB) LastShutdownLogForDevice(ctx context.Context, deviceID string) (*models.ShutdownLogEntry, error) {
	iter := db.client.Collection(colLogs).
		Where("device", "==", deviceID).
		OrderBy("timestamp", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last shutdown log: %w", err)
	}

	var entry models.ShutdownLogEntry
	if err := doc.DataTo(&entry); err != nil {
		return nil, fmt.Errorf("failed to parse shutdown log: %w", err)
	}

	return &entry, nil
}
