package database

import "campfire/internal/models"

// PersistentModels lists every model that participates in migrations.
// New models must be registered here or they will silently lack a table.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Room{},
		&models.Membership{},
		&models.Message{},
		&models.Mention{},
		&models.PushSubscription{},
	}
}
