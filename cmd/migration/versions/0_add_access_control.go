package versions

import (
	"log"

	"gorm.io/gorm"

	"sitewatch/supervision/schema"
)

/*
 * Earlier deployments stored the facility hierarchy only, with a single
 * shared login. This migration introduces per-user access control on top of
 * the existing site data.
 */

func dropIndexes(model interface{}, txn *gorm.DB, indexes ...string) error {
	for _, idx := range indexes {
		if !txn.Migrator().HasIndex(model, idx) {
			continue
		}
		if err := txn.Migrator().DropIndex(model, idx); err != nil {
			return err
		}
	}
	return nil
}

func migrateMaps(txn *gorm.DB) error {
	// The old per-owner indexes were not unique, gorm recreates them with the
	// uniqueness the ownership rules require.
	return dropIndexes(&schema.Map{}, txn, "ix_maps_site_id", "ix_maps_floor_id")
}

func Migration_1_add_access_control(txn *gorm.DB) error {
	log.Println("adding access control tables")

	if err := migrateMaps(txn); err != nil {
		return err
	}

	err := txn.Migrator().AutoMigrate(
		&schema.User{}, &schema.Role{}, &schema.UserSiteRole{},
		&schema.Site{}, &schema.Building{}, &schema.Floor{}, &schema.Device{},
		&schema.ErrorRecord{}, &schema.Map{},
	)
	if err != nil {
		return err
	}

	log.Println("access control migration complete")

	return nil
}
