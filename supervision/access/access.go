// Package access implements the ternary user/site/role association that
// governs which parts of the facility hierarchy a user can see.
package access

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"sitewatch/supervision/schema"
)

// Store answers grant, revoke and lookup queries over user_site_role rows.
// Methods take the db handle so callers can run them inside their own
// transactions.
type Store struct{}

func NewStore() *Store {
	return &Store{}
}

// Grant records that the user holds the role on the site. The three ids must
// all reference existing rows, and the same triple can only be granted once.
func (s *Store) Grant(db *gorm.DB, userId, siteId, roleId uuid.UUID) (schema.UserSiteRole, error) {
	var grant schema.UserSiteRole

	err := db.Transaction(func(txn *gorm.DB) error {
		if ok, err := schema.UserExists(txn, userId); err != nil {
			return err
		} else if !ok {
			return schema.ErrUserNotFound
		}
		if ok, err := schema.SiteExists(txn, siteId); err != nil {
			return err
		} else if !ok {
			return schema.ErrSiteNotFound
		}
		if ok, err := schema.RoleExists(txn, roleId); err != nil {
			return err
		} else if !ok {
			return schema.ErrRoleNotFound
		}

		grant = schema.UserSiteRole{UserId: userId, SiteId: siteId, RoleId: roleId}
		result := txn.Create(&grant)
		if result.Error != nil {
			// The composite primary key catches duplicate triples that race
			// past the existence checks.
			if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
				return schema.ErrDuplicateGrant
			}
			slog.Error("sql error creating access grant", "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		return nil
	})

	return grant, err
}

// Revoke removes a single grant. Revoking a grant that does not exist is an
// error so callers can distinguish a no-op from a successful removal.
func (s *Store) Revoke(db *gorm.DB, userId, siteId, roleId uuid.UUID) error {
	return db.Transaction(func(txn *gorm.DB) error {
		grant, err := schema.GetGrant(userId, siteId, roleId, txn)
		if err != nil {
			return err
		}

		result := txn.Delete(&grant)
		if result.Error != nil {
			slog.Error("sql error deleting access grant", "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		return nil
	})
}

// GrantsForUser returns every grant held by the user, including triples that
// share a site or a role. Order is not specified.
func (s *Store) GrantsForUser(db *gorm.DB, userId uuid.UUID) ([]schema.UserSiteRole, error) {
	if ok, err := schema.UserExists(db, userId); err != nil {
		return nil, err
	} else if !ok {
		return nil, schema.ErrUserNotFound
	}
	return schema.GetUserGrants(userId, db)
}

// RolesForUserOnSite returns the roles the user holds on one site.
func (s *Store) RolesForUserOnSite(db *gorm.DB, userId, siteId uuid.UUID) ([]schema.Role, error) {
	if ok, err := schema.UserExists(db, userId); err != nil {
		return nil, err
	} else if !ok {
		return nil, schema.ErrUserNotFound
	}
	if ok, err := schema.SiteExists(db, siteId); err != nil {
		return nil, err
	} else if !ok {
		return nil, schema.ErrSiteNotFound
	}

	var roles []schema.Role
	result := db.
		Joins("JOIN user_site_roles ON user_site_roles.role_id = roles.id").
		Where("user_site_roles.user_id = ? AND user_site_roles.site_id = ?", userId, siteId).
		Find(&roles)
	if result.Error != nil {
		slog.Error("sql error retrieving roles for user on site", "user_id", userId, "site_id", siteId, "error", result.Error)
		return nil, schema.ErrDbAccessFailed
	}
	return roles, nil
}

// SitesForUser returns the distinct sites the user holds at least one role
// on. A user granted two roles on the same site sees that site once.
func (s *Store) SitesForUser(db *gorm.DB, userId uuid.UUID) ([]schema.Site, error) {
	if ok, err := schema.UserExists(db, userId); err != nil {
		return nil, err
	} else if !ok {
		return nil, schema.ErrUserNotFound
	}

	var sites []schema.Site
	result := db.
		Distinct("sites.*").
		Joins("JOIN user_site_roles ON user_site_roles.site_id = sites.id").
		Where("user_site_roles.user_id = ?", userId).
		Find(&sites)
	if result.Error != nil {
		slog.Error("sql error retrieving sites for user", "user_id", userId, "error", result.Error)
		return nil, schema.ErrDbAccessFailed
	}
	return sites, nil
}

// RolesForUser returns the distinct roles the user holds across all sites.
func (s *Store) RolesForUser(db *gorm.DB, userId uuid.UUID) ([]schema.Role, error) {
	if ok, err := schema.UserExists(db, userId); err != nil {
		return nil, err
	} else if !ok {
		return nil, schema.ErrUserNotFound
	}

	var roles []schema.Role
	result := db.
		Distinct("roles.*").
		Joins("JOIN user_site_roles ON user_site_roles.role_id = roles.id").
		Where("user_site_roles.user_id = ?", userId).
		Find(&roles)
	if result.Error != nil {
		slog.Error("sql error retrieving roles for user", "user_id", userId, "error", result.Error)
		return nil, schema.ErrDbAccessFailed
	}
	return roles, nil
}

// SiteRoles pairs a site with the roles one user holds on it.
type SiteRoles struct {
	Site  schema.Site
	Roles []schema.Role
}

// SitesWithRoles groups the user's grants by site, resolving role rows, so a
// login response can show each accessible site with the roles held there.
func (s *Store) SitesWithRoles(db *gorm.DB, userId uuid.UUID) ([]SiteRoles, error) {
	sites, err := s.SitesForUser(db, userId)
	if err != nil {
		return nil, err
	}

	out := make([]SiteRoles, 0, len(sites))
	for _, site := range sites {
		roles, err := s.RolesForUserOnSite(db, userId, site.Id)
		if err != nil {
			return nil, err
		}
		out = append(out, SiteRoles{Site: site, Roles: roles})
	}
	return out, nil
}

// AccessibleSiteIds returns the deduplicated set of site ids the user can
// see. The aggregation layer uses this to scope hierarchy traversal.
func (s *Store) AccessibleSiteIds(db *gorm.DB, userId uuid.UUID) (map[uuid.UUID]bool, error) {
	grants, err := schema.GetUserGrants(userId, db)
	if err != nil {
		return nil, err
	}
	ids := make(map[uuid.UUID]bool, len(grants))
	for _, grant := range grants {
		ids[grant.SiteId] = true
	}
	return ids, nil
}
