package auth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"sitewatch/supervision/schema"
	"sitewatch/utils"
)

func AdminOnly(db *gorm.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			user, err := UserFromContext(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			if !user.IsAdmin {
				http.Error(w, fmt.Sprintf("user %v is not an admin", user.Id), http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(hfn)
	}
}

func isSiteMember(siteId, userId uuid.UUID, db *gorm.DB) (bool, error) {
	var grant schema.UserSiteRole
	result := db.Limit(1).Find(&grant, "site_id = ? and user_id = ?", siteId, userId)
	if result.Error != nil {
		return false, schema.ErrDbAccessFailed
	}
	return result.RowsAffected == 1, nil
}

// SiteMemberOnly admits users holding at least one role on the {site_id} in
// the url, plus platform admins.
func SiteMemberOnly(db *gorm.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			siteId, err := utils.URLParamUUID(r, "site_id")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			user, err := UserFromContext(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			isMember, err := isSiteMember(siteId, user.Id, db)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			if !user.IsAdmin && !isMember {
				http.Error(w, "user must hold a role on the site to access endpoint", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(hfn)
	}
}

// SelfOrAdminOnly admits the user named by {user_id} in the url and platform
// admins, so users can read their own grants and overview without seeing
// anyone else's.
func SelfOrAdminOnly() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			userId, err := utils.URLParamUUID(r, "user_id")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			user, err := UserFromContext(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			if !user.IsAdmin && user.Id != userId {
				http.Error(w, fmt.Sprintf("user %v cannot access data for user %v", user.Id, userId), http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(hfn)
	}
}

// CanViewSite reports whether the user may read the given site's hierarchy.
func CanViewSite(siteId uuid.UUID, user schema.User, db *gorm.DB) (bool, error) {
	if user.IsAdmin {
		return true, nil
	}

	isMember, err := isSiteMember(siteId, user.Id, db)
	if err != nil {
		if errors.Is(err, schema.ErrSiteNotFound) {
			return false, nil
		}
		return false, err
	}
	return isMember, nil
}
