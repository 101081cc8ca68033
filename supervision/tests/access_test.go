package tests

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestGrantAndRevoke(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	site, err := admin.createSite("plant-a")
	if err != nil {
		t.Fatal(err)
	}
	roleId, err := admin.roleIdByName("technician")
	if err != nil {
		t.Fatal(err)
	}

	err = user.grant(user.userId, site, roleId)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatal("non admins cannot create grants")
	}

	if err := admin.grant(user.userId, site, roleId); err != nil {
		t.Fatal(err)
	}

	grants, err := admin.userGrants(user.userId)
	if err != nil {
		t.Fatal(err)
	}
	if len(grants) != 1 {
		t.Fatalf("expected 1 grant, got %d", len(grants))
	}
	if grants[0].UserId.String() != user.userId || grants[0].SiteId.String() != site || grants[0].RoleId.String() != roleId {
		t.Fatal("grant info wrong")
	}

	if err := admin.revoke(user.userId, site, roleId); err != nil {
		t.Fatal(err)
	}

	grants, err = admin.userGrants(user.userId)
	if err != nil {
		t.Fatal(err)
	}
	if len(grants) != 0 {
		t.Fatal("expected no grants after revoke")
	}
}

func TestDuplicateGrantRejected(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	site, err := admin.createSite("plant-a")
	if err != nil {
		t.Fatal(err)
	}
	roleId, err := admin.roleIdByName("user")
	if err != nil {
		t.Fatal(err)
	}

	if err := admin.grant(user.userId, site, roleId); err != nil {
		t.Fatal(err)
	}

	err = admin.grant(user.userId, site, roleId)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate grant should be rejected, got %v", err)
	}

	grants, err := admin.userGrants(user.userId)
	if err != nil {
		t.Fatal(err)
	}
	if len(grants) != 1 {
		t.Fatal("duplicate grant must not create a second row")
	}
}

func TestGrantUnknownReferences(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	site, err := admin.createSite("plant-a")
	if err != nil {
		t.Fatal(err)
	}
	roleId, err := admin.roleIdByName("user")
	if err != nil {
		t.Fatal(err)
	}

	missing := uuid.New().String()

	if err := admin.grant(missing, site, roleId); !errors.Is(err, ErrNotFound) {
		t.Fatal("grant with unknown user should fail")
	}
	if err := admin.grant(user.userId, missing, roleId); !errors.Is(err, ErrNotFound) {
		t.Fatal("grant with unknown site should fail")
	}
	if err := admin.grant(user.userId, site, missing); !errors.Is(err, ErrNotFound) {
		t.Fatal("grant with unknown role should fail")
	}
}

func TestRevokeMissingGrant(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	site, err := admin.createSite("plant-a")
	if err != nil {
		t.Fatal(err)
	}
	roleId, err := admin.roleIdByName("user")
	if err != nil {
		t.Fatal(err)
	}

	err = admin.revoke(user.userId, site, roleId)
	if !errors.Is(err, ErrNotFound) {
		t.Fatal("revoking a grant that does not exist should fail")
	}
}

func TestUserAccessQueries(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	siteA, err := admin.createSite("plant-a")
	if err != nil {
		t.Fatal(err)
	}
	siteB, err := admin.createSite("plant-b")
	if err != nil {
		t.Fatal(err)
	}

	techRole, err := admin.roleIdByName("technician")
	if err != nil {
		t.Fatal(err)
	}
	supRole, err := admin.roleIdByName("super-admin")
	if err != nil {
		t.Fatal(err)
	}

	// Three grants across two sites, with the technician role appearing twice.
	if err := admin.grant(user.userId, siteA, techRole); err != nil {
		t.Fatal(err)
	}
	if err := admin.grant(user.userId, siteA, supRole); err != nil {
		t.Fatal(err)
	}
	if err := admin.grant(user.userId, siteB, techRole); err != nil {
		t.Fatal(err)
	}

	sites, err := user.userSites(user.userId)
	if err != nil {
		t.Fatal(err)
	}
	if len(sites) != 2 {
		t.Fatalf("expected 2 distinct sites, got %d", len(sites))
	}

	roles, err := user.userRoles(user.userId)
	if err != nil {
		t.Fatal(err)
	}
	if len(roles) != 2 {
		t.Fatalf("expected 2 distinct roles, got %d", len(roles))
	}

	onSiteA, err := user.userRolesOnSite(user.userId, siteA)
	if err != nil {
		t.Fatal(err)
	}
	if len(onSiteA) != 2 {
		t.Fatalf("expected 2 roles on plant-a, got %d", len(onSiteA))
	}

	onSiteB, err := user.userRolesOnSite(user.userId, siteB)
	if err != nil {
		t.Fatal(err)
	}
	if len(onSiteB) != 1 || onSiteB[0].Name != "technician" {
		t.Fatal("roles on plant-b wrong")
	}
}

func TestAccessQueriesRestrictedToSelfOrAdmin(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	user1, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}
	user2, err := env.newUser("xyz")
	if err != nil {
		t.Fatal(err)
	}

	_, err = user2.userGrants(user1.userId)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatal("users cannot read other users' grants")
	}

	if _, err := user1.userGrants(user1.userId); err != nil {
		t.Fatal(err)
	}
	if _, err := admin.userGrants(user1.userId); err != nil {
		t.Fatal(err)
	}
}
