package tests

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestOverviewFullHierarchy(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	site, err := admin.createSite("headquarters")
	if err != nil {
		t.Fatal(err)
	}
	building, err := admin.createBuilding("main", site)
	if err != nil {
		t.Fatal(err)
	}
	floor, err := admin.createFloor("first", building)
	if err != nil {
		t.Fatal(err)
	}
	device, err := admin.createDevice("hvac-1", floor, 48.85, 2.35)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := admin.recordError(device, "power_loss"); err != nil {
		t.Fatal(err)
	}

	siteMap, err := admin.uploadMap(mapUploadArgs{filename: "site.png", content: pngContent, siteId: site})
	if err != nil {
		t.Fatal(err)
	}
	floorMap, err := admin.uploadMap(mapUploadArgs{filename: "floor.png", content: pngContent, floorId: floor})
	if err != nil {
		t.Fatal(err)
	}

	roleId, err := admin.roleIdByName("technician")
	if err != nil {
		t.Fatal(err)
	}
	if err := admin.grant(user.userId, site, roleId); err != nil {
		t.Fatal(err)
	}

	overview, err := user.overview(user.userId)
	if err != nil {
		t.Fatal(err)
	}

	if len(overview.Sites) != 1 {
		t.Fatalf("expected 1 site in overview, got %d", len(overview.Sites))
	}

	siteNode := overview.Sites[0]
	if siteNode.SiteId.String() != site || siteNode.Name != "headquarters" {
		t.Fatal("site node wrong")
	}
	if siteNode.Map == nil || siteNode.Map.MapId != siteMap.Id {
		t.Fatal("site map missing from overview")
	}

	if len(siteNode.Buildings) != 1 || siteNode.Buildings[0].Name != "main" {
		t.Fatal("building node wrong")
	}

	floors := siteNode.Buildings[0].Floors
	if len(floors) != 1 || floors[0].Name != "first" {
		t.Fatal("floor node wrong")
	}
	if floors[0].Map == nil || floors[0].Map.MapId != floorMap.Id {
		t.Fatal("floor map missing from overview")
	}

	devices := floors[0].Devices
	if len(devices) != 1 || devices[0].Name != "hvac-1" {
		t.Fatal("device node wrong")
	}
	if len(devices[0].Errors) != 1 || devices[0].Errors[0].Kind != "power_loss" {
		t.Fatal("device error history missing from overview")
	}
}

func TestOverviewDeduplicatesSites(t *testing.T) {
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

	techRole, err := admin.roleIdByName("technician")
	if err != nil {
		t.Fatal(err)
	}
	supRole, err := admin.roleIdByName("super-admin")
	if err != nil {
		t.Fatal(err)
	}

	// Two roles on the same site must not duplicate the site node.
	if err := admin.grant(user.userId, site, techRole); err != nil {
		t.Fatal(err)
	}
	if err := admin.grant(user.userId, site, supRole); err != nil {
		t.Fatal(err)
	}

	overview, err := user.overview(user.userId)
	if err != nil {
		t.Fatal(err)
	}
	if len(overview.Sites) != 1 {
		t.Fatalf("expected 1 site, got %d", len(overview.Sites))
	}
}

func TestOverviewScopedToGrants(t *testing.T) {
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
	if _, err := admin.createSite("plant-b"); err != nil {
		t.Fatal(err)
	}

	roleId, err := admin.roleIdByName("user")
	if err != nil {
		t.Fatal(err)
	}
	if err := admin.grant(user.userId, siteA, roleId); err != nil {
		t.Fatal(err)
	}

	overview, err := user.overview(user.userId)
	if err != nil {
		t.Fatal(err)
	}
	if len(overview.Sites) != 1 || overview.Sites[0].SiteId.String() != siteA {
		t.Fatal("overview should only contain granted sites")
	}
}

func TestOverviewEmptyForUserWithNoGrants(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := admin.createSite("plant-a"); err != nil {
		t.Fatal(err)
	}

	overview, err := user.overview(user.userId)
	if err != nil {
		t.Fatal(err)
	}
	if len(overview.Sites) != 0 {
		t.Fatal("user with no grants should get an empty overview")
	}
}

func TestOverviewRestrictedToSelfOrAdmin(t *testing.T) {
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

	_, err = user2.overview(user1.userId)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatal("users cannot read other users' overviews")
	}

	if _, err := admin.overview(user1.userId); err != nil {
		t.Fatal(err)
	}

	_, err = admin.overview(uuid.New().String())
	if !errors.Is(err, ErrNotFound) {
		t.Fatal("overview for unknown user should fail")
	}
}
