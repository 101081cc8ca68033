package tests

import (
	"errors"
	"testing"
)

func TestCreateDeleteSites(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	_, err = user.createSite("plant-a")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatal("non admins cannot create sites")
	}

	siteA, err := admin.createSite("plant-a")
	if err != nil {
		t.Fatal(err)
	}
	siteB, err := admin.createSite("plant-b")
	if err != nil {
		t.Fatal(err)
	}

	_, err = admin.createSite("plant-a")
	if !errors.Is(err, ErrConflict) {
		t.Fatal("duplicate site name should be rejected")
	}

	sites, err := admin.listSites()
	if err != nil {
		t.Fatal(err)
	}
	if len(sites) != 2 {
		t.Fatalf("expected 2 sites, got %d", len(sites))
	}

	if err := admin.deleteSite(siteA); err != nil {
		t.Fatal(err)
	}

	if err := user.deleteSite(siteB); !errors.Is(err, ErrUnauthorized) {
		t.Fatal("non admins cannot delete sites")
	}

	sites, err = admin.listSites()
	if err != nil {
		t.Fatal(err)
	}
	if len(sites) != 1 || sites[0].Name != "plant-b" {
		t.Fatal("site list wrong after delete")
	}
}

func TestSiteListScopedToMembership(t *testing.T) {
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

	visible, err := user.listSites()
	if err != nil {
		t.Fatal(err)
	}
	if len(visible) != 1 || visible[0].Id.String() != siteA {
		t.Fatal("user should only see sites they hold a role on")
	}
}

func TestSiteAccessRequiresMembership(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	member, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}
	outsider, err := env.newUser("xyz")
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
	if err := admin.grant(member.userId, site, roleId); err != nil {
		t.Fatal(err)
	}

	if _, err := member.getSite(site); err != nil {
		t.Fatal(err)
	}
	if _, err := member.siteTree(site); err != nil {
		t.Fatal(err)
	}

	if _, err := outsider.getSite(site); !errors.Is(err, ErrUnauthorized) {
		t.Fatal("non members cannot read site info")
	}
	if _, err := outsider.siteTree(site); !errors.Is(err, ErrUnauthorized) {
		t.Fatal("non members cannot read site trees")
	}

	// Admins can access any site without a grant.
	if _, err := admin.getSite(site); err != nil {
		t.Fatal(err)
	}
}

func TestDeviceErrorHistory(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	site, err := admin.createSite("plant-a")
	if err != nil {
		t.Fatal(err)
	}
	building, err := admin.createBuilding("assembly", site)
	if err != nil {
		t.Fatal(err)
	}
	floor, err := admin.createFloor("ground", building)
	if err != nil {
		t.Fatal(err)
	}
	device, err := admin.createDevice("sensor-1", floor, 48.85, 2.35)
	if err != nil {
		t.Fatal(err)
	}

	history, err := admin.errorHistory(device)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 0 {
		t.Fatal("new devices should have no error history")
	}

	if _, err := admin.recordError(device, "power_loss"); err != nil {
		t.Fatal(err)
	}
	if _, err := admin.recordError(device, "overheat"); err != nil {
		t.Fatal(err)
	}

	history, err = admin.errorHistory(device)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(history))
	}

	if _, err := admin.recordError(device, ""); err == nil {
		t.Fatal("error kind must be required")
	}
}
