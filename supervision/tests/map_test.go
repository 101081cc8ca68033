package tests

import (
	"errors"
	"sync"
	"testing"
)

var pngContent = []byte("\x89PNG\r\n\x1a\nfake image bytes")

func TestUploadUnownedMapAndAssign(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	site, err := admin.createSite("plant-a")
	if err != nil {
		t.Fatal(err)
	}

	uploaded, err := admin.uploadMap(mapUploadArgs{filename: "site.png", content: pngContent})
	if err != nil {
		t.Fatal(err)
	}
	if uploaded.SiteId != nil || uploaded.FloorId != nil {
		t.Fatal("freshly uploaded map should be unowned")
	}

	assigned, err := admin.assignMapOwner(uploaded.Id.String(), map[string]string{"site_id": site})
	if err != nil {
		t.Fatal(err)
	}
	if assigned.SiteId == nil || assigned.SiteId.String() != site || assigned.FloorId != nil {
		t.Fatal("map should be owned by the site after assignment")
	}

	found, err := admin.mapForSite(site)
	if err != nil {
		t.Fatal(err)
	}
	if found.Id != uploaded.Id {
		t.Fatal("site map lookup returned wrong map")
	}
}

func TestMapAssignmentIsOneShot(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
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

	uploaded, err := admin.uploadMap(mapUploadArgs{filename: "site.png", content: pngContent, siteId: siteA})
	if err != nil {
		t.Fatal(err)
	}

	_, err = admin.assignMapOwner(uploaded.Id.String(), map[string]string{"site_id": siteB})
	if !errors.Is(err, ErrConflict) {
		t.Fatal("maps with an owner cannot be reassigned")
	}
}

func TestOwnerCanOnlyHaveOneMap(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	site, err := admin.createSite("plant-a")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := admin.uploadMap(mapUploadArgs{filename: "a.png", content: pngContent, siteId: site}); err != nil {
		t.Fatal(err)
	}

	_, err = admin.uploadMap(mapUploadArgs{filename: "b.png", content: pngContent, siteId: site})
	if !errors.Is(err, ErrConflict) {
		t.Fatal("a site can only own one map")
	}

	unowned, err := admin.uploadMap(mapUploadArgs{filename: "c.png", content: pngContent})
	if err != nil {
		t.Fatal(err)
	}

	_, err = admin.assignMapOwner(unowned.Id.String(), map[string]string{"site_id": site})
	if !errors.Is(err, ErrConflict) {
		t.Fatal("assignment to an owner that already has a map should fail")
	}
}

func TestMapOwnerIsSiteOrFloorNotBoth(t *testing.T) {
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

	_, err = admin.uploadMap(mapUploadArgs{filename: "both.png", content: pngContent, siteId: site, floorId: floor})
	if !errors.Is(err, ErrUnprocessable) {
		t.Fatal("uploading a map with both owners should fail")
	}

	unowned, err := admin.uploadMap(mapUploadArgs{filename: "x.png", content: pngContent})
	if err != nil {
		t.Fatal(err)
	}

	_, err = admin.assignMapOwner(unowned.Id.String(), map[string]string{"site_id": site, "floor_id": floor})
	if !errors.Is(err, ErrUnprocessable) {
		t.Fatal("assignment with both owners should fail")
	}

	_, err = admin.assignMapOwner(unowned.Id.String(), map[string]string{})
	if !errors.Is(err, ErrUnprocessable) {
		t.Fatal("assignment with no owner should fail")
	}

	assigned, err := admin.assignMapOwner(unowned.Id.String(), map[string]string{"floor_id": floor})
	if err != nil {
		t.Fatal(err)
	}
	if assigned.FloorId == nil || assigned.SiteId != nil {
		t.Fatal("map owned by a floor must not reference a site")
	}
}

func TestMapUploadValidation(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	_, err = admin.uploadMap(mapUploadArgs{filename: "plan.pdf", content: []byte("%PDF-")})
	if !errors.Is(err, ErrUnprocessable) {
		t.Fatal("only png and jpeg uploads are accepted")
	}

	_, err = user.uploadMap(mapUploadArgs{filename: "a.png", content: pngContent})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatal("non admins cannot upload maps")
	}

	badGeometry := []map[string]string{
		{"center_lat": "NaN"},
		{"center_lng": "+Inf"},
		{"center_lat": "91"},
		{"center_lng": "-200.5"},
		{"zoom": "0"},
		{"zoom": "-2"},
	}
	for _, fields := range badGeometry {
		_, err = admin.uploadMap(mapUploadArgs{filename: "a.png", content: pngContent, fields: fields})
		if !errors.Is(err, ErrUnprocessable) {
			t.Fatalf("upload with fields %v should be rejected", fields)
		}
	}
}

func TestDeleteMapFreesOwner(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	site, err := admin.createSite("plant-a")
	if err != nil {
		t.Fatal(err)
	}

	first, err := admin.uploadMap(mapUploadArgs{filename: "a.png", content: pngContent, siteId: site})
	if err != nil {
		t.Fatal(err)
	}

	if err := admin.deleteMap(first.Id.String()); err != nil {
		t.Fatal(err)
	}

	if _, err := admin.getMap(first.Id.String()); !errors.Is(err, ErrNotFound) {
		t.Fatal("deleted map should not be found")
	}
	if _, err := admin.mapForSite(site); !errors.Is(err, ErrNotFound) {
		t.Fatal("site should have no map after deletion")
	}

	// The owner can be mapped again once its previous map is gone.
	if _, err := admin.uploadMap(mapUploadArgs{filename: "b.png", content: pngContent, siteId: site}); err != nil {
		t.Fatal(err)
	}
}

func TestMapImageRoundTrip(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	uploaded, err := admin.uploadMap(mapUploadArgs{filename: "a.png", content: pngContent})
	if err != nil {
		t.Fatal(err)
	}

	stored, err := env.storage.Read(uploaded.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer stored.Close()

	content := make([]byte, len(pngContent)+1)
	n, _ := stored.Read(content)
	if string(content[:n]) != string(pngContent) {
		t.Fatal("stored image content does not match upload")
	}
}

func TestMapReadsScopedToSiteMembers(t *testing.T) {
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
	building, err := admin.createBuilding("main", site)
	if err != nil {
		t.Fatal(err)
	}
	floor, err := admin.createFloor("first", building)
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

	floorMap, err := admin.uploadMap(mapUploadArgs{filename: "floor.png", content: pngContent, floorId: floor})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := member.getMap(floorMap.Id.String()); err != nil {
		t.Fatal(err)
	}
	if _, err := member.mapForFloor(floor); err != nil {
		t.Fatal(err)
	}

	if _, err := outsider.getMap(floorMap.Id.String()); !errors.Is(err, ErrUnauthorized) {
		t.Fatal("users without a role on the site cannot read its floor maps")
	}
	if _, err := outsider.mapForFloor(floor); !errors.Is(err, ErrUnauthorized) {
		t.Fatal("users without a role on the site cannot look up its floor maps")
	}

	unowned, err := admin.uploadMap(mapUploadArgs{filename: "spare.png", content: pngContent})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := member.getMap(unowned.Id.String()); !errors.Is(err, ErrUnauthorized) {
		t.Fatal("unowned maps are only visible to admins")
	}
	if _, err := admin.getMap(unowned.Id.String()); err != nil {
		t.Fatal(err)
	}
}

func TestConcurrentAssignToSameFloor(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	site, err := admin.createSite("plant-a")
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

	mapA, err := admin.uploadMap(mapUploadArgs{filename: "a.png", content: pngContent})
	if err != nil {
		t.Fatal(err)
	}
	mapB, err := admin.uploadMap(mapUploadArgs{filename: "b.png", content: pngContent})
	if err != nil {
		t.Fatal(err)
	}

	start := make(chan struct{})
	results := make(chan error, 2)
	var wg sync.WaitGroup
	for _, mapId := range []string{mapA.Id.String(), mapB.Id.String()} {
		wg.Add(1)
		go func(mapId string) {
			defer wg.Done()
			<-start
			_, err := admin.assignMapOwner(mapId, map[string]string{"floor_id": floor})
			results <- err
		}(mapId)
	}
	close(start)
	wg.Wait()
	close(results)

	successes, conflicts := 0, 0
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected assignment error: %v", err)
		}
	}

	if successes != 1 || conflicts != 1 {
		t.Fatalf("expected exactly one assignment to win, got %d successes and %d conflicts", successes, conflicts)
	}

	found, err := admin.mapForFloor(floor)
	if err != nil {
		t.Fatal(err)
	}
	if found.Id != mapA.Id && found.Id != mapB.Id {
		t.Fatal("floor should own one of the two contested maps")
	}
}
