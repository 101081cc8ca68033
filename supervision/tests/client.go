package tests

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi/v5"

	"sitewatch/supervision/hierarchy"
	"sitewatch/supervision/services"
)

type httpTestRequest struct {
	api http.Handler

	method   string
	endpoint string
	headers  map[string]string
	json     interface{}
	body     io.Reader
	login    *loginInfo
}

func newHttpTestRequest(api http.Handler, method, endpoint string) *httpTestRequest {
	return &httpTestRequest{
		api:      api,
		method:   method,
		endpoint: endpoint,
		headers:  nil,
		json:     nil,
		body:     nil,
	}
}

func (r *httpTestRequest) Header(key, value string) *httpTestRequest {
	if r.headers == nil {
		r.headers = make(map[string]string)
	}
	r.headers[key] = value
	return r
}

func (r *httpTestRequest) Login(email, password string) *httpTestRequest {
	r.login = &loginInfo{Email: email, Password: password}
	return r
}

func (r *httpTestRequest) Auth(token string) *httpTestRequest {
	return r.Header("Authorization", fmt.Sprintf("Bearer %v", token))
}

func (r *httpTestRequest) Json(data interface{}) *httpTestRequest {
	r.json = data
	return r
}

func (r *httpTestRequest) Body(body io.Reader) *httpTestRequest {
	r.body = body
	return r
}

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrUnprocessable = errors.New("unprocessable")
)

func errorForStatus(status int) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusUnprocessableEntity:
		return ErrUnprocessable
	default:
		return nil
	}
}

// response body will be parsed into result, passing nil indicates that no result is returned.
func (r *httpTestRequest) Do(result interface{}) error {
	if r.json != nil {
		body := new(bytes.Buffer)
		err := json.NewEncoder(body).Encode(r.json)
		if err != nil {
			return fmt.Errorf("error encoding json body for endpoint %v: %w", r.endpoint, err)
		}
		r.body = body
	}

	req := httptest.NewRequest(r.method, r.endpoint, r.body)
	if r.headers != nil {
		for k, v := range r.headers {
			req.Header.Add(k, v)
		}
	}

	if r.login != nil {
		req.SetBasicAuth(r.login.Email, r.login.Password)
	}

	w := httptest.NewRecorder()

	r.api.ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		if err := errorForStatus(res.StatusCode); err != nil {
			return err
		}
		return fmt.Errorf("%v request to endpoint %v returned status %d, content '%v'", r.method, r.endpoint, res.StatusCode, w.Body.String())
	}

	if result != nil {
		err := json.NewDecoder(res.Body).Decode(result)
		if err != nil {
			return fmt.Errorf("error parsing %v response from endpoint %v: %w", r.method, r.endpoint, err)
		}
	}

	return nil
}

type client struct {
	api       chi.Router
	authToken string
	userId    string
}

func (c *client) Get(endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, "GET", endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

func (c *client) Post(endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, "POST", endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

func (c *client) Delete(endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, "DELETE", endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

type loginInfo struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c *client) signup(username, email, password string) (loginInfo, error) {
	body := map[string]string{
		"email": email, "username": username, "password": password,
	}

	err := c.Post("/user/signup").Json(body).Do(nil)
	if err != nil {
		return loginInfo{}, err
	}

	return loginInfo{Email: email, Password: password}, nil
}

type loginResult struct {
	UserId      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	Sites       []struct {
		SiteId   string   `json:"site_id"`
		SiteName string   `json:"site_name"`
		Roles    []string `json:"roles"`
	} `json:"sites"`
}

func (c *client) login(login loginInfo) error {
	res, err := c.loginResult(login)
	if err != nil {
		return err
	}

	c.authToken = res.AccessToken
	c.userId = res.UserId

	return nil
}

func (c *client) loginResult(login loginInfo) (loginResult, error) {
	var res loginResult
	err := c.Get("/user/login").Login(login.Email, login.Password).Do(&res)
	return res, err
}

func (c *client) deleteUser(userId string) error {
	return c.Delete(fmt.Sprintf("/user/%v", userId)).Do(nil)
}

func (c *client) promoteAdmin(userId string) error {
	return c.Post(fmt.Sprintf("/user/%v/admin", userId)).Do(nil)
}

func (c *client) demoteAdmin(userId string) error {
	return c.Delete(fmt.Sprintf("/user/%v/admin", userId)).Do(nil)
}

func (c *client) listUsers() ([]services.UserInfo, error) {
	var res []services.UserInfo
	err := c.Get("/user/list").Do(&res)
	return res, err
}

func (c *client) userInfo() (services.UserInfo, error) {
	var res services.UserInfo
	err := c.Get("/user/info").Do(&res)
	return res, err
}

func (c *client) listRoles() ([]services.RoleInfo, error) {
	var res []services.RoleInfo
	err := c.Get("/role/list").Do(&res)
	return res, err
}

func (c *client) createRole(name string) (string, error) {
	var res map[string]string
	err := c.Post("/role/create").Json(map[string]string{"name": name}).Do(&res)
	return res["role_id"], err
}

func (c *client) deleteRole(roleId string) error {
	return c.Delete(fmt.Sprintf("/role/%v", roleId)).Do(nil)
}

func (c *client) roleIdByName(name string) (string, error) {
	roles, err := c.listRoles()
	if err != nil {
		return "", err
	}
	for _, role := range roles {
		if role.Name == name {
			return role.Id.String(), nil
		}
	}
	return "", fmt.Errorf("no role named %v", name)
}

func (c *client) createSite(name string) (string, error) {
	var res map[string]string
	err := c.Post("/site/create").Json(map[string]string{"name": name}).Do(&res)
	return res["site_id"], err
}

func (c *client) deleteSite(siteId string) error {
	return c.Delete(fmt.Sprintf("/site/%v", siteId)).Do(nil)
}

func (c *client) listSites() ([]services.SiteInfo, error) {
	var res []services.SiteInfo
	err := c.Get("/site/list").Do(&res)
	return res, err
}

func (c *client) getSite(siteId string) (services.SiteInfo, error) {
	var res services.SiteInfo
	err := c.Get(fmt.Sprintf("/site/%v", siteId)).Do(&res)
	return res, err
}

func (c *client) siteTree(siteId string) (hierarchy.SiteNode, error) {
	var res hierarchy.SiteNode
	err := c.Get(fmt.Sprintf("/site/%v/tree", siteId)).Do(&res)
	return res, err
}

func (c *client) createBuilding(name, siteId string) (string, error) {
	body := map[string]interface{}{"name": name, "site_id": siteId}
	var res map[string]string
	err := c.Post("/building/create").Json(body).Do(&res)
	return res["building_id"], err
}

func (c *client) createFloor(name, buildingId string) (string, error) {
	body := map[string]interface{}{"name": name, "building_id": buildingId}
	var res map[string]string
	err := c.Post("/floor/create").Json(body).Do(&res)
	return res["floor_id"], err
}

func (c *client) createDevice(name, floorId string, lat, lng float64) (string, error) {
	body := map[string]interface{}{
		"name": name, "floor_id": floorId,
		"position": map[string]float64{"lat": lat, "lng": lng},
	}
	var res map[string]string
	err := c.Post("/device/create").Json(body).Do(&res)
	return res["device_id"], err
}

func (c *client) recordError(deviceId, kind string) (string, error) {
	var res map[string]string
	err := c.Post(fmt.Sprintf("/device/%v/errors", deviceId)).Json(map[string]string{"kind": kind}).Do(&res)
	return res["error_id"], err
}

func (c *client) errorHistory(deviceId string) ([]services.ErrorRecordInfo, error) {
	var res []services.ErrorRecordInfo
	err := c.Get(fmt.Sprintf("/device/%v/errors", deviceId)).Do(&res)
	return res, err
}

func (c *client) grant(userId, siteId, roleId string) error {
	body := map[string]string{"user_id": userId, "site_id": siteId, "role_id": roleId}
	return c.Post("/access/grant").Json(body).Do(nil)
}

func (c *client) revoke(userId, siteId, roleId string) error {
	return c.Delete(fmt.Sprintf("/access/%v/%v/%v", userId, siteId, roleId)).Do(nil)
}

func (c *client) userGrants(userId string) ([]services.GrantInfo, error) {
	var res []services.GrantInfo
	err := c.Get(fmt.Sprintf("/access/user/%v", userId)).Do(&res)
	return res, err
}

func (c *client) userSites(userId string) ([]services.SiteInfo, error) {
	var res []services.SiteInfo
	err := c.Get(fmt.Sprintf("/access/user/%v/sites", userId)).Do(&res)
	return res, err
}

func (c *client) userRoles(userId string) ([]services.RoleInfo, error) {
	var res []services.RoleInfo
	err := c.Get(fmt.Sprintf("/access/user/%v/roles", userId)).Do(&res)
	return res, err
}

func (c *client) userRolesOnSite(userId, siteId string) ([]services.RoleInfo, error) {
	var res []services.RoleInfo
	err := c.Get(fmt.Sprintf("/access/user/%v/site/%v", userId, siteId)).Do(&res)
	return res, err
}

type mapUploadArgs struct {
	filename string
	content  []byte
	siteId   string
	floorId  string
	fields   map[string]string
}

func (c *client) uploadMap(args mapUploadArgs) (services.MapInfo, error) {
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", args.filename)
	if err != nil {
		return services.MapInfo{}, err
	}
	if _, err := part.Write(args.content); err != nil {
		return services.MapInfo{}, err
	}

	if args.siteId != "" {
		if err := writer.WriteField("site_id", args.siteId); err != nil {
			return services.MapInfo{}, err
		}
	}
	if args.floorId != "" {
		if err := writer.WriteField("floor_id", args.floorId); err != nil {
			return services.MapInfo{}, err
		}
	}

	for field, value := range args.fields {
		if err := writer.WriteField(field, value); err != nil {
			return services.MapInfo{}, err
		}
	}

	if err := writer.Close(); err != nil {
		return services.MapInfo{}, err
	}

	var res services.MapInfo
	err = c.Post("/maps/upload").Header("Content-Type", writer.FormDataContentType()).Body(body).Do(&res)
	return res, err
}

func (c *client) assignMapOwner(mapId string, body map[string]string) (services.MapInfo, error) {
	var res services.MapInfo
	err := c.Post(fmt.Sprintf("/maps/%v/owner", mapId)).Json(body).Do(&res)
	return res, err
}

func (c *client) getMap(mapId string) (services.MapInfo, error) {
	var res services.MapInfo
	err := c.Get(fmt.Sprintf("/maps/%v", mapId)).Do(&res)
	return res, err
}

func (c *client) mapForSite(siteId string) (services.MapInfo, error) {
	var res services.MapInfo
	err := c.Get(fmt.Sprintf("/maps/site/%v", siteId)).Do(&res)
	return res, err
}

func (c *client) mapForFloor(floorId string) (services.MapInfo, error) {
	var res services.MapInfo
	err := c.Get(fmt.Sprintf("/maps/floor/%v", floorId)).Do(&res)
	return res, err
}

func (c *client) deleteMap(mapId string) error {
	return c.Delete(fmt.Sprintf("/maps/%v", mapId)).Do(nil)
}

func (c *client) overview(userId string) (hierarchy.Overview, error) {
	var res hierarchy.Overview
	err := c.Get(fmt.Sprintf("/overview/user/%v", userId)).Do(&res)
	return res, err
}
