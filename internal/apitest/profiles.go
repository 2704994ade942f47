package apitest

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

func profileSuite() Suite {
	return Suite{
		Name:        "profiles",
		Description: "own profile create-or-merge and public lookup",
		Cases: []Case{
			{Name: "unsaved profile returns a default", Run: testProfileDefault},
			{Name: "update creates then merges", Run: testProfileMerge},
			{Name: "identity fields cannot be overwritten", Run: testProfileProtectedFields},
			{Name: "username validation", Run: testProfileUsernameValidation},
			{Name: "public lookup", Run: testProfilePublic},
			{Name: "public lookup of unknown user", Run: testProfilePublicUnknown},
		},
	}
}

// freshUser returns a client for a user with no stored profile
func freshUser(c *Client) *Client {
	id := "apitest-" + uuid.NewString()
	return c.As(id, id+"@example.com")
}

func getProfile(ctx context.Context, c *Client) (map[string]json.RawMessage, error) {
	resp, err := c.Do(ctx, http.MethodGet, "/user/profile", nil)
	if err != nil {
		return nil, err
	}
	if err := expectStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}
	var p map[string]json.RawMessage
	if err := resp.JSON(&p); err != nil {
		return nil, err
	}
	return p, nil
}

func putProfile(ctx context.Context, c *Client, body interface{}) (map[string]json.RawMessage, error) {
	resp, err := c.Do(ctx, http.MethodPut, "/user/profile", body)
	if err != nil {
		return nil, err
	}
	if err := expectStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}
	var p map[string]json.RawMessage
	if err := resp.JSON(&p); err != nil {
		return nil, err
	}
	return p, nil
}

func expectField(p map[string]json.RawMessage, key, want string) error {
	got, ok := p[key]
	if !ok {
		return fail("profile has no %s field", key)
	}
	if !sameJSON(got, []byte(want)) {
		return fail("%s = %s, want %s", key, got, want)
	}
	return nil
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func testProfileDefault(ctx context.Context, env *Env) error {
	user := freshUser(env.Client)
	p, err := getProfile(ctx, user)
	if err != nil {
		return err
	}
	if err := expectField(p, "userId", quote(user.UserID())); err != nil {
		return err
	}
	if err := expectField(p, "email", quote(user.Email())); err != nil {
		return err
	}
	if err := expectField(p, "username", "null"); err != nil {
		return err
	}
	if _, ok := p["createdAt"]; !ok {
		return fail("default profile has no createdAt")
	}
	return nil
}

func testProfileMerge(ctx context.Context, env *Env) error {
	user := freshUser(env.Client)

	p, err := putProfile(ctx, user, map[string]interface{}{
		"username":      "tester_1",
		"favoriteColor": "blue",
	})
	if err != nil {
		return err
	}
	if err := expectField(p, "username", `"tester_1"`); err != nil {
		return err
	}
	if err := expectField(p, "favoriteColor", `"blue"`); err != nil {
		return err
	}

	p, err = putProfile(ctx, user, map[string]interface{}{
		"bio":           "solves in few moves",
		"favoriteColor": nil,
	})
	if err != nil {
		return err
	}
	if err := expectField(p, "username", `"tester_1"`); err != nil {
		return fail("after merge: %v", err)
	}
	if err := expectField(p, "favoriteColor", `"blue"`); err != nil {
		return fail("null must not clear a field: %v", err)
	}
	if err := expectField(p, "bio", `"solves in few moves"`); err != nil {
		return err
	}

	stored, err := getProfile(ctx, user)
	if err != nil {
		return err
	}
	for _, key := range []string{"username", "favoriteColor", "bio"} {
		if !sameJSON(stored[key], p[key]) {
			return fail("GET %s = %s, PUT returned %s", key, stored[key], p[key])
		}
	}
	if _, ok := stored["updatedAt"]; !ok {
		return fail("stored profile has no updatedAt")
	}

	p, err = putProfile(ctx, user, map[string]interface{}{"username": "  padded  "})
	if err != nil {
		return err
	}
	return expectField(p, "username", `"padded"`)
}

func testProfileProtectedFields(ctx context.Context, env *Env) error {
	user := freshUser(env.Client)
	p, err := putProfile(ctx, user, map[string]interface{}{
		"userId":    "someone-else",
		"email":     "spoofed@example.com",
		"createdAt": "2000-01-01T00:00:00Z",
		"username":  "honest",
	})
	if err != nil {
		return err
	}
	if err := expectField(p, "userId", quote(user.UserID())); err != nil {
		return err
	}
	if err := expectField(p, "email", quote(user.Email())); err != nil {
		return err
	}
	if sameJSON(p["createdAt"], []byte(`"2000-01-01T00:00:00Z"`)) {
		return fail("createdAt was taken from the request body")
	}
	return nil
}

func testProfileUsernameValidation(ctx context.Context, env *Env) error {
	const charset = "Username can only contain letters, numbers, hyphens, and underscores"
	user := freshUser(env.Client)
	cases := []struct {
		body    interface{}
		message string
	}{
		{map[string]interface{}{"username": "ab"}, "Username must be at least 3 characters long"},
		{map[string]interface{}{"username": "   ab   "}, "Username must be at least 3 characters long"},
		{map[string]interface{}{"username": strings.Repeat("x", 21)}, "Username must be no more than 20 characters long"},
		{map[string]interface{}{"username": "bad name!"}, charset},
		{map[string]interface{}{"username": "___"}, charset},
		{map[string]interface{}{"username": 12345}, "Username must be a string"},
		{Raw(`[1,2,3]`), "Profile data must be an object"},
		{Raw(`"just a string"`), "Profile data must be an object"},
		{Raw(`null`), "Profile data must be an object"},
	}
	for _, tc := range cases {
		resp, err := user.Do(ctx, http.MethodPut, "/user/profile", tc.body)
		if err != nil {
			return err
		}
		if err := expectError(resp, http.StatusBadRequest, tc.message); err != nil {
			return fail("PUT %v: %v", tc.body, err)
		}
	}

	// rejected updates stored nothing
	p, err := getProfile(ctx, user)
	if err != nil {
		return err
	}
	return expectField(p, "username", "null")
}

func testProfilePublic(ctx context.Context, env *Env) error {
	user := freshUser(env.Client)
	if _, err := putProfile(ctx, user, map[string]interface{}{"username": "public-name", "bio": "hidden"}); err != nil {
		return err
	}

	resp, err := env.Other.Do(ctx, http.MethodGet, "/user/username/"+user.UserID(), nil)
	if err != nil {
		return err
	}
	if err := expectStatus(resp, http.StatusOK); err != nil {
		return err
	}
	var pub map[string]json.RawMessage
	if err := resp.JSON(&pub); err != nil {
		return err
	}
	if err := expectField(pub, "userId", quote(user.UserID())); err != nil {
		return err
	}
	if err := expectField(pub, "username", `"public-name"`); err != nil {
		return err
	}
	if err := expectField(pub, "email", quote(user.Email())); err != nil {
		return err
	}
	if _, ok := pub["bio"]; ok {
		return fail("public profile exposes bio")
	}
	return nil
}

func testProfilePublicUnknown(ctx context.Context, env *Env) error {
	id := "apitest-unknown-" + uuid.NewString()
	resp, err := env.Client.Do(ctx, http.MethodGet, "/user/username/"+id, nil)
	if err != nil {
		return err
	}
	if err := expectStatus(resp, http.StatusOK); err != nil {
		return err
	}
	want := `{"userId":` + quote(id) + `,"username":null,"email":null}`
	if !sameJSON(resp.Body, []byte(want)) {
		return fail("body = %s, want %s", truncate(resp.Body), want)
	}
	return nil
}
