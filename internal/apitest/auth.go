package apitest

import (
	"context"
	"net/http"
)

func authSuite() Suite {
	return Suite{
		Name:        "auth",
		Description: "identity, CORS and routing",
		Cases: []Case{
			{Name: "requests without identity are rejected", Run: testMissingIdentity},
			{Name: "preflight needs no identity", Run: testPreflight},
			{Name: "responses carry CORS headers", Run: testCORSHeaders},
			{Name: "unknown path is 404", Run: testUnknownPath},
			{Name: "unsupported method is 405", Run: testMethodNotAllowed},
		},
	}
}

func testMissingIdentity(ctx context.Context, env *Env) error {
	anon := env.Client.Anonymous()
	requests := []struct {
		method string
		path   string
		body   interface{}
	}{
		{http.MethodGet, "/configurations", nil},
		{http.MethodPost, "/configurations", map[string]interface{}{"walls": []int{}, "targets": []int{}}},
		{http.MethodGet, "/rounds", nil},
		{http.MethodGet, "/scores", nil},
		{http.MethodPost, "/scores/round_1", map[string]interface{}{"moves": 3, "moveSequence": []string{}}},
		{http.MethodGet, "/user/profile", nil},
		{http.MethodGet, "/user/username/someone", nil},
	}
	for _, rq := range requests {
		resp, err := anon.Do(ctx, rq.method, rq.path, rq.body)
		if err != nil {
			return err
		}
		if err := expectError(resp, http.StatusUnauthorized, unauthorizedMessage); err != nil {
			return fail("%s %s: %v", rq.method, rq.path, err)
		}
	}
	return nil
}

func testPreflight(ctx context.Context, env *Env) error {
	anon := env.Client.Anonymous()
	for _, path := range []string{"/configurations", "/configurations/1", "/rounds", "/rounds/round_1", "/scores", "/scores/round_1", "/user/profile"} {
		resp, err := anon.Do(ctx, http.MethodOptions, path, nil)
		if err != nil {
			return err
		}
		if err := expectStatus(resp, http.StatusOK); err != nil {
			return fail("OPTIONS %s: %v", path, err)
		}
		if err := expectCORS(resp); err != nil {
			return fail("OPTIONS %s: %v", path, err)
		}
		if !emptyBody(resp) {
			return fail("OPTIONS %s: body = %q, want empty", path, truncate(resp.Body))
		}
	}
	return nil
}

func testCORSHeaders(ctx context.Context, env *Env) error {
	for _, path := range []string{"/configurations", "/rounds", "/scores", "/user/profile"} {
		resp, err := env.Client.Do(ctx, http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		if err := expectStatus(resp, http.StatusOK); err != nil {
			return fail("GET %s: %v", path, err)
		}
		if err := expectCORS(resp); err != nil {
			return fail("GET %s: %v", path, err)
		}
	}

	// errors carry them too
	resp, err := env.Client.Anonymous().Do(ctx, http.MethodGet, "/rounds", nil)
	if err != nil {
		return err
	}
	return expectCORS(resp)
}

func testUnknownPath(ctx context.Context, env *Env) error {
	resp, err := env.Client.Do(ctx, http.MethodGet, "/no-such-resource", nil)
	if err != nil {
		return err
	}
	return expectError(resp, http.StatusNotFound, "not found")
}

func testMethodNotAllowed(ctx context.Context, env *Env) error {
	requests := []struct {
		method string
		path   string
	}{
		{http.MethodPatch, "/configurations"},
		{http.MethodDelete, "/scores/round_1"},
		{http.MethodPost, "/user/username/someone"},
	}
	for _, rq := range requests {
		resp, err := env.Client.Do(ctx, rq.method, rq.path, nil)
		if err != nil {
			return err
		}
		if err := expectError(resp, http.StatusMethodNotAllowed, "Method not allowed"); err != nil {
			return fail("%s %s: %v", rq.method, rq.path, err)
		}
	}
	return nil
}
