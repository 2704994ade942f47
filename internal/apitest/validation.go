package apitest

import (
	"context"
	"net/http"
	"strings"
)

type bodyEndpoint struct {
	method string
	path   string
}

var bodyEndpoints = []bodyEndpoint{
	{http.MethodPost, "/configurations"},
	{http.MethodPut, "/configurations/1"},
	{http.MethodPost, "/rounds"},
	{http.MethodPost, "/rounds/config/1"},
	{http.MethodPost, "/scores"},
	{http.MethodPost, "/scores/round_1"},
	{http.MethodPut, "/user/profile"},
}

func validationSuite() Suite {
	return Suite{
		Name:        "validation",
		Description: "request body handling and service endpoints",
		Cases: []Case{
			{Name: "empty body is rejected", Run: testEmptyBody},
			{Name: "malformed JSON is rejected", Run: testMalformedJSON},
			{Name: "non-JSON content type is rejected", Run: testContentType},
			{Name: "oversized body is rejected", Run: testOversizedBody},
			{Name: "health and readiness", Run: testHealth},
		},
	}
}

func testEmptyBody(ctx context.Context, env *Env) error {
	for _, ep := range bodyEndpoints {
		resp, err := env.Client.Do(ctx, ep.method, ep.path, nil)
		if err != nil {
			return err
		}
		if err := expectError(resp, http.StatusBadRequest, "Request body is required"); err != nil {
			return fail("%s %s: %v", ep.method, ep.path, err)
		}
	}
	return nil
}

func testMalformedJSON(ctx context.Context, env *Env) error {
	for _, body := range []Raw{`{"walls": [}`, `not json`, `{"moves": 3`} {
		for _, ep := range bodyEndpoints {
			resp, err := env.Client.Do(ctx, ep.method, ep.path, body)
			if err != nil {
				return err
			}
			if err := expectError(resp, http.StatusBadRequest, "Invalid JSON in request body"); err != nil {
				return fail("%s %s %q: %v", ep.method, ep.path, body, err)
			}
		}
	}
	return nil
}

func testContentType(ctx context.Context, env *Env) error {
	resp, err := env.Client.DoRaw(ctx, http.MethodPost, "/configurations", "text/plain", `{"walls":[],"targets":[]}`)
	if err != nil {
		return err
	}
	return expectError(resp, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
}

func testOversizedBody(ctx context.Context, env *Env) error {
	limit := env.MaxBodyBytes
	if limit <= 0 {
		limit = 1 << 20
	}
	body := Raw(`{"walls":"` + strings.Repeat("w", int(limit)+1024) + `","targets":[]}`)
	resp, err := env.Client.Do(ctx, http.MethodPost, "/configurations", body)
	if err != nil {
		return err
	}
	if resp.Status == http.StatusCreated {
		var created createdConfiguration
		if err := resp.JSON(&created); err == nil {
			deleteConfiguration(ctx, env.Client, created.ConfigID)
		}
		return Skip("server accepted a body over the expected limit")
	}
	return expectError(resp, http.StatusRequestEntityTooLarge, "Request body too large")
}

func testHealth(ctx context.Context, env *Env) error {
	anon := env.Client.Anonymous()
	for _, path := range []string{"/health", "/ready"} {
		resp, err := anon.Do(ctx, http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		if err := expectStatus(resp, http.StatusOK); err != nil {
			return fail("GET %s: %v", path, err)
		}
	}
	return nil
}
