package apitest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type configurationBody struct {
	Walls     json.RawMessage `json:"walls"`
	Targets   json.RawMessage `json:"targets"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type createdConfiguration struct {
	ConfigID string `json:"configId"`
}

func configurationSuite() Suite {
	return Suite{
		Name:        "configurations",
		Description: "board configuration CRUD scoped to the caller",
		Cases: []Case{
			{Name: "create assigns increasing numeric ids", Run: testConfigurationIDs},
			{Name: "full lifecycle", Run: testConfigurationLifecycle},
			{Name: "configurations are private to their owner", Run: testConfigurationOwnership},
			{Name: "walls and targets are required", Run: testConfigurationRequiredFields},
			{Name: "update and delete of unknown id are 404", Run: testConfigurationUnknown},
		},
	}
}

func sampleBoard(seed int) map[string]interface{} {
	return map[string]interface{}{
		"walls": []map[string]interface{}{
			{"x": seed, "y": 0, "side": "north"},
			{"x": 3, "y": seed, "side": "east"},
		},
		"targets": []map[string]interface{}{
			{"x": 7, "y": 7, "color": "red", "symbol": "circle"},
		},
	}
}

func createConfiguration(ctx context.Context, c *Client, body interface{}) (string, error) {
	resp, err := c.Do(ctx, http.MethodPost, "/configurations", body)
	if err != nil {
		return "", err
	}
	if err := expectStatus(resp, http.StatusCreated); err != nil {
		return "", err
	}
	var created createdConfiguration
	if err := resp.JSON(&created); err != nil {
		return "", err
	}
	if created.ConfigID == "" {
		return "", fail("create returned no configId: %s", truncate(resp.Body))
	}
	return created.ConfigID, nil
}

func deleteConfiguration(ctx context.Context, c *Client, id string) {
	_, _ = c.Do(ctx, http.MethodDelete, "/configurations/"+id, nil)
}

func testConfigurationIDs(ctx context.Context, env *Env) error {
	first, err := createConfiguration(ctx, env.Client, sampleBoard(1))
	if err != nil {
		return err
	}
	defer deleteConfiguration(ctx, env.Client, first)

	second, err := createConfiguration(ctx, env.Client, sampleBoard(2))
	if err != nil {
		return err
	}
	defer deleteConfiguration(ctx, env.Client, second)

	a, errA := strconv.Atoi(first)
	b, errB := strconv.Atoi(second)
	if errA != nil || errB != nil {
		return fail("ids %q and %q are not numeric", first, second)
	}
	if b <= a {
		return fail("second id %d is not greater than first id %d", b, a)
	}
	return nil
}

func testConfigurationLifecycle(ctx context.Context, env *Env) error {
	board := sampleBoard(4)
	id, err := createConfiguration(ctx, env.Client, board)
	if err != nil {
		return err
	}
	defer deleteConfiguration(ctx, env.Client, id)

	resp, err := env.Client.Do(ctx, http.MethodGet, "/configurations/"+id, nil)
	if err != nil {
		return err
	}
	if err := expectStatus(resp, http.StatusOK); err != nil {
		return err
	}
	var got configurationBody
	if err := resp.JSON(&got); err != nil {
		return err
	}
	wantWalls, _ := json.Marshal(board["walls"])
	if !sameJSON(got.Walls, wantWalls) {
		return fail("walls = %s, want %s", got.Walls, wantWalls)
	}
	if got.CreatedAt.IsZero() {
		return fail("createdAt missing")
	}

	resp, err = env.Client.Do(ctx, http.MethodGet, "/configurations", nil)
	if err != nil {
		return err
	}
	if err := expectStatus(resp, http.StatusOK); err != nil {
		return err
	}
	var all map[string]configurationBody
	if err := resp.JSON(&all); err != nil {
		return err
	}
	if _, ok := all[id]; !ok {
		return fail("list does not contain %s", id)
	}

	updated := sampleBoard(9)
	resp, err = env.Client.Do(ctx, http.MethodPut, "/configurations/"+id, updated)
	if err != nil {
		return err
	}
	if err := expectMessage(resp, http.StatusOK, "Configuration updated successfully"); err != nil {
		return err
	}

	resp, err = env.Client.Do(ctx, http.MethodGet, "/configurations/"+id, nil)
	if err != nil {
		return err
	}
	var after configurationBody
	if err := resp.JSON(&after); err != nil {
		return err
	}
	wantWalls, _ = json.Marshal(updated["walls"])
	if !sameJSON(after.Walls, wantWalls) {
		return fail("walls after update = %s, want %s", after.Walls, wantWalls)
	}
	if !after.CreatedAt.Equal(got.CreatedAt) {
		return fail("createdAt changed from %s to %s", got.CreatedAt, after.CreatedAt)
	}
	if after.UpdatedAt.Before(after.CreatedAt) {
		return fail("updatedAt %s before createdAt %s", after.UpdatedAt, after.CreatedAt)
	}

	resp, err = env.Client.Do(ctx, http.MethodDelete, "/configurations/"+id, nil)
	if err != nil {
		return err
	}
	if err := expectMessage(resp, http.StatusOK, "Configuration deleted successfully"); err != nil {
		return err
	}

	resp, err = env.Client.Do(ctx, http.MethodGet, "/configurations/"+id, nil)
	if err != nil {
		return err
	}
	return expectError(resp, http.StatusNotFound, "Configuration not found")
}

func testConfigurationOwnership(ctx context.Context, env *Env) error {
	id, err := createConfiguration(ctx, env.Client, sampleBoard(5))
	if err != nil {
		return err
	}
	defer deleteConfiguration(ctx, env.Client, id)

	// the other user may have their own configuration under the same id
	resp, err := env.Other.Do(ctx, http.MethodGet, "/configurations/"+id, nil)
	if err != nil {
		return err
	}
	if resp.Status == http.StatusOK {
		var theirs configurationBody
		if err := resp.JSON(&theirs); err != nil {
			return err
		}
		mine, _ := json.Marshal(sampleBoard(5)["walls"])
		if sameJSON(theirs.Walls, mine) {
			return fail("other user can read configuration %s", id)
		}
	} else if err := expectError(resp, http.StatusNotFound, "Configuration not found"); err != nil {
		return err
	}

	resp, err = env.Client.Do(ctx, http.MethodGet, "/configurations/"+id, nil)
	if err != nil {
		return err
	}
	return expectStatus(resp, http.StatusOK)
}

func testConfigurationRequiredFields(ctx context.Context, env *Env) error {
	bodies := []interface{}{
		map[string]interface{}{"walls": []int{}},
		map[string]interface{}{"targets": []int{}},
		map[string]interface{}{"walls": nil, "targets": []int{}},
		map[string]interface{}{"walls": []int{}, "targets": nil},
		map[string]interface{}{},
	}
	for _, body := range bodies {
		resp, err := env.Client.Do(ctx, http.MethodPost, "/configurations", body)
		if err != nil {
			return err
		}
		if err := expectError(resp, http.StatusBadRequest, "Missing walls or targets data"); err != nil {
			return fail("POST %v: %v", body, err)
		}
	}
	return nil
}

func testConfigurationUnknown(ctx context.Context, env *Env) error {
	id := "missing-" + uuid.NewString()

	resp, err := env.Client.Do(ctx, http.MethodPut, "/configurations/"+id, sampleBoard(1))
	if err != nil {
		return err
	}
	if err := expectError(resp, http.StatusNotFound, "Configuration not found"); err != nil {
		return fail("PUT: %v", err)
	}

	resp, err = env.Client.Do(ctx, http.MethodDelete, "/configurations/"+id, nil)
	if err != nil {
		return err
	}
	if err := expectError(resp, http.StatusNotFound, "Configuration not found"); err != nil {
		return fail("DELETE: %v", err)
	}

	resp, err = env.Client.Do(ctx, http.MethodGet, "/configurations/"+id, nil)
	if err != nil {
		return err
	}
	return expectError(resp, http.StatusNotFound, "Configuration not found")
}
