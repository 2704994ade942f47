package domain

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"time"
)

// Configuration is a named board layout owned by one user.
// Walls and Targets are stored as opaque JSON.
type Configuration struct {
	UserID    string          `json:"-"`
	ConfigID  string          `json:"-"`
	Walls     json.RawMessage `json:"walls"`
	Targets   json.RawMessage `json:"targets"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// ConfigurationInput is the body accepted by create and update.
type ConfigurationInput struct {
	Walls   json.RawMessage `json:"walls"`
	Targets json.RawMessage `json:"targets"`
}

// Validate requires both walls and targets to be present and non-null.
func (in ConfigurationInput) Validate() error {
	if !Present(in.Walls) || !Present(in.Targets) {
		return Invalid("Missing walls or targets data")
	}
	return nil
}

// CreatedConfiguration is returned after a successful create.
type CreatedConfiguration struct {
	ConfigID string `json:"configId"`
}

// Present reports whether a raw JSON value was supplied and is not null.
func Present(raw json.RawMessage) bool {
	v := bytes.TrimSpace(raw)
	return len(v) > 0 && !bytes.Equal(v, []byte("null"))
}

// ContainsNUL reports whether a JSON document escapes a NUL character.
// Postgres text and jsonb columns cannot hold one.
func ContainsNUL(raw []byte) bool {
	for i := 0; i+6 <= len(raw); i++ {
		if !bytes.HasPrefix(raw[i:], []byte(`\u0000`)) {
			continue
		}
		slashes := 0
		for j := i - 1; j >= 0 && raw[j] == '\\'; j-- {
			slashes++
		}
		if slashes%2 == 0 {
			return true
		}
	}
	return false
}

// NextConfigID returns one past the highest numeric id in ids.
// Non-numeric ids are ignored.
func NextConfigID(ids []string) string {
	var maxID int64
	for _, id := range ids {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil && n > maxID {
			maxID = n
		}
	}
	return strconv.FormatInt(maxID+1, 10)
}

// SortConfigurations orders numeric ids numerically, ahead of any other ids.
func SortConfigurations(configs []Configuration) {
	sort.Slice(configs, func(i, j int) bool {
		return lessConfigID(configs[i].ConfigID, configs[j].ConfigID)
	})
}

func lessConfigID(a, b string) bool {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}
