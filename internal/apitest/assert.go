package apitest

import (
	"bytes"
	"encoding/json"
	"strings"
)

const unauthorizedMessage = "Unauthorized: No user ID found"

type errorBody struct {
	Error *string `json:"error"`
}

type messageBody struct {
	Message string `json:"message"`
}

func expectStatus(resp *Response, want int) error {
	if resp.Status != want {
		return fail("status = %d, want %d (body %s)", resp.Status, want, truncate(resp.Body))
	}
	return nil
}

// expectError checks the status and the exact {"error": message} body.
func expectError(resp *Response, status int, message string) error {
	if err := expectStatus(resp, status); err != nil {
		return err
	}
	var body errorBody
	if err := resp.JSON(&body); err != nil {
		return err
	}
	if body.Error == nil {
		return fail("status %d: body has no error field: %s", resp.Status, truncate(resp.Body))
	}
	if *body.Error != message {
		return fail("error = %q, want %q", *body.Error, message)
	}
	return nil
}

func expectMessage(resp *Response, status int, message string) error {
	if err := expectStatus(resp, status); err != nil {
		return err
	}
	var body messageBody
	if err := resp.JSON(&body); err != nil {
		return err
	}
	if body.Message != message {
		return fail("message = %q, want %q", body.Message, message)
	}
	return nil
}

func expectCORS(resp *Response) error {
	for _, h := range []string{"Access-Control-Allow-Origin", "Access-Control-Allow-Methods", "Access-Control-Allow-Headers"} {
		if resp.Header.Get(h) == "" {
			return fail("missing %s header", h)
		}
	}
	return nil
}

// sameJSON compares two JSON documents ignoring formatting and key order.
func sameJSON(a, b []byte) bool {
	var va, vb interface{}
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return bytes.Equal(a, b)
	}
	ca, _ := json.Marshal(va)
	cb, _ := json.Marshal(vb)
	return bytes.Equal(ca, cb)
}

func emptyBody(resp *Response) bool {
	return strings.TrimSpace(string(resp.Body)) == ""
}
