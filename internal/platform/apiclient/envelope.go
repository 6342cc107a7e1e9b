package apiclient

import (
	"bytes"
	"errors"

	json "github.com/goccy/go-json"
)

// envelope is the optional {success, data, message} wrapper some endpoints
// put around their payload.
type envelope struct {
	Success    *bool           `json:"success"`
	Data       json.RawMessage `json:"data"`
	Message    string          `json:"message"`
	Pagination json.RawMessage `json:"pagination"`
}

// Decode unmarshals body into out. A body wrapped in a {success, data}
// envelope is unwrapped first; listings ({data, pagination}) are decoded as
// they are.
func Decode(body []byte, out any) error {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return errors.New("empty body")
	}
	if body[0] == '{' {
		var env envelope
		if err := json.Unmarshal(body, &env); err == nil &&
			env.Success != nil && len(env.Data) > 0 && len(env.Pagination) == 0 {
			if !*env.Success {
				return errors.New("envelope reports failure")
			}
			return json.Unmarshal(env.Data, out)
		}
	}
	return json.Unmarshal(body, out)
}
