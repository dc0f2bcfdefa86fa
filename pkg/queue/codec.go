package queue

import (
	"encoding/json"
	"errors"
	"regexp"
	"time"
)

var nameRe = regexp.MustCompile(`^[\w\-./:]+$`)

// ValidateName checks that name can be used as a queue key
func ValidateName(name string) error {
	if !nameRe.MatchString(name) {
		return ErrInvalidJobName
	}
	return nil
}

// EncodeData converts a payload into the JSON stored by engines.
// Raw JSON is passed through untouched, nil becomes an empty payload.
func EncodeData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if len(v) > 0 && !json.Valid(v) {
			return nil, ErrInvalidData
		}
		return v, nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Join(ErrInvalidData, err)
	}
	if string(raw) == "null" {
		return nil, nil
	}
	return raw, nil
}

// ValidateWindow checks throttle and debounce windows
func ValidateWindow(window time.Duration) error {
	if window <= 0 {
		return ErrInvalidWindow
	}
	return nil
}
