package utils

import (
	"errors"

	"github.com/tidwall/gjson"
)

var ErrGjsonWrongType = errors.New("wrong type")

// GjsonParseStringMap flattens a JSON object into string values. An empty input yields nil.
func GjsonParseStringMap(jsonObject string) (map[string]string, error) {
	if jsonObject == "" {
		return nil, nil
	}

	result := gjson.Parse(jsonObject)
	if !result.IsObject() {
		return nil, ErrGjsonWrongType
	}

	ret := make(map[string]string)
	result.ForEach(func(key, value gjson.Result) bool {
		ret[key.String()] = value.String()
		return true
	})

	return ret, nil
}
