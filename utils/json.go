package utils

import "github.com/bytedance/sonic"

var api = sonic.ConfigStd

func Marshal(data interface{}) ([]byte, error) {
	return api.Marshal(data)
}

func Unmarshal[T any](data []byte, target *T) error {
	return api.Unmarshal(data, target)
}

// UnmarshalInto decodes into a target whose type is only known at runtime.
func UnmarshalInto(data []byte, target interface{}) error {
	return api.Unmarshal(data, target)
}
