package models

import "fmt"

// ValidateOutputData checks task output data at the API boundary: values must
// be scalars (string, bool or number; JSON numbers decode as float64) and,
// when the blueprint declares output keys, every key must be whitelisted.
func ValidateOutputData(data map[string]any, whitelist []string) error {
	allowed := make(map[string]bool, len(whitelist))
	for _, key := range whitelist {
		allowed[key] = true
	}

	for key, value := range data {
		switch value.(type) {
		case string, bool, float64, int, int64:
		case nil:
			return fmt.Errorf("output_data key %q has a null value", key)
		default:
			return fmt.Errorf("output_data key %q must be a scalar, got %T", key, value)
		}

		if len(whitelist) > 0 && !allowed[key] {
			return fmt.Errorf("output_data key %q is not allowed for this task type", key)
		}
	}

	return nil
}
