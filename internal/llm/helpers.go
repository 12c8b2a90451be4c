package llm

import "strings"

func chooseModel(requested, fallback string) string {
	if strings.TrimSpace(requested) != "" {
		return requested
	}
	return fallback
}

func chooseFloat(requested, fallback float32) float32 {
	if requested > 0 {
		return requested
	}
	return fallback
}
