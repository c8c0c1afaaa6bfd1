package service

import "github.com/noah-isme/campus-health-api/internal/models"

// ComputeCompleteness returns the share of required fields for the document
// kind that are filled in payload, as a whole percentage rounded down. It is
// derived on demand and never stored.
func ComputeCompleteness(kind models.DocumentKind, payload models.Payload) int {
	required := models.DocumentRequirements[kind]
	if len(required) == 0 {
		return 100
	}
	filled := 0
	for _, field := range required {
		if payload.Filled(field) {
			filled++
		}
	}
	return filled * 100 / len(required)
}

// MissingFields lists the required fields still empty, in requirement order.
func MissingFields(kind models.DocumentKind, payload models.Payload) []string {
	var missing []string
	for _, field := range models.DocumentRequirements[kind] {
		if !payload.Filled(field) {
			missing = append(missing, field)
		}
	}
	return missing
}
