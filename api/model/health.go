package model

import "time"

// HealthCheck is one poll of a public endpoint after a deploy.
type HealthCheck struct {
	ID         string    `json:"id"`
	Service    string    `json:"service"`
	URL        string    `json:"url"`
	Healthy    bool      `json:"healthy"`
	StatusCode int       `json:"statusCode,omitempty"`
	ResponseMs int       `json:"responseMs"`
	CheckedAt  time.Time `json:"checkedAt"`
}
