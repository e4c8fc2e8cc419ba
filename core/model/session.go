package model

import "time"

// Session is a point-in-time view of one upload session.
type Session struct {
	Key       string    `json:"session"`
	Received  []int     `json:"received"`
	UpdatedAt time.Time `json:"updatedAt"`
	Closed    bool      `json:"closed"`
}
