package model

import "time"

// User is a learner known to the session store.
type User struct {
	Identifier string    `json:"identifier"`
	Activated  bool      `json:"activated"`
	CreatedAt  time.Time `json:"created_at"`
}

// Session is an authenticated single-session identifier.
type Session struct {
	ID         string    `json:"id"`
	Identifier string    `json:"identifier"`
	CreatedAt  time.Time `json:"created_at"`
}
