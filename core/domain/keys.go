package domain

import "time"

// Organization groups users and owns servers.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OTPAuth   bool      `json:"otp_auth"`
	CreatedAt time.Time `json:"created_at"`
}

// User is a VPN user inside an organization.
type User struct {
	ID         string    `json:"id"`
	OrgID      string    `json:"org_id"`
	Name       string    `json:"name"`
	OTPSecret  string    `json:"otp_secret,omitempty"`
	SyncSecret string    `json:"sync_secret,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// KeyLink is a bearer capability granting access to a user's key material
// without a login session.
type KeyLink struct {
	KeyID     string    `json:"key_id"`
	ShortID   string    `json:"short_id"`
	OrgID     string    `json:"org_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// KeyConf is a rendered client connection profile for one server.
type KeyConf struct {
	Name string `json:"name"`
	Conf string `json:"conf"`
	Hash string `json:"hash"`
}

// Nonce is a replay detection entry.
type Nonce struct {
	Token     string    `json:"token"`
	Nonce     string    `json:"nonce"`
	Timestamp time.Time `json:"timestamp"`
}
