package webui

import (
	"embed"
	"fmt"
	"html"
	"strings"
)

//go:embed templates/*
var embedFS embed.FS

var keyViewTemplate string

func init() {
	data, err := embedFS.ReadFile("templates/key_view.html")
	if err != nil {
		panic("Failed to load key view template: " + err.Error())
	}
	keyViewTemplate = string(data)
}

// ConfLink is one per-server download on the key page.
type ConfLink struct {
	KeyID      string
	ServerID   string
	ServerName string
}

// KeyPage holds the values substituted into the key view.
type KeyPage struct {
	OrgName   string
	UserName  string
	KeyID     string
	ShortID   string
	OTPSecret string // empty unless the organization uses OTP
	Links     []ConfLink
}

// Render substitutes the placeholders of the key view literally.
func (p KeyPage) Render() string {
	var links strings.Builder
	for _, l := range p.Links {
		fmt.Fprintf(&links,
			"<a class=\"btn btn-sm\" title=\"Download Key\" href=\"/key/%s/%s.key\">Download Key (%s)</a><br>\n",
			html.EscapeString(l.KeyID), html.EscapeString(l.ServerID), html.EscapeString(l.ServerName))
	}

	otpKey, otpURL := "", ""
	if p.OTPSecret != "" {
		otpKey = p.OTPSecret
		otpURL = fmt.Sprintf("otpauth://totp/%s@%s?secret=%s", p.UserName, p.OrgName, p.OTPSecret)
	}

	r := strings.NewReplacer(
		"<%= user_name %>", html.EscapeString(p.OrgName+" - "+p.UserName),
		"<%= user_key_url %>", "/key/"+html.EscapeString(p.KeyID)+".tar",
		"<%= user_otp_key %>", html.EscapeString(otpKey),
		"<%= user_otp_url %>", html.EscapeString(otpURL),
		"<%= short_id %>", html.EscapeString(p.ShortID),
		"<%= conf_links %>", links.String(),
	)
	return r.Replace(keyViewTemplate)
}
