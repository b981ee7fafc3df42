package mailer

import (
	"bytes"
	htmltpl "html/template"
	"net/url"
	"strconv"
	"strings"
	texttpl "text/template"
	"time"
)

var (
	resetHTML = htmltpl.Must(htmltpl.New("reset_html").Parse(
		`<p>We received a request to reset your password.</p>
<p><a href="{{.Link}}">{{.Link}}</a></p>
<p>The link is valid for {{.TTL}}. If you did not ask for it, ignore this e-mail.</p>`))
	resetText = texttpl.Must(texttpl.New("reset_txt").Parse(
		"Use the link below to reset your password ({{.TTL}}):\n{{.Link}}\n"))

	inviteHTML = htmltpl.Must(htmltpl.New("invite_html").Parse(
		`<p>You have been invited to register.</p>
<p><strong>Registration link:</strong> <a href="{{.Link}}">{{.Link}}</a></p>
<p>The link is valid for {{.TTL}}.</p>`))
	inviteText = texttpl.Must(texttpl.New("invite_txt").Parse(
		"You have been invited to register. Registration link ({{.TTL}}):\n{{.Link}}\n"))
)

type linkVars struct {
	Link string
	TTL  string
}

func render(html *htmltpl.Template, text *texttpl.Template, vars linkVars) (string, string, error) {
	var hb, tb bytes.Buffer
	if err := html.Execute(&hb, vars); err != nil {
		return "", "", err
	}
	if err := text.Execute(&tb, vars); err != nil {
		return "", "", err
	}
	return hb.String(), tb.String(), nil
}

// ResetPasswordMessage builds the reset e-mail pointing at
// {frontend}/reset-password/{token}.
func ResetPasswordMessage(to, frontendURL, token string, ttl time.Duration) (Message, error) {
	link := strings.TrimRight(frontendURL, "/") + "/reset-password/" + url.PathEscape(token)
	html, text, err := render(resetHTML, resetText, linkVars{Link: link, TTL: humanTTL(ttl)})
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: "Password reset", HTML: html, Text: text}, nil
}

// InviteMessage builds the invite e-mail pointing at
// {frontend}/register?token={token}.
func InviteMessage(to, frontendURL, token string, ttl time.Duration) (Message, error) {
	link := strings.TrimRight(frontendURL, "/") + "/register?token=" + url.QueryEscape(token)
	html, text, err := render(inviteHTML, inviteText, linkVars{Link: link, TTL: humanTTL(ttl)})
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: "Registration invite", HTML: html, Text: text}, nil
}

func humanTTL(d time.Duration) string {
	switch {
	case d%time.Hour == 0 && d >= time.Hour:
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return strconv.Itoa(h) + " hours"
	case d%time.Minute == 0 && d >= time.Minute:
		return strconv.Itoa(int(d/time.Minute)) + " minutes"
	default:
		return d.String()
	}
}
