// Package cookieutil handles the cookie state that an Airbnb host session
// drags around: long-lived auth cookies that live in the database and the
// ephemeral Akamai bot-manager cookies that must be re-obtained fresh on
// every sync via preflight.
package cookieutil

import (
	"net/http"
	"strings"
)

// Auth cookies that are written back to the account store after a sync.
// Everything outside this set is either bot-detection state or analytics
// noise and must not be persisted.
var persistentAuthNames = map[string]bool{
	"_airbed_session_id":     true,
	"_aaj":                   true,
	"_aat":                   true,
	"auth_jitney_session_id": true,
	"hli":                    true,
	"li":                     true,
	"_user_attributes":       true,
	"_pt":                    true,
	"rclu":                   true,
}

// Akamai bot-manager cookies. Short-lived, issued by the preflight
// navigation, never persisted.
var antiBotNames = map[string]bool{
	"ak_bmsc": true,
	"bm_sv":   true,
}

// CookieSet is an ordered name -> value mapping. Order is preserved so
// Build(Parse(s)) round-trips a well-formed cookie string.
type CookieSet struct {
	names  []string
	values map[string]string
}

func NewCookieSet() CookieSet {
	return CookieSet{values: map[string]string{}}
}

func (c *CookieSet) Set(name, value string) {
	if c.values == nil {
		c.values = map[string]string{}
	}
	if _, ok := c.values[name]; !ok {
		c.names = append(c.names, name)
	}
	c.values[name] = value
}

func (c CookieSet) Get(name string) (string, bool) {
	v, ok := c.values[name]
	return v, ok
}

func (c CookieSet) Len() int {
	return len(c.names)
}

// Names returns the cookie names in insertion order.
func (c CookieSet) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Parse splits a raw "name1=value1; name2=value2" string into a CookieSet.
// Pairs without an "=" are skipped.
func Parse(raw string) CookieSet {
	out := NewCookieSet()
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			continue
		}
		out.Set(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return out
}

// Build is the inverse of Parse for values containing no "=" or ";".
func Build(cookies CookieSet) string {
	pairs := make([]string, 0, len(cookies.names))
	for _, name := range cookies.names {
		pairs = append(pairs, name+"="+cookies.values[name])
	}
	return strings.Join(pairs, "; ")
}

func filter(cookies CookieSet, keep map[string]bool) CookieSet {
	out := NewCookieSet()
	for _, name := range cookies.names {
		if keep[name] {
			out.Set(name, cookies.values[name])
		}
	}
	return out
}

// FilterPersistentAuth keeps only the enumerated auth cookies.
// Idempotent; the output is always a subset of the input.
func FilterPersistentAuth(cookies CookieSet) CookieSet {
	return filter(cookies, persistentAuthNames)
}

// FilterAntiBot keeps only the ephemeral bot-manager cookies.
func FilterAntiBot(cookies CookieSet) CookieSet {
	return filter(cookies, antiBotNames)
}

// Merge combines auth and anti-bot cookies, anti-bot entries winning on a
// name collision.
func Merge(auth, antiBot CookieSet) CookieSet {
	out := NewCookieSet()
	for _, name := range auth.names {
		out.Set(name, auth.values[name])
	}
	for _, name := range antiBot.names {
		out.Set(name, antiBot.values[name])
	}
	return out
}

// FromHTTPCookies converts a cookie-jar dump into a CookieSet.
func FromHTTPCookies(cookies []*http.Cookie) CookieSet {
	out := NewCookieSet()
	for _, c := range cookies {
		out.Set(c.Name, c.Value)
	}
	return out
}

// ParseSetCookie extracts name=value pairs from Set-Cookie header values,
// ignoring attributes like Path and HttpOnly.
func ParseSetCookie(headers []string) CookieSet {
	out := NewCookieSet()
	for _, h := range headers {
		pair, _, _ := strings.Cut(h, ";")
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || name == "" {
			continue
		}
		out.Set(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return out
}
