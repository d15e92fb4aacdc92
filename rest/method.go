package rest

import "strings"

// Method is an HTTP method accepted by the dispatcher.
type Method string

const (
	MethodGet     Method = "GET"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodDelete  Method = "DELETE"
	MethodPatch   Method = "PATCH"
	MethodHead    Method = "HEAD"
	MethodOptions Method = "OPTIONS"
)

var knownMethods = map[Method]bool{
	MethodGet:     true,
	MethodPost:    true,
	MethodPut:     true,
	MethodDelete:  true,
	MethodPatch:   true,
	MethodHead:    true,
	MethodOptions: true,
}

// ParseMethod accepts any casing of a known method.
func ParseMethod(s string) (Method, bool) {
	m := Method(strings.ToUpper(strings.TrimSpace(s)))
	return m, knownMethods[m]
}

func (m Method) Valid() bool { return knownMethods[m] }

func (m Method) String() string { return string(m) }
