package rest

import (
	"net/url"
	"strings"
)

// Param is a single query parameter.
type Param struct {
	Key   string
	Value string
}

// Params keeps query parameters in insertion order. Exchanges that sign the
// query string need the order they were given, which url.Values loses.
type Params []Param

// Add appends a parameter, keeping any existing ones with the same key.
func (p *Params) Add(key, value string) {
	*p = append(*p, Param{Key: key, Value: value})
}

// Set replaces the first parameter named key and drops later duplicates, or
// appends it when missing.
func (p *Params) Set(key, value string) {
	out := (*p)[:0]
	found := false
	for _, param := range *p {
		if param.Key != key {
			out = append(out, param)
			continue
		}
		if !found {
			out = append(out, Param{Key: key, Value: value})
			found = true
		}
	}
	if !found {
		out = append(out, Param{Key: key, Value: value})
	}
	*p = out
}

// Get returns the first value for key.
func (p Params) Get(key string) (string, bool) {
	for _, param := range p {
		if param.Key == key {
			return param.Value, true
		}
	}
	return "", false
}

// Del removes every parameter named key.
func (p *Params) Del(key string) {
	out := (*p)[:0]
	for _, param := range *p {
		if param.Key != key {
			out = append(out, param)
		}
	}
	*p = out
}

// Encode renders the parameters as a query string in their given order.
func (p Params) Encode() string {
	var sb strings.Builder
	for i, param := range p {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(param.Key))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(param.Value))
	}
	return sb.String()
}

func (p Params) clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	copy(out, p)
	return out
}
