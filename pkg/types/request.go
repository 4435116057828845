package types

import (
	"net/url"
	"sort"
	"strings"
)

// FuzzableRequest is the shape of a request discovered during crawling:
// method, URL and the parameter names that can be mutated. Two requests with
// the same shape hash are considered the same for coverage purposes even
// when their parameter values differ.
type FuzzableRequest struct {
	Method    string   `json:"method"`
	SourceURL string   `json:"url"`
	Params    []string `json:"params,omitempty"`
}

func NewFuzzableRequest(method, sourceURL string, params []string) *FuzzableRequest {
	return &FuzzableRequest{
		Method:    strings.ToUpper(method),
		SourceURL: sourceURL,
		Params:    append([]string(nil), params...),
	}
}

// ParsedURL parses the request URL.
func (r *FuzzableRequest) ParsedURL() (*url.URL, error) {
	return url.Parse(r.SourceURL)
}

// ShapeHash is the normalized identity of the request shape. The query
// string is stripped so that value-only variations collapse, and parameter
// names are order-insensitive.
func (r *FuzzableRequest) ShapeHash() string {
	base := r.SourceURL
	if u, err := url.Parse(r.SourceURL); err == nil {
		u.RawQuery = ""
		u.Fragment = ""
		base = u.String()
	}
	params := append([]string(nil), r.Params...)
	sort.Strings(params)
	return HashParts(r.Method, base, strings.Join(params, ","))
}
