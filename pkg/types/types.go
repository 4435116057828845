package types

import (
	"fmt"
	"sort"
	"strings"

	"github.com/twmb/murmur3"
)

type Severity string

const (
	SeverityInformation Severity = "information"
	SeverityLow         Severity = "low"
	SeverityMedium      Severity = "medium"
	SeverityHigh        Severity = "high"
)

// IsVulnerable reports whether the severity denotes a confirmed security
// issue rather than an informational observation.
func (s Severity) IsVulnerable() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// Kind is the closed variant tag for everything the knowledge base stores
// through the finding paths.
type Kind string

const (
	KindInfo    Kind = "info"
	KindVuln    Kind = "vuln"
	KindInfoSet Kind = "info_set"
	KindShell   Kind = "shell"

	// KindRaw marks non-finding values written through RawWrite.
	KindRaw Kind = "raw"
)

// Finding is the capability surface the knowledge base depends on. Info,
// Vuln, InfoSet and Shell implement it; severity is a separate capability
// because shells carry none.
type Finding interface {
	Kind() Kind
	// UniqID is a deterministic identity derived from the finding's
	// content. It is not globally unique, but it is stable across
	// serialization round trips.
	UniqID() string
	URL() string
	TokenName() string
	// DataKeys returns the key set of the data container that produced
	// the finding, or nil when there is none. An empty non-nil slice is a
	// present-but-empty container.
	DataKeys() []string
}

// Severitied is implemented by findings that carry a severity.
type Severitied interface {
	Severity() Severity
}

// Info is an informational observation reported by a plugin. The vuln
// variant shares the struct and differs only in its kind tag.
type Info struct {
	kind Kind

	Plugin      string   `json:"plugin"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	SourceURL   string   `json:"url"`
	Token       string   `json:"token,omitempty"`
	Keys        []string `json:"data_keys,omitempty"`
	HasData     bool     `json:"has_data,omitempty"`
	Level       Severity `json:"severity"`
}

func NewInfo(plugin, title, sourceURL string) *Info {
	return &Info{
		kind:      KindInfo,
		Plugin:    plugin,
		Title:     title,
		SourceURL: sourceURL,
		Level:     SeverityInformation,
	}
}

// NewVuln builds the confirmed-issue variant. The severity must be low,
// medium or high.
func NewVuln(plugin, title, sourceURL string, severity Severity) (*Info, error) {
	if !severity.IsVulnerable() {
		return nil, fmt.Errorf("vuln severity must be low, medium or high, got %q", severity)
	}
	return &Info{
		kind:      KindVuln,
		Plugin:    plugin,
		Title:     title,
		SourceURL: sourceURL,
		Level:     severity,
	}, nil
}

func (i *Info) Kind() Kind { return i.kind }
func (i *Info) URL() string { return i.SourceURL }
func (i *Info) TokenName() string { return i.Token }
func (i *Info) Severity() Severity { return i.Level }

// DataKeys returns nil when the info has no data container, even if Keys
// was left nil on a container-carrying info.
func (i *Info) DataKeys() []string {
	if !i.HasData {
		return nil
	}
	if i.Keys == nil {
		return []string{}
	}
	return i.Keys
}

// WithToken records the implicated parameter name.
func (i *Info) WithToken(token string) *Info {
	i.Token = token
	return i
}

// WithData attaches the key set of the request data container. Passing an
// empty slice still marks the container as present.
func (i *Info) WithData(keys []string) *Info {
	i.HasData = true
	i.Keys = append([]string(nil), keys...)
	return i
}

func (i *Info) WithDescription(desc string) *Info {
	i.Description = desc
	return i
}

func (i *Info) UniqID() string {
	keys := append([]string(nil), i.Keys...)
	sort.Strings(keys)
	return HashParts(
		string(i.kind), i.Plugin, i.Title, i.SourceURL,
		i.Token, fmt.Sprint(i.HasData), strings.Join(keys, ","),
		string(i.Level),
	)
}

func (i *Info) Clone() *Info {
	c := *i
	c.Keys = append([]string(nil), i.Keys...)
	return &c
}

// InfoSet is an ordered aggregation of Infos considered duplicates of each
// other. The group key is derived by a Grouper at creation time; matching a
// candidate against the set is key equality, which survives serialization
// without re-attaching behavior.
type InfoSet struct {
	GroupKey string  `json:"group_key"`
	Infos    []*Info `json:"infos"`
}

func NewInfoSet(groupKey string, seed *Info) *InfoSet {
	return &InfoSet{
		GroupKey: groupKey,
		Infos:    []*Info{seed.Clone()},
	}
}

func (s *InfoSet) Kind() Kind { return KindInfoSet }

// Match reports whether an info whose derived group key is key belongs in
// this set.
func (s *InfoSet) Match(key string) bool { return s.GroupKey == key }

func (s *InfoSet) Add(info *Info) {
	s.Infos = append(s.Infos, info.Clone())
}

func (s *InfoSet) Len() int { return len(s.Infos) }

// First returns the seed info. Sets always hold at least one member.
func (s *InfoSet) First() *Info { return s.Infos[0] }

func (s *InfoSet) URL() string { return s.First().URL() }
func (s *InfoSet) TokenName() string { return s.First().TokenName() }
func (s *InfoSet) DataKeys() []string { return s.First().DataKeys() }

var severityRank = map[Severity]int{
	SeverityInformation: 0,
	SeverityLow:         1,
	SeverityMedium:      2,
	SeverityHigh:        3,
}

// Severity is the highest severity among the members.
func (s *InfoSet) Severity() Severity {
	max := s.First().Severity()
	for _, i := range s.Infos[1:] {
		if severityRank[i.Severity()] > severityRank[max] {
			max = i.Severity()
		}
	}
	return max
}

func (s *InfoSet) UniqID() string {
	parts := make([]string, 0, len(s.Infos)+2)
	parts = append(parts, string(KindInfoSet), s.GroupKey)
	for _, i := range s.Infos {
		parts = append(parts, i.UniqID())
	}
	return HashParts(parts...)
}

// Clone deep-copies the set. The dedup engine snapshots a set before
// mutating it so updates can be keyed by the prior identity.
func (s *InfoSet) Clone() *InfoSet {
	infos := make([]*Info, len(s.Infos))
	for n, i := range s.Infos {
		infos[n] = i.Clone()
	}
	return &InfoSet{GroupKey: s.GroupKey, Infos: infos}
}

// HashParts derives a deterministic content identity from the given parts.
func HashParts(parts ...string) string {
	h1, h2 := murmur3.StringSum128(strings.Join(parts, "\x1f"))
	return fmt.Sprintf("%016x%016x", h1, h2)
}
