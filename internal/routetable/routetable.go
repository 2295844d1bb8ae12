// Package routetable implements the declarative mapping of spec.md §4.D:
// ingress path+method to an auth requirement, a target service name, an
// upstream path template, and a parameter-forwarding mode. The table is a
// single ordered slice consulted top to bottom, generalizing the teacher's
// hardcoded chi mounts (router/router.go's single flat r.Route("/v1", ...))
// into the 9-service table spec.md §2/§6 names.
package routetable

import "strings"

// Auth is the authentication requirement of a route entry.
type Auth int

const (
	AuthNone Auth = iota
	AuthRequired
	AuthOptional
)

// ForwardMode controls how the ingress pipeline carries request data to the
// matched backend.
type ForwardMode int

const (
	// ForwardPassthrough forwards the body and query verbatim.
	ForwardPassthrough ForwardMode = iota
	// ForwardParams substitutes named path segments into the upstream path
	// template (e.g. "/users/{id}" -> "/internal/users/123").
	ForwardParams
)

// RateLimitClass selects which bucket class of spec.md §4.B stage 5 applies.
type RateLimitClass int

const (
	ClassStandard RateLimitClass = iota
	ClassStrict                 // login/register: capacity=10
	ClassBypass                 // health probes: bypass entirely
)

// Entry is one routing rule. Method may be "" to match any method.
// PathPattern supports three shapes:
//   - an exact path ("/api/status")
//   - a prefix mount ending in "/*" ("/api/v1/users/*")
//   - named segments delimited by "{...}" ("/api/v1/marketplace/alerts/{id}")
type Entry struct {
	Method         string
	PathPattern    string
	Auth           Auth
	Service        string // "" for locally-serviced routes (health, metrics, hub)
	UpstreamPath   string // template; "" means forward the matched suffix verbatim
	Forward        ForwardMode
	RateLimitClass RateLimitClass

	// PreValidateService/PreValidatePath implement spec.md §6's
	// POST /api/v1/trades/execute rule: call this service/path first and
	// expect a JSON body with an "approved" boolean; proceed to Service
	// only if approved is true (scenario F).
	PreValidateService string
	PreValidatePath    string

	segments []segment
	isPrefix bool
}

type segment struct {
	literal string
	isParam bool
	name    string
}

// Table is the ordered, read-only-after-init route list (spec.md §4.D:
// "a single table is consulted in declaration order").
type Table struct {
	entries []Entry
}

// New compiles entries into a Table, pre-splitting path patterns into
// segments once at startup so Match is allocation-light per request.
func New(entries []Entry) *Table {
	compiled := make([]Entry, len(entries))
	for i, e := range entries {
		e.isPrefix = strings.HasSuffix(e.PathPattern, "/*")
		pattern := strings.TrimSuffix(e.PathPattern, "/*")
		e.segments = splitSegments(pattern)
		compiled[i] = e
	}
	return &Table{entries: compiled}
}

func splitSegments(pattern string) []segment {
	parts := strings.Split(strings.Trim(pattern, "/"), "/")
	segs := make([]segment, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		if strings.HasPrefix(p, "{") && strings.HasSuffix(p, "}") {
			segs = append(segs, segment{isParam: true, name: strings.Trim(p, "{}")})
		} else {
			segs = append(segs, segment{literal: p})
		}
	}
	return segs
}

// Match is the result of a successful lookup: the winning entry plus any
// named path parameters extracted from the request path.
type Match struct {
	Entry  Entry
	Params map[string]string
	// Suffix is the remainder of the path past a prefix mount, used to
	// build the upstream path when UpstreamPath is empty.
	Suffix string
}

// Lookup finds the first entry (in declaration order) whose method and path
// pattern match. Returns ok=false if nothing matches (spec.md §4.D:
// "unmatched path -> 404").
func (t *Table) Lookup(method, path string) (Match, bool) {
	reqSegs := strings.Split(strings.Trim(path, "/"), "/")
	for i := range reqSegs {
		reqSegs[i] = reqSegs[i]
	}
	if len(reqSegs) == 1 && reqSegs[0] == "" {
		reqSegs = nil
	}

	for _, e := range t.entries {
		if e.Method != "" && !strings.EqualFold(e.Method, method) {
			continue
		}
		if params, suffix, ok := matchSegments(e, reqSegs); ok {
			return Match{Entry: e, Params: params, Suffix: suffix}, true
		}
	}
	return Match{}, false
}

func matchSegments(e Entry, reqSegs []string) (map[string]string, string, bool) {
	if !e.isPrefix && len(reqSegs) != len(e.segments) {
		return nil, "", false
	}
	if e.isPrefix && len(reqSegs) < len(e.segments) {
		return nil, "", false
	}

	var params map[string]string
	for i, seg := range e.segments {
		if seg.isParam {
			if params == nil {
				params = make(map[string]string)
			}
			params[seg.name] = reqSegs[i]
			continue
		}
		if seg.literal != reqSegs[i] {
			return nil, "", false
		}
	}

	if e.isPrefix {
		suffix := "/" + strings.Join(reqSegs[len(e.segments):], "/")
		if suffix == "/" {
			suffix = ""
		}
		return params, suffix, true
	}
	return params, "", true
}

// ResolveUpstreamPath builds the upstream path for a match. With no
// UpstreamPath it returns Suffix verbatim; otherwise it substitutes named
// params into UpstreamPath and appends Suffix unless Forward is
// ForwardParams.
func (m Match) ResolveUpstreamPath() string {
	if m.Entry.UpstreamPath == "" {
		return m.Suffix
	}
	path := m.Entry.UpstreamPath
	for k, v := range m.Params {
		path = strings.ReplaceAll(path, "{"+k+"}", v)
	}
	if m.Suffix != "" && m.Entry.Forward != ForwardParams {
		path += m.Suffix
	}
	return path
}
