package binding

import "strings"

// Tag identifies the protocol family of a MethodBinding.
type Tag string

const (
	TagCommand Tag = "command"
	TagTool    Tag = "tool"
	TagRPC     Tag = "rpc"
	TagEvent   Tag = "event"
	TagStream  Tag = "stream"

	httpTagPrefix = "http."
)

// HTTPTag returns the tag for an HTTP verb endpoint, e.g. "http.GET".
func HTTPTag(verb string) Tag {
	return Tag(httpTagPrefix + strings.ToUpper(verb))
}

// IsHTTP reports whether t was produced by HTTPTag.
func (t Tag) IsHTTP() bool {
	return strings.HasPrefix(string(t), httpTagPrefix) && len(t) > len(httpTagPrefix)
}

// HTTPVerb returns the verb of an HTTP tag, or "" for other tags.
func (t Tag) HTTPVerb() string {
	if !t.IsHTTP() {
		return ""
	}
	return strings.TrimPrefix(string(t), httpTagPrefix)
}

func (t Tag) String() string { return string(t) }

// Source is where a parameter value is read from.
type Source string

const (
	SourceBody     Source = "body"
	SourcePath     Source = "path"
	SourceQuery    Source = "query"
	SourceHeader   Source = "header"
	SourceCookie   Source = "cookie"
	SourceSession  Source = "session"
	SourceFile     Source = "file"
	SourceContext  Source = "context"
	SourceRequest  Source = "request"
	SourceResponse Source = "response"
	// SourceArgs is the positional argument list: CLI positionals or the
	// "args" array of a socket call.
	SourceArgs Source = "args"
)

var sourceBits = map[Source]SourceSet{
	SourceBody:     1 << 0,
	SourcePath:     1 << 1,
	SourceQuery:    1 << 2,
	SourceHeader:   1 << 3,
	SourceCookie:   1 << 4,
	SourceSession:  1 << 5,
	SourceFile:     1 << 6,
	SourceContext:  1 << 7,
	SourceRequest:  1 << 8,
	SourceResponse: 1 << 9,
	SourceArgs:     1 << 10,
}

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	_, ok := sourceBits[s]
	return ok
}

// SourceSet is the set of sources an adapter can populate.
type SourceSet uint16

// Sources builds a SourceSet. Unknown sources are ignored.
func Sources(srcs ...Source) SourceSet {
	var set SourceSet
	for _, s := range srcs {
		set |= sourceBits[s]
	}
	return set
}

// AllSources contains every known source.
var AllSources = Sources(SourceBody, SourcePath, SourceQuery, SourceHeader, SourceCookie,
	SourceSession, SourceFile, SourceContext, SourceRequest, SourceResponse, SourceArgs)

func (s SourceSet) Has(src Source) bool {
	bit, ok := sourceBits[src]
	return ok && s&bit != 0
}
