package gateway

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
)

// SystemInfo is the gateway tag schema: group -> tag -> full attribute tag ->
// attribute properties.
type SystemInfo struct {
	Tags map[string]map[string]map[string]map[string]any `json:"tags"`
}

// Readable is an attribute whose current value can be read.
type Readable interface {
	Value(ctx context.Context) (float64, error)
}

// Settable is an attribute that also accepts writes.
type Settable interface {
	Readable
	Set(ctx context.Context, value float64) error
}

// Attribute is one addressable value of a tag, e.g. "MV-101.SP".
type Attribute struct {
	Group string
	Tag   string
	// Full is the gateway address of the attribute.
	Full string
	// Key is Full without the tag prefix, with dots replaced by underscores.
	Key   string
	Props map[string]any

	source Source
	writer Setpointer
}

// Value returns the newest cached value of the attribute.
func (a *Attribute) Value(ctx context.Context) (float64, error) {
	frame, err := a.source.Last(ctx, 0)
	if err != nil {
		return math.NaN(), fmt.Errorf("read %s: %w", a.Full, err)
	}
	v, ok := frame.Latest(a.Full)
	if !ok {
		return math.NaN(), fmt.Errorf("read %s: %w", a.Full, ErrNoData)
	}
	return v, nil
}

// Property returns a schema property of the attribute.
func (a *Attribute) Property(name string) (any, bool) {
	v, ok := a.Props[name]
	return v, ok
}

// IsSettable reports whether the schema marks the attribute writable.
func (a *Attribute) IsSettable() bool {
	v, ok := a.Props["Settable"].(bool)
	return ok && v && a.writer != nil
}

type settableAttribute struct {
	*Attribute
}

func (s settableAttribute) Set(ctx context.Context, value float64) error {
	return s.writer.SetSetpoint(ctx, s.Full, value)
}

// TagTable is built once from the gateway schema and resolves attributes by
// their full address.
type TagTable struct {
	byFull  map[string]*Attribute
	byGroup map[string][]string
}

// NewTagTable builds the lookup table. writer may be nil for a read-only table.
func NewTagTable(info SystemInfo, source Source, writer Setpointer) *TagTable {
	t := &TagTable{
		byFull:  make(map[string]*Attribute),
		byGroup: make(map[string][]string),
	}
	for group, tags := range info.Tags {
		for tag, attrs := range tags {
			t.byGroup[group] = append(t.byGroup[group], tag)
			for full, props := range attrs {
				t.byFull[full] = &Attribute{
					Group:  group,
					Tag:    tag,
					Full:   full,
					Key:    attributeKey(full),
					Props:  props,
					source: source,
					writer: writer,
				}
			}
		}
		sort.Strings(t.byGroup[group])
	}
	return t
}

// Lookup returns the attribute with the given full address.
func (t *TagTable) Lookup(full string) (*Attribute, error) {
	a, ok := t.byFull[full]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTag, full)
	}
	return a, nil
}

// Readable returns a read capability for full.
func (t *TagTable) Readable(full string) (Readable, error) {
	return t.Lookup(full)
}

// Settable returns a write capability for full.
func (t *TagTable) Settable(full string) (Settable, error) {
	a, err := t.Lookup(full)
	if err != nil {
		return nil, err
	}
	if !a.IsSettable() {
		return nil, fmt.Errorf("%w: %s", ErrNotSettable, full)
	}
	return settableAttribute{a}, nil
}

// Groups returns the sorted group names.
func (t *TagTable) Groups() []string {
	groups := make([]string, 0, len(t.byGroup))
	for g := range t.byGroup {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// Tags returns the sorted tags of group.
func (t *TagTable) Tags(group string) []string {
	return t.byGroup[group]
}

// Len returns the number of attributes.
func (t *TagTable) Len() int {
	return len(t.byFull)
}

func attributeKey(full string) string {
	parts := strings.Split(full, ".")
	if len(parts) < 2 {
		return ""
	}
	return strings.Join(parts[1:], "_")
}
