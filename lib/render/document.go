package render

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Document is an ordered set of TOML tables.
type Document struct {
	tables []*Table
	index  map[string]*Table
}

// Table is one [header] section of a Document.
type Table struct {
	name   string
	keys   []string
	values map[string]any
}

// NewDocument returns an empty Document.
func NewDocument() *Document {
	return &Document{index: make(map[string]*Table)}
}

// Table returns the table named by the dotted path parts, creating it on first
// use. Parts that are not valid bare keys are quoted, so a tunnel id such as
// "edge.1" stays a single path segment.
func (d *Document) Table(parts ...string) *Table {
	name := TableName(parts...)
	if t, ok := d.index[name]; ok {
		return t
	}
	t := &Table{name: name, values: make(map[string]any)}
	d.tables = append(d.tables, t)
	d.index[name] = t
	return t
}

// Set stores value under key. A nil value removes the key from output.
// Setting an existing key replaces its value and keeps its position.
func (t *Table) Set(key string, value any) *Table {
	if _, exists := t.values[key]; !exists {
		t.keys = append(t.keys, key)
	}
	t.values[key] = value
	return t
}

// Has reports whether key holds a non-nil value.
func (t *Table) Has(key string) bool {
	v, ok := t.values[key]
	return ok && v != nil
}

// Name returns the rendered table header without brackets.
func (t *Table) Name() string {
	return t.name
}

// String renders the document. Each table is followed by a blank line and the
// output ends with exactly one newline.
func (d *Document) String() string {
	var b strings.Builder
	for _, t := range d.tables {
		b.WriteString("[")
		b.WriteString(t.name)
		b.WriteString("]\n")
		for _, key := range t.keys {
			v := t.values[key]
			if v == nil {
				continue
			}
			b.WriteString(Key(key))
			b.WriteString(" = ")
			b.WriteString(Value(v))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String()) + "\n"
}

// Bytes is String as a byte slice, ready for os.WriteFile.
func (d *Document) Bytes() []byte {
	return []byte(d.String())
}

// TableName joins parts into a dotted TOML table path.
func TableName(parts ...string) string {
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = Key(p)
	}
	return strings.Join(quoted, ".")
}

// Key returns k as a bare key when possible, otherwise as a quoted key.
func Key(k string) string {
	if isBareKey(k) {
		return k
	}
	return Quote(k)
}

// Value formats v as a TOML value. Booleans render as true/false, numbers
// unquoted, slices as a bracketed list of quoted strings, and everything else
// as a quoted string. Floats holding whole numbers render as integers because
// JSON decoded specs carry every number as float64.
func Value(v any) string {
	switch t := v.(type) {
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int8, int16, int32, int64:
		return fmt.Sprintf("%d", t)
	case uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", t)
	case float32:
		return formatFloat(float64(t))
	case float64:
		return formatFloat(t)
	case string:
		return Quote(t)
	case []string:
		items := make([]any, len(t))
		for i, s := range t {
			items[i] = s
		}
		return formatList(items)
	case []any:
		return formatList(t)
	case fmt.Stringer:
		return Quote(t.String())
	}
	return Quote(fmt.Sprint(v))
}

// Quote returns s as a TOML basic string.
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 || r == 0x7f {
				fmt.Fprintf(&b, `\u%04X`, r)
				continue
			}
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func formatList(items []any) string {
	if len(items) == 0 {
		return "[]"
	}
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = Quote(fmt.Sprint(item))
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func isBareKey(k string) bool {
	if k == "" {
		return false
	}
	for i := 0; i < len(k); i++ {
		c := k[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}
