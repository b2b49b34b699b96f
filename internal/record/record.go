// Package record holds the normalized announcement model shared by every
// adapter: ordered fields, a content fingerprint and the page schema.
package record

// FingerprintField is the name of the field that carries the fingerprint.
// It is always the last field of a Record.
const FingerprintField = "fingerprint"

// Field is a single named value of a Record
type Field struct {
	Name  string
	Value string
}

// Record is one normalized announcement. Field order is significant.
type Record struct {
	fields      []Field
	fingerprint string
}

// New builds a Record from ordered fields and appends the fingerprint
// computed over their values as the final field.
func New(fields []Field) Record {
	values := make([]string, len(fields))
	copied := make([]Field, len(fields), len(fields)+1)
	for i, f := range fields {
		values[i] = f.Value
		copied[i] = f
	}

	fp := Fingerprint(values)
	copied = append(copied, Field{Name: FingerprintField, Value: fp})

	return Record{fields: copied, fingerprint: fp}
}

// Fingerprint returns the content hash of the record
func (r Record) Fingerprint() string {
	return r.fingerprint
}

// Fields returns a copy of all fields, fingerprint last
func (r Record) Fields() []Field {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// Get returns the value of the first field with the given name
func (r Record) Get(name string) (string, bool) {
	for _, f := range r.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Value returns the named field or an empty string
func (r Record) Value(name string) string {
	v, _ := r.Get(name)
	return v
}

// Names returns the field names in order, fingerprint last
func (r Record) Names() []string {
	names := make([]string, len(r.fields))
	for i, f := range r.fields {
		names[i] = f.Name
	}
	return names
}
