package record

// Schema is an ordered, duplicate free list of column names
type Schema struct {
	columns []string
}

// NewSchema creates a schema, dropping repeated names
func NewSchema(columns ...string) *Schema {
	s := &Schema{}
	s.Append(columns...)
	return s
}

// Columns returns a copy of the column names
func (s *Schema) Columns() []string {
	out := make([]string, len(s.columns))
	copy(out, s.columns)
	return out
}

// Len returns the number of columns
func (s *Schema) Len() int {
	return len(s.columns)
}

// Has reports whether the column exists
func (s *Schema) Has(name string) bool {
	return s.index(name) >= 0
}

// Append adds columns at the end, skipping names already present
func (s *Schema) Append(names ...string) {
	for _, name := range names {
		if !s.Has(name) {
			s.columns = append(s.columns, name)
		}
	}
}

// InsertAfter places name right after parent. It is a no-op when name is
// already present, so the first caller fixes the position. If parent is
// missing the name is appended.
func (s *Schema) InsertAfter(parent, name string) {
	if s.Has(name) {
		return
	}
	i := s.index(parent)
	if i < 0 {
		s.columns = append(s.columns, name)
		return
	}
	s.columns = append(s.columns, "")
	copy(s.columns[i+2:], s.columns[i+1:])
	s.columns[i+1] = name
}

func (s *Schema) index(name string) int {
	for i, c := range s.columns {
		if c == name {
			return i
		}
	}
	return -1
}
