package model

// IndicatorRow is a bar plus its named indicator columns.
type IndicatorRow struct {
	Bar
	Cols map[string]Value
}

// Col returns the named column; a missing column is undefined.
func (r IndicatorRow) Col(name string) Value {
	if r.Cols == nil {
		return Value{}
	}
	return r.Cols[name]
}
