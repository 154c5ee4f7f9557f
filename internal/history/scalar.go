package history

import "github.com/evolu-go/core/pkg/evolu"

// scalarToColumns decomposes a SqlScalar into the history table's four
// nullable value columns plus its kind tag, so exactly one of the pointers
// returned is non-nil (spec §3: value ∈ SqlScalar = null|i64|f64|text|bytes).
func scalarToColumns(v evolu.SqlScalar) (kind int64, i *int64, f *float64, txt *string, b []byte) {
	kind = int64(v.Kind)
	switch v.Kind {
	case evolu.ScalarInt:
		vv := v.Int
		i = &vv
	case evolu.ScalarFloat:
		vv := v.Float
		f = &vv
	case evolu.ScalarText:
		vv := v.Text
		txt = &vv
	case evolu.ScalarBytes:
		b = v.Bytes
	}
	return
}

// columnsToScalar is the inverse of scalarToColumns.
func columnsToScalar(kind int64, i *int64, f *float64, txt *string, b []byte) evolu.SqlScalar {
	switch evolu.ScalarKind(kind) {
	case evolu.ScalarInt:
		if i != nil {
			return evolu.IntScalar(*i)
		}
	case evolu.ScalarFloat:
		if f != nil {
			return evolu.FloatScalar(*f)
		}
	case evolu.ScalarText:
		if txt != nil {
			return evolu.TextScalar(*txt)
		}
	case evolu.ScalarBytes:
		return evolu.BytesScalar(b)
	}
	return evolu.NullScalar()
}
