package postgres

import (
	"reflect"
	"sync"
)

// layout maps the db-tagged fields of a row struct, embedded filter structs
// included, to their column names.
type layout struct {
	columns []string
	paths   [][]int
}

var layouts sync.Map // reflect.Type -> *layout

func layoutOf(t reflect.Type) *layout {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if cached, ok := layouts.Load(t); ok {
		return cached.(*layout)
	}
	l := &layout{}
	if t.Kind() == reflect.Struct {
		for _, f := range reflect.VisibleFields(t) {
			if f.Anonymous || !f.IsExported() {
				continue
			}
			col := f.Tag.Get("db")
			if col == "" || col == "-" {
				continue
			}
			l.columns = append(l.columns, col)
			l.paths = append(l.paths, f.Index)
		}
	}
	actual, _ := layouts.LoadOrStore(t, l)
	return actual.(*layout)
}

// Columns lists the columns of row type T in field order.
func Columns[T any]() []string {
	cols := layoutOf(reflect.TypeFor[T]()).columns
	return append([]string(nil), cols...)
}

// RowMap returns the column values of a row struct, for squirrel's SetMap.
// It returns nil for anything but a struct or a pointer to one.
func RowMap(v any) map[string]any {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}
	l := layoutOf(rv.Type())
	out := make(map[string]any, len(l.columns))
	for i, col := range l.columns {
		out[col] = rv.FieldByIndex(l.paths[i]).Interface()
	}
	return out
}
