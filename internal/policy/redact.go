package policy

import "reflect"

// Redact zeroes every exported field of the struct behind v whose `view`
// tag names a field outside view. Untagged fields are zeroed too, so a new
// response field stays hidden until it is given a tag. Visible structs,
// pointers and slices are shaped recursively.
func Redact(v interface{}, view FieldSet) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return
	}
	redactValue(rv.Elem(), view)
}

func redactValue(v reflect.Value, view FieldSet) {
	switch v.Kind() {
	case reflect.Pointer:
		if !v.IsNil() {
			redactValue(v.Elem(), view)
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			redactValue(v.Index(i), view)
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if !sf.IsExported() {
				continue
			}
			field := v.Field(i)
			tag := sf.Tag.Get("view")
			if tag == "" || !view.Has(Field(tag)) {
				field.Set(reflect.Zero(sf.Type))
				continue
			}
			redactValue(field, view)
		}
	}
}
