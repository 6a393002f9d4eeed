package provider

import (
	"reflect"
	"strconv"
)

// applyDefaults applies default values to struct fields that have zero values
func applyDefaults(dest interface{}) error {
	v := reflect.ValueOf(dest)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}

	for i := 0; i < v.NumField(); i++ {
		field := v.Type().Field(i)
		fieldValue := v.Field(i)
		if !fieldValue.CanSet() {
			continue
		}

		if defaultVal := field.Tag.Get("default"); defaultVal != "" && fieldValue.IsZero() {
			setFromString(fieldValue, defaultVal)
		}

		// nested sections
		if fieldValue.Kind() == reflect.Struct && fieldValue.CanAddr() {
			if err := applyDefaults(fieldValue.Addr().Interface()); err != nil {
				return err
			}
		}
	}
	return nil
}

// setFromString parses val into fieldValue; unparsable values leave the field untouched
func setFromString(fieldValue reflect.Value, val string) {
	switch fieldValue.Kind() {
	case reflect.String:
		fieldValue.SetString(val)
	case reflect.Int, reflect.Int64:
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
			fieldValue.SetInt(intVal)
		}
	case reflect.Uint, reflect.Uint32, reflect.Uint64:
		if uintVal, err := strconv.ParseUint(val, 10, 64); err == nil {
			fieldValue.SetUint(uintVal)
		}
	case reflect.Bool:
		if boolVal, err := strconv.ParseBool(val); err == nil {
			fieldValue.SetBool(boolVal)
		}
	case reflect.Float64:
		if floatVal, err := strconv.ParseFloat(val, 64); err == nil {
			fieldValue.SetFloat(floatVal)
		}
	}
}
