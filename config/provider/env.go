package provider

import (
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/gobeam/stringy"
	"github.com/oddbit-project/safekeep/config"
)

const CommaSeparator = ","

var DefaultSeparator = CommaSeparator

type EnvProvider struct {
	prefix      string
	configData  map[string]string
	convertCase bool // if true, key lookups are converted from localDef -> LOCAL_DEF
}

// NewEnvProvider builds a provider from environment variables starting with prefix.
// Matching variables are loaded on creation; lookups are relative to the prefix.
// If convertCamelCase is enabled, keys are converted from camelCase to SNAKE_CASE
func NewEnvProvider(prefix string, convertCamelCase bool) *EnvProvider {
	provider := &EnvProvider{
		prefix:      prefix,
		configData:  make(map[string]string),
		convertCase: convertCamelCase,
	}
	provider.load()
	return provider
}

func (e *EnvProvider) load() {
	for _, env := range os.Environ() {
		toks := strings.SplitN(env, "=", 2)
		if len(toks) == 2 && strings.HasPrefix(toks[0], e.prefix) {
			e.configData[toks[0]] = toks[1]
		}
	}
}

func (e *EnvProvider) convertKey(key string) string {
	if e.convertCase && key != "" {
		return stringy.New(key).SnakeCase("?", "").ToUpper()
	}
	return key
}

func (e *EnvProvider) fullKey(key string) string {
	return e.prefix + e.convertKey(key)
}

// readPrefixedStruct maps PREFIX+SECTION_FIELD variables into the fields of dest;
// the `env` tag overrides the field name. Defaults are applied afterwards
func (e *EnvProvider) readPrefixedStruct(section string, dest interface{}) error {
	v := reflect.ValueOf(dest)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return config.ErrInvalidType
	}
	prefix := e.prefix
	if section != "" {
		prefix += e.convertKey(section) + "_"
	}
	for i := 0; i < v.NumField(); i++ {
		field := v.Type().Field(i)
		fieldValue := v.Field(i)
		if !fieldValue.CanSet() {
			continue
		}
		name := field.Tag.Get("env")
		if name == "" {
			name = e.convertKey(field.Name)
		}
		val, ok := e.configData[prefix+name]
		if !ok {
			continue
		}
		if fieldValue.Kind() == reflect.Slice && fieldValue.Type().Elem().Kind() == reflect.String {
			fieldValue.Set(reflect.ValueOf(splitTrim(val, DefaultSeparator)))
			continue
		}
		setFromString(fieldValue, val)
	}
	return applyDefaults(dest)
}

// Get reads un-sectioned variables into dest
func (e *EnvProvider) Get(dest interface{}) error {
	return e.readPrefixedStruct("", dest)
}

// GetKey reads an env key into dest. If dest is a pointer to a struct, key is used as a section
// and fields are read from PREFIX+KEY_FIELD
func (e *EnvProvider) GetKey(key string, dest interface{}) error {
	destType := reflect.TypeOf(dest)
	if destType != nil && destType.Kind() == reflect.Ptr && destType.Elem().Kind() == reflect.Struct {
		return e.readPrefixedStruct(key, dest)
	}
	switch d := dest.(type) {
	case *string:
		v, err := e.GetStringKey(key)
		if err == nil {
			*d = v
		}
		return err
	case *int:
		v, err := e.GetIntKey(key)
		if err == nil {
			*d = v
		}
		return err
	case *bool:
		v, err := e.GetBoolKey(key)
		if err == nil {
			*d = v
		}
		return err
	case *[]string:
		v, err := e.GetSliceKey(key, DefaultSeparator)
		if err == nil {
			*d = v
		}
		return err
	}
	return config.ErrNotImplemented
}

func (e *EnvProvider) GetStringKey(key string) (string, error) {
	v, ok := e.configData[e.fullKey(key)]
	if !ok {
		return "", config.ErrNoKey
	}
	return v, nil
}

func (e *EnvProvider) GetBoolKey(key string) (bool, error) {
	if v, ok := e.configData[e.fullKey(key)]; ok {
		return strconv.ParseBool(v)
	}
	return false, config.ErrNoKey
}

func (e *EnvProvider) GetIntKey(key string) (int, error) {
	if v, ok := e.configData[e.fullKey(key)]; ok {
		return strconv.Atoi(v)
	}
	return 0, config.ErrNoKey
}

func (e *EnvProvider) GetSliceKey(key, separator string) ([]string, error) {
	if v, ok := e.configData[e.fullKey(key)]; ok {
		return splitTrim(v, separator), nil
	}
	return nil, config.ErrNoKey
}

func (e *EnvProvider) KeyExists(key string) bool {
	_, exists := e.configData[e.fullKey(key)]
	return exists
}

func (e *EnvProvider) KeyListExists(keys []string) bool {
	for _, k := range keys {
		if !e.KeyExists(k) {
			return false
		}
	}
	return true
}

func splitTrim(v, separator string) []string {
	buf := make([]string, 0)
	for _, s := range strings.Split(v, separator) {
		buf = append(buf, strings.TrimSpace(s))
	}
	return buf
}
