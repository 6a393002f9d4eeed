package provider

import (
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/oddbit-project/safekeep/config"
	"github.com/oddbit-project/safekeep/utils"
)

const (
	ErrJsonInvalidSource = utils.Error("NewJsonProvider: invalid source type")
)

type JsonProvider struct {
	configData map[string]json.RawMessage
	m          sync.RWMutex
}

// NewJsonProvider builds a provider from a file name, a reader, raw bytes or a json.RawMessage
func NewJsonProvider(src interface{}) (*JsonProvider, error) {
	provider := &JsonProvider{
		configData: make(map[string]json.RawMessage),
	}
	switch v := src.(type) {
	case json.RawMessage:
		if err := json.Unmarshal(v, &provider.configData); err != nil {
			return nil, err
		}
	case []byte:
		if err := json.Unmarshal(v, &provider.configData); err != nil {
			return nil, err
		}
	case io.Reader:
		if err := provider.fromReader(v); err != nil {
			return nil, err
		}
	case string:
		if err := provider.fromFile(v); err != nil {
			return nil, err
		}
	default:
		return nil, ErrJsonInvalidSource
	}
	return provider, nil
}

func (j *JsonProvider) fromReader(src io.Reader) error {
	data, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &j.configData)
}

func (j *JsonProvider) fromFile(fname string) error {
	f, err := os.Open(fname)
	if err != nil {
		return err
	}
	defer f.Close()
	return j.fromReader(f)
}

// Get de-serializes everything to dest
func (j *JsonProvider) Get(dest interface{}) error {
	j.m.RLock()
	defer j.m.RUnlock()
	data, err := json.Marshal(j.configData)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return err
	}
	return applyDefaults(dest)
}

func (j *JsonProvider) GetKey(key string, dest interface{}) error {
	j.m.RLock()
	defer j.m.RUnlock()
	v, ok := j.configData[key]
	if !ok {
		return config.ErrNoKey
	}
	if err := json.Unmarshal(v, dest); err != nil {
		return err
	}
	return applyDefaults(dest)
}

func (j *JsonProvider) GetStringKey(key string) (string, error) {
	var result string
	err := j.getValue(key, &result)
	return result, err
}

func (j *JsonProvider) GetBoolKey(key string) (bool, error) {
	var result bool
	err := j.getValue(key, &result)
	return result, err
}

func (j *JsonProvider) GetIntKey(key string) (int, error) {
	var result int
	err := j.getValue(key, &result)
	return result, err
}

// GetSliceKey note: separator is ignored
func (j *JsonProvider) GetSliceKey(key, separator string) ([]string, error) {
	buf := make([]string, 0)
	if err := j.getValue(key, &buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (j *JsonProvider) getValue(key string, dest interface{}) error {
	j.m.RLock()
	defer j.m.RUnlock()
	v, ok := j.configData[key]
	if !ok {
		return config.ErrNoKey
	}
	return json.Unmarshal(v, dest)
}

func (j *JsonProvider) KeyExists(key string) bool {
	j.m.RLock()
	defer j.m.RUnlock()
	_, ok := j.configData[key]
	return ok
}

func (j *JsonProvider) KeyListExists(keys []string) bool {
	for _, k := range keys {
		if !j.KeyExists(k) {
			return false
		}
	}
	return true
}
