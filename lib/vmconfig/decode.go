package vmconfig

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ghodss/yaml"
)

// Decode reads one JSON VmConfig from r. Unknown fields, wrong types and
// unknown enum variants are reported as *ShapeError.
func Decode(r io.Reader) (*VmConfig, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return DecodeJSON(data)
}

// DecodeJSON decodes a JSON VmConfig. Required members that are absent are
// remembered and reported by ApplyDefaults.
func DecodeJSON(data []byte) (*VmConfig, error) {
	var cfg VmConfig
	if err := DecodeStrict(data, &cfg); err != nil {
		return nil, err
	}
	cfg.absent = absentRequired(data)
	return &cfg, nil
}

// DecodeYAML decodes a YAML VmConfig using the JSON field names.
func DecodeYAML(data []byte) (*VmConfig, error) {
	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, &ShapeError{Message: fmt.Sprintf("malformed YAML: %v", err)}
	}
	return DecodeJSON(jsonData)
}

// DecodeDevice decodes a single device body of family f, as carried by a
// hotplug request. The returned value is one of the family config types.
func DecodeDevice(f Family, data []byte) (any, error) {
	var v any
	switch f {
	case FamilyDisk:
		v = &DiskConfig{}
	case FamilyNet:
		v = &NetConfig{}
	case FamilyFs:
		v = &FsConfig{}
	case FamilyPmem:
		v = &PmemConfig{}
	case FamilyDevice:
		v = &DeviceConfig{}
	case FamilyUserDevice:
		v = &UserDeviceConfig{}
	case FamilyVdpa:
		v = &VdpaConfig{}
	case FamilyVsock:
		v = &VsockConfig{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFamily, f)
	}
	if err := DecodeStrict(data, v); err != nil {
		return nil, err
	}
	if absent := absentRequiredDevice(f, data); len(absent) > 0 {
		errs := make(ShapeErrors, 0, len(absent))
		for _, field := range absent {
			errs = append(errs, required(field))
		}
		return nil, errs
	}
	switch d := v.(type) {
	case *DiskConfig:
		return *d, nil
	case *NetConfig:
		return *d, nil
	case *FsConfig:
		return *d, nil
	case *PmemConfig:
		return *d, nil
	case *DeviceConfig:
		return *d, nil
	case *UserDeviceConfig:
		return *d, nil
	case *VdpaConfig:
		return *d, nil
	default:
		return *(v.(*VsockConfig)), nil
	}
}

// DecodeStrict decodes exactly one JSON value into v, rejecting unknown fields.
func DecodeStrict(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return &ShapeError{Message: "empty body"}
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return shapeError(err)
	}
	if dec.More() {
		return &ShapeError{Message: "unexpected data after top-level value"}
	}
	return nil
}

func shapeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	var enumErr *EnumError
	switch {
	case errors.As(err, &enumErr):
		return &ShapeError{Message: enumErr.Error()}
	case errors.As(err, &typeErr):
		return &ShapeError{
			Field:   typeErr.Field,
			Message: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value),
		}
	case errors.As(err, &syntaxErr):
		return &ShapeError{Message: fmt.Sprintf("malformed JSON at offset %d: %v", syntaxErr.Offset, err)}
	case errors.Is(err, io.ErrUnexpectedEOF):
		return &ShapeError{Message: "truncated JSON"}
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		return &ShapeError{Field: field, Message: "unknown field"}
	}
	return &ShapeError{Message: err.Error()}
}
