package vmconfig

import (
	"encoding/json"
	"fmt"
)

// ConsoleOutputMode selects where a console stream goes.
type ConsoleOutputMode string

const (
	ConsoleOff  ConsoleOutputMode = "Off"
	ConsolePty  ConsoleOutputMode = "Pty"
	ConsoleTty  ConsoleOutputMode = "Tty"
	ConsoleFile ConsoleOutputMode = "File"
	ConsoleNull ConsoleOutputMode = "Null"
)

// HotplugMethod selects the memory hotplug mechanism.
type HotplugMethod string

const (
	HotplugAcpi      HotplugMethod = "Acpi"
	HotplugVirtioMem HotplugMethod = "VirtioMem"
)

// VhostMode selects which side of a vhost-user socket the VMM takes.
type VhostMode string

const (
	VhostClient VhostMode = "Client"
	VhostServer VhostMode = "Server"
)

// Valid reports whether m is one of the declared variants.
func (m ConsoleOutputMode) Valid() bool {
	switch m {
	case ConsoleOff, ConsolePty, ConsoleTty, ConsoleFile, ConsoleNull:
		return true
	}
	return false
}

func (m HotplugMethod) Valid() bool {
	switch m {
	case HotplugAcpi, HotplugVirtioMem:
		return true
	}
	return false
}

func (m VhostMode) Valid() bool {
	switch m {
	case VhostClient, VhostServer:
		return true
	}
	return false
}

func (m *ConsoleOutputMode) UnmarshalJSON(data []byte) error {
	s, err := unmarshalVariant(data, "ConsoleOutputMode")
	if err != nil {
		return err
	}
	if v := ConsoleOutputMode(s); v.Valid() {
		*m = v
		return nil
	}
	return &EnumError{Type: "ConsoleOutputMode", Value: s}
}

func (m *HotplugMethod) UnmarshalJSON(data []byte) error {
	s, err := unmarshalVariant(data, "HotplugMethod")
	if err != nil {
		return err
	}
	if v := HotplugMethod(s); v.Valid() {
		*m = v
		return nil
	}
	return &EnumError{Type: "HotplugMethod", Value: s}
}

func (m *VhostMode) UnmarshalJSON(data []byte) error {
	s, err := unmarshalVariant(data, "VhostMode")
	if err != nil {
		return err
	}
	if v := VhostMode(s); v.Valid() {
		*m = v
		return nil
	}
	return &EnumError{Type: "VhostMode", Value: s}
}

func unmarshalVariant(data []byte, typeName string) (string, error) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", &EnumError{Type: typeName, Value: string(data)}
	}
	return s, nil
}

// EnumError reports a value outside a closed set of variants.
type EnumError struct {
	Type  string
	Value string
}

func (e *EnumError) Error() string {
	return fmt.Sprintf("unknown %s variant %q", e.Type, e.Value)
}
