package models

import (
	"encoding/json"
	"strconv"

	"gorm.io/gorm"
)

// SettingType tags how a setting value is encoded in its row.
type SettingType string

const (
	// SettingTypeString stores the value verbatim.
	SettingTypeString SettingType = "string"
	// SettingTypeNumber stores a decimal number.
	SettingTypeNumber SettingType = "number"
	// SettingTypeBoolean stores "true" or "false".
	SettingTypeBoolean SettingType = "boolean"
	// SettingTypeJSON stores a JSON document.
	SettingTypeJSON SettingType = "json"
)

// IsValid reports whether the type tag is in the supported set.
func (t SettingType) IsValid() bool {
	switch t {
	case SettingTypeString, SettingTypeNumber, SettingTypeBoolean, SettingTypeJSON:
		return true
	}
	return false
}

// Setting is one flat row of the persistent settings tree. Keys are
// dotted paths ("plexlive.streaming.maxConcurrentStreams"); the settings
// service rebuilds the nested tree from these rows.
type Setting struct {
	BaseModel

	// Key is the dotted-path settings key.
	Key string `gorm:"uniqueIndex;not null;size:255" json:"key"`

	// Value is the encoded value per Type.
	Value string `gorm:"type:text" json:"value"`

	// Type tags the value encoding.
	Type SettingType `gorm:"not null;default:'string';size:10" json:"type"`

	// Description is optional operator-facing documentation.
	Description string `gorm:"size:1024" json:"description,omitempty"`
}

// TableName returns the table name for Setting.
func (Setting) TableName() string {
	return "settings"
}

// Decode converts the stored value to its typed Go representation.
// Unparseable values fall back to the raw string rather than erroring;
// settings reads must never fail the caller.
func (s *Setting) Decode() any {
	switch s.Type {
	case SettingTypeNumber:
		if n, err := strconv.ParseFloat(s.Value, 64); err == nil {
			return n
		}
	case SettingTypeBoolean:
		if b, err := strconv.ParseBool(s.Value); err == nil {
			return b
		}
	case SettingTypeJSON:
		var v any
		if err := json.Unmarshal([]byte(s.Value), &v); err == nil {
			return v
		}
	}
	return s.Value
}

// EncodeSetting builds a Setting row from a typed value, choosing the
// matching type tag.
func EncodeSetting(key string, value any) Setting {
	setting := Setting{Key: key}
	switch v := value.(type) {
	case nil:
		setting.Type = SettingTypeString
		setting.Value = ""
	case bool:
		setting.Type = SettingTypeBoolean
		setting.Value = strconv.FormatBool(v)
	case string:
		setting.Type = SettingTypeString
		setting.Value = v
	case float64:
		setting.Type = SettingTypeNumber
		setting.Value = strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		setting.Type = SettingTypeNumber
		setting.Value = strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		setting.Type = SettingTypeNumber
		setting.Value = strconv.Itoa(v)
	case int64:
		setting.Type = SettingTypeNumber
		setting.Value = strconv.FormatInt(v, 10)
	default:
		setting.Type = SettingTypeJSON
		if b, err := json.Marshal(v); err == nil {
			setting.Value = string(b)
		}
	}
	return setting
}

// Validate performs basic validation on the setting.
func (s *Setting) Validate() error {
	if s.Key == "" {
		return ErrSettingKeyRequired
	}
	if !s.Type.IsValid() {
		return ErrInvalidSettingType
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the setting and generates ULID.
func (s *Setting) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return s.Validate()
}

// BeforeUpdate is a GORM hook that validates the setting before update.
func (s *Setting) BeforeUpdate(tx *gorm.DB) error {
	return s.Validate()
}
