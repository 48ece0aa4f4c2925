package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetting_TableName(t *testing.T) {
	s := Setting{}
	assert.Equal(t, "settings", s.TableName())
}

func TestSetting_Validate(t *testing.T) {
	tests := []struct {
		name    string
		setting Setting
		wantErr error
	}{
		{"valid", Setting{Key: "plexlive.device.name", Type: SettingTypeString}, nil},
		{"missing key", Setting{Type: SettingTypeString}, ErrSettingKeyRequired},
		{"bad type", Setting{Key: "k", Type: "blob"}, ErrInvalidSettingType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.setting.Validate()
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEncodeSetting_RoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    any
		wantType SettingType
		decoded  any
	}{
		{"string", "device.name", "PlexBridge", SettingTypeString, "PlexBridge"},
		{"bool true", "transcoding.enabled", true, SettingTypeBoolean, true},
		{"bool false", "network.ipv6", false, SettingTypeBoolean, false},
		{"int", "device.tunerCount", 4, SettingTypeNumber, float64(4)},
		{"float", "streaming.factor", 1.5, SettingTypeNumber, 1.5},
		{"json map", "transcoding.qualityProfiles", map[string]any{"low": "480p"}, SettingTypeJSON, map[string]any{"low": "480p"}},
		{"json slice", "ssdp.devices", []any{"a", "b"}, SettingTypeJSON, []any{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := EncodeSetting(tt.key, tt.value)
			assert.Equal(t, tt.key, s.Key)
			assert.Equal(t, tt.wantType, s.Type)
			assert.Equal(t, tt.decoded, s.Decode())
		})
	}
}

func TestSetting_DecodeFallback(t *testing.T) {
	// Unparseable typed values fall back to the raw string
	s := Setting{Key: "k", Type: SettingTypeNumber, Value: "not-a-number"}
	assert.Equal(t, "not-a-number", s.Decode())

	s = Setting{Key: "k", Type: SettingTypeJSON, Value: "{broken"}
	assert.Equal(t, "{broken", s.Decode())
}

func TestSettingType_IsValid(t *testing.T) {
	assert.True(t, SettingTypeString.IsValid())
	assert.True(t, SettingTypeNumber.IsValid())
	assert.True(t, SettingTypeBoolean.IsValid())
	assert.True(t, SettingTypeJSON.IsValid())
	assert.False(t, SettingType("blob").IsValid())
}
