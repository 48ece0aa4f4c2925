package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEpgSource_TableName(t *testing.T) {
	s := EpgSource{}
	assert.Equal(t, "epg_sources", s.TableName())
}

func TestEpgSource_Validate(t *testing.T) {
	tests := []struct {
		name    string
		source  EpgSource
		wantErr error
	}{
		{
			name:   "valid source",
			source: EpgSource{Name: "Provider Guide", URL: "https://guide.example.com/xmltv.xml"},
		},
		{
			name:    "missing name",
			source:  EpgSource{URL: "https://guide.example.com/xmltv.xml"},
			wantErr: ErrNameRequired,
		},
		{
			name:    "missing url",
			source:  EpgSource{Name: "Provider Guide"},
			wantErr: ErrURLRequired,
		},
		{
			name:   "whitespace trimmed",
			source: EpgSource{Name: "  Provider Guide  ", URL: " https://guide.example.com/xmltv.xml "},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.source.Validate()
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEpgSource_Sanitize(t *testing.T) {
	s := EpgSource{Name: "  Guide  ", URL: "  https://g.example.com/x.xml  ", UserAgent: " agent "}
	s.Sanitize()
	assert.Equal(t, "Guide", s.Name)
	assert.Equal(t, "https://g.example.com/x.xml", s.URL)
	assert.Equal(t, "agent", s.UserAgent)
}

func TestEpgSource_MarkSuccess(t *testing.T) {
	s := EpgSource{Name: "Guide", URL: "https://g.example.com/x.xml", LastError: "old failure"}
	s.MarkSuccess(1234)

	assert.Equal(t, EpgSourceStatusSuccess, s.Status)
	assert.Equal(t, 1234, s.ProgramCount)
	assert.Empty(t, s.LastError)
	require.NotNil(t, s.LastRefreshAt)
}

func TestEpgSource_MarkFailed(t *testing.T) {
	s := EpgSource{Name: "Guide", URL: "https://g.example.com/x.xml"}
	s.MarkFailed(errors.New("fetch timed out"))

	assert.Equal(t, EpgSourceStatusFailed, s.Status)
	assert.Equal(t, "fetch timed out", s.LastError)
}
