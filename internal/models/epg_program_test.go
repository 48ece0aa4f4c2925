package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEpgProgram_TableName(t *testing.T) {
	p := EpgProgram{}
	assert.Equal(t, "epg_programs", p.TableName())
}

func TestEpgProgram_Validate(t *testing.T) {
	sourceID := NewULID()
	now := time.Now()

	valid := func() EpgProgram {
		return EpgProgram{
			SourceID:  sourceID,
			ChannelID: "news24.example",
			StartTime: now,
			EndTime:   now.Add(30 * time.Minute),
			Title:     "Evening News",
		}
	}

	tests := []struct {
		name    string
		modify  func(*EpgProgram)
		wantErr error
	}{
		{"valid program", func(*EpgProgram) {}, nil},
		{"missing source", func(p *EpgProgram) { p.SourceID = ULID{} }, ErrSourceIDRequired},
		{"missing channel", func(p *EpgProgram) { p.ChannelID = "" }, ErrChannelIDRequired},
		{"missing start", func(p *EpgProgram) { p.StartTime = time.Time{} }, ErrStartTimeRequired},
		{"missing end", func(p *EpgProgram) { p.EndTime = time.Time{} }, ErrEndTimeRequired},
		{"missing title", func(p *EpgProgram) { p.Title = "" }, ErrTitleRequired},
		{"end before start", func(p *EpgProgram) { p.EndTime = p.StartTime.Add(-time.Minute) }, ErrInvalidTimeRange},
		{"zero duration", func(p *EpgProgram) { p.EndTime = p.StartTime }, ErrInvalidTimeRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid()
			tt.modify(&p)
			err := p.Validate()
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEpgProgram_TimeHelpers(t *testing.T) {
	now := time.Now()

	onAir := EpgProgram{StartTime: now.Add(-10 * time.Minute), EndTime: now.Add(10 * time.Minute)}
	assert.True(t, onAir.IsOnAir())
	assert.False(t, onAir.HasEnded())
	assert.Equal(t, 20*time.Minute, onAir.Duration())

	ended := EpgProgram{StartTime: now.Add(-2 * time.Hour), EndTime: now.Add(-time.Hour)}
	assert.False(t, ended.IsOnAir())
	assert.True(t, ended.HasEnded())
}

func TestEpgProgram_Overlaps(t *testing.T) {
	base := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	p := EpgProgram{StartTime: base, EndTime: base.Add(time.Hour)}

	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		want  bool
	}{
		{"fully inside", base.Add(10 * time.Minute), base.Add(20 * time.Minute), true},
		{"straddles start", base.Add(-10 * time.Minute), base.Add(10 * time.Minute), true},
		{"straddles end", base.Add(50 * time.Minute), base.Add(70 * time.Minute), true},
		{"covers program", base.Add(-time.Hour), base.Add(2 * time.Hour), true},
		{"before", base.Add(-time.Hour), base, false},
		{"after", base.Add(time.Hour), base.Add(2 * time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Overlaps(tt.start, tt.end))
		})
	}
}
