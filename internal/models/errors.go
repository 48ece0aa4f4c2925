package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Common validation errors for models.
var (
	// ErrNameRequired indicates a required name field is empty.
	ErrNameRequired = errors.New("name is required")

	// ErrURLRequired indicates a required URL field is empty.
	ErrURLRequired = errors.New("url is required")

	// ErrInvalidURL indicates a malformed URL.
	ErrInvalidURL = errors.New("invalid URL format")

	// ErrChannelIDRequired indicates a required channel ID field is zero.
	ErrChannelIDRequired = errors.New("channel_id is required")

	// ErrChannelNumberRange indicates a channel number outside [1, 9999].
	ErrChannelNumberRange = errors.New("channel number must be between 1 and 9999")

	// ErrChannelNumberTaken indicates a channel number already in use.
	ErrChannelNumberTaken = errors.New("channel number is already in use")

	// ErrInvalidStreamKind indicates a stream kind outside the supported set.
	ErrInvalidStreamKind = errors.New("invalid stream kind: must be one of hls, dash, rtsp, rtmp, udp, http, mms, srt, ts")

	// ErrStreamURLRequired indicates a required stream URL field is empty.
	ErrStreamURLRequired = errors.New("stream url is required")

	// ErrSourceIDRequired indicates a required source ID field is zero.
	ErrSourceIDRequired = errors.New("source_id is required")

	// ErrEpgIDRequired indicates a required EPG channel identifier is empty.
	ErrEpgIDRequired = errors.New("epg_id is required")

	// ErrStartTimeRequired indicates a required start time field is empty.
	ErrStartTimeRequired = errors.New("start time is required")

	// ErrEndTimeRequired indicates a required end time field is empty.
	ErrEndTimeRequired = errors.New("end time is required")

	// ErrTitleRequired indicates a required title field is empty.
	ErrTitleRequired = errors.New("title is required")

	// ErrInvalidTimeRange indicates end time is not after start time.
	ErrInvalidTimeRange = errors.New("end time must be after start time")

	// ErrSessionIDRequired indicates a required session ID field is empty.
	ErrSessionIDRequired = errors.New("session_id is required")

	// ErrStreamIDRequired indicates a required stream ID field is zero.
	ErrStreamIDRequired = errors.New("stream_id is required")

	// ErrSettingKeyRequired indicates a required setting key is empty.
	ErrSettingKeyRequired = errors.New("setting key is required")

	// ErrInvalidSettingType indicates a setting type outside the supported set.
	ErrInvalidSettingType = errors.New("invalid setting type: must be one of string, number, boolean, json")

	// ErrLevelRequired indicates a required log level field is empty.
	ErrLevelRequired = errors.New("level is required")

	// ErrMessageRequired indicates a required log message field is empty.
	ErrMessageRequired = errors.New("message is required")
)
