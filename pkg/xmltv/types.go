// Package xmltv writes electronic program guide data in the standard XMLTV
// format consumed by Plex and other DVR frontends.
package xmltv

import "time"

// Channel is a channel definition in an XMLTV document.
type Channel struct {
	ID          string
	DisplayName string
	Icon        string
	URL         string
}

// Programme is a single program entry in an XMLTV document.
type Programme struct {
	Start       time.Time
	Stop        time.Time
	Channel     string
	Title       string
	SubTitle    string
	Description string
	Category    string
	Icon        string
	EpisodeNum  string
	Rating      string
	Language    string
	IsNew       bool
	IsPremiere  bool
}
