package domain

import (
	"fmt"
	"image"
)

// TrackKey identifies one track-changed announcement.
// Enrichment results carry the key of the song they were started for.
type TrackKey uint64

// RGB is an 8-bit per channel colour
type RGB struct {
	R uint8
	G uint8
	B uint8
}

// Hex returns the colour as #rrggbb
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Cover is a decoded cover image ready to be drawn
type Cover struct {
	// Path to the cached source file
	Path string
	// Image is the thumbnail produced from the source file
	Image image.Image
}

// Song contains information about the currently playing media
type Song struct {
	Key        TrackKey
	Paused     bool
	Name       string
	Artist     string
	LengthMs   uint32
	PositionMs uint32
	// Cover stays nil until the cover image has been resolved
	Cover    *Cover
	CoverURL string
	// Accent stays nil until the colour lookup has resolved
	Accent *RGB
}

// Credentials is the opaque result of one discovery/pairing attempt
type Credentials struct {
	// Player is a human readable name of the remote controller
	Player string
	// Token is backend specific and only meaningful to the Protocol that issued it
	Token string
}

// PlayerEventKind tags native player events
type PlayerEventKind int

const (
	// EventOther is any event the bridge does not care about
	EventOther PlayerEventKind = iota
	// EventTrackChanged is sent when a new item starts
	EventTrackChanged
	// EventStopped is sent when playback stops
	EventStopped
	// EventPaused is sent when playback pauses
	EventPaused
	// EventPlaying is sent when playback resumes
	EventPlaying
)

func (k PlayerEventKind) String() string {
	switch k {
	case EventTrackChanged:
		return "TrackChanged"
	case EventStopped:
		return "Stopped"
	case EventPaused:
		return "Paused"
	case EventPlaying:
		return "Playing"
	default:
		return "Other"
	}
}

// PlayerEvent is one event of a session's native event stream
type PlayerEvent struct {
	Kind PlayerEventKind
	// Item is set for EventTrackChanged
	Item *AudioItem
}

// CoverImage is one artwork variant of an item
type CoverImage struct {
	URL    string
	Width  int
	Height int
}

// AudioItem is the metadata of a playable item as reported by the protocol
type AudioItem struct {
	Name       string
	DurationMs uint32
	Covers     []CoverImage
	// TrackID is the resolvable identifier used by the metadata lookup
	TrackID string
	Unique  UniqueFields
}

// UniqueFields carries the per item-type fields
type UniqueFields interface {
	uniqueFields()
}

// Artist is one credited artist of a track
type Artist struct {
	Name string
}

// TrackFields describes a standard music track
type TrackFields struct {
	Artists []Artist
	Album   string
}

// EpisodeFields describes a podcast episode
type EpisodeFields struct {
	ShowName string
}

// LocalFields describes a locally sourced file
type LocalFields struct {
	// Artists is nil when the file carries no artist tag
	Artists *string
}

func (TrackFields) uniqueFields()   {}
func (EpisodeFields) uniqueFields() {}
func (LocalFields) uniqueFields()   {}

// Lyrics is the subset of the lyrics/metadata lookup response the bridge uses
type Lyrics struct {
	Colors LyricsColors `json:"colors"`
}

// LyricsColors holds packed 0xRRGGBB colours. Services encode them either as
// signed 32-bit (-8355712) or unsigned (4286611584) integers with alpha in
// the top byte, so both ranges must decode.
type LyricsColors struct {
	Background    int64 `json:"background"`
	Text          int64 `json:"text"`
	HighlightText int64 `json:"highlightText"`
}

// ScreenResolution holds the display dimensions
type ScreenResolution struct {
	Width  int
	Height int
}
