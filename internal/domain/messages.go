package domain

// Message is a domain message delivered to the playback state.
// The concrete types are SongAnnounced, SongStopped, CoverResolved and ColorResolved.
type Message interface {
	message()
}

// SongAnnounced replaces the current song. Cover and Accent are always nil.
type SongAnnounced struct {
	Song Song
}

// SongStopped clears the current song
type SongStopped struct{}

// CoverResolved reports the cached cover file for the song with Key
type CoverResolved struct {
	Key  TrackKey
	Path string
}

// ColorResolved reports the accent colour for the song with Key
type ColorResolved struct {
	Key   TrackKey
	Color RGB
}

func (SongAnnounced) message() {}
func (SongStopped) message()   {}
func (CoverResolved) message() {}
func (ColorResolved) message() {}
