package monitor

import (
	"strings"

	"github.com/genricoloni/ethist/internal/domain"
	"github.com/godbus/dbus/v5"
)

const noTrackPath = "/org/mpris/MediaPlayer2/TrackList/NoTrack"

// ParseItem converts MPRIS metadata into an audio item.
// It returns nil when the metadata has no title.
func ParseItem(metadata map[string]dbus.Variant) *domain.AudioItem {
	title := stringValue(metadata, "xesam:title")
	if title == "" {
		return nil
	}

	trackPath := trackPathOf(metadata)
	album := stringValue(metadata, "xesam:album")
	artists := stringsValue(metadata, "xesam:artist")

	item := &domain.AudioItem{
		Name:       title,
		DurationMs: lengthMs(metadata),
		TrackID:    TrackID(trackPath),
	}

	// Browsers and local files often send an empty artUrl
	if artURL := stringValue(metadata, "mpris:artUrl"); artURL != "" {
		item.Covers = []domain.CoverImage{{URL: artURL}}
	}

	switch {
	case strings.Contains(trackPath, "/episode/"):
		item.Unique = domain.EpisodeFields{ShowName: album}
	case strings.HasPrefix(stringValue(metadata, "xesam:url"), "file://"):
		var local domain.LocalFields
		if len(artists) > 0 {
			joined := strings.Join(artists, ", ")
			local.Artists = &joined
		}
		item.Unique = local
	default:
		track := domain.TrackFields{Album: album}
		for _, name := range artists {
			track.Artists = append(track.Artists, domain.Artist{Name: name})
		}
		item.Unique = track
	}

	return item
}

// TrackID extracts the resolvable id from an mpris:trackid path such as
// /com/spotify/track/4uLU6hMCjMI75M1A2tKUQC
func TrackID(trackPath string) string {
	if trackPath == "" || trackPath == noTrackPath {
		return ""
	}
	if i := strings.LastIndexAny(trackPath, "/:"); i >= 0 {
		return trackPath[i+1:]
	}
	return trackPath
}

// trackIdentity tells two announcements of the same item apart from a new one
func trackIdentity(metadata map[string]dbus.Variant) string {
	if path := trackPathOf(metadata); path != "" && path != noTrackPath {
		return path
	}
	return stringValue(metadata, "xesam:title") + "\x00" + strings.Join(stringsValue(metadata, "xesam:artist"), ",")
}

func trackPathOf(metadata map[string]dbus.Variant) string {
	v, ok := metadata["mpris:trackid"]
	if !ok {
		return ""
	}
	switch id := v.Value().(type) {
	case dbus.ObjectPath:
		return string(id)
	case string:
		return id
	}
	return ""
}

func stringValue(metadata map[string]dbus.Variant, key string) string {
	if v, ok := metadata[key]; ok {
		if s, ok := v.Value().(string); ok {
			return s
		}
	}
	return ""
}

// stringsValue accepts a single string too; some non-compliant players send one
func stringsValue(metadata map[string]dbus.Variant, key string) []string {
	v, ok := metadata[key]
	if !ok {
		return nil
	}
	switch values := v.Value().(type) {
	case []string:
		out := make([]string, 0, len(values))
		for _, s := range values {
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if values != "" {
			return []string{values}
		}
	}
	return nil
}

// lengthMs reads mpris:length (microseconds) as milliseconds
func lengthMs(metadata map[string]dbus.Variant) uint32 {
	v, ok := metadata["mpris:length"]
	if !ok {
		return 0
	}

	var us int64
	switch n := v.Value().(type) {
	case int64:
		us = n
	case uint64:
		us = int64(n)
	case int32:
		us = int64(n)
	case uint32:
		us = int64(n)
	case float64:
		us = int64(n)
	default:
		return 0
	}
	if us <= 0 {
		return 0
	}

	ms := us / 1000
	if ms > int64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(ms)
}
