package status

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/genricoloni/ethist/internal/domain"
	"github.com/genricoloni/ethist/internal/playback"
	"go.uber.org/zap"
)

type handlers struct {
	logger   *zap.Logger
	state    NowPlaying
	renderer BackdropRenderer
	started  time.Time
}

type healthzResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

type songResponse struct {
	Key        uint64 `json:"key"`
	Name       string `json:"name"`
	Artist     string `json:"artist"`
	Paused     bool   `json:"paused"`
	LengthMs   uint32 `json:"length_ms"`
	PositionMs uint32 `json:"position_ms"`
	CoverURL   string `json:"cover_url,omitempty"`
	CoverReady bool   `json:"cover_ready"`
	Accent     string `json:"accent,omitempty"`
}

type nowPlayingResponse struct {
	Screen  playback.Screen `json:"screen"`
	Version uint64          `json:"version"`
	Song    *songResponse   `json:"song,omitempty"`
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthzResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(h.started).Seconds(),
	})
}

func (h *handlers) nowPlaying(w http.ResponseWriter, r *http.Request) {
	resp := nowPlayingResponse{
		Screen:  h.state.Screen(),
		Version: h.state.Version(),
	}
	if song, ok := h.state.Current(); ok {
		resp.Song = toSongResponse(song)
	}
	writeJSON(w, http.StatusOK, resp)
}

// cover serves the cached source file of the current cover
func (h *handlers) cover(w http.ResponseWriter, r *http.Request) {
	song, ok := h.state.Current()
	if !ok || song.Cover == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Track-Key", strconv.FormatUint(uint64(song.Key), 10))
	http.ServeFile(w, r, song.Cover.Path)
}

// backdrop renders the blurred full-screen background of the current cover
func (h *handlers) backdrop(w http.ResponseWriter, r *http.Request) {
	song, ok := h.state.Current()
	if !ok || song.Cover == nil {
		http.NotFound(w, r)
		return
	}

	data, err := h.renderer.Backdrop(r.Context(), song.Cover.Path, song.Accent)
	if err != nil {
		h.logger.Warn("Failed to render backdrop",
			zap.String("path", song.Cover.Path),
			zap.Error(err))
		http.Error(w, "backdrop unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Track-Key", strconv.FormatUint(uint64(song.Key), 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func toSongResponse(song domain.Song) *songResponse {
	resp := &songResponse{
		Key:        uint64(song.Key),
		Name:       song.Name,
		Artist:     song.Artist,
		Paused:     song.Paused,
		LengthMs:   song.LengthMs,
		PositionMs: song.PositionMs,
		CoverURL:   song.CoverURL,
		CoverReady: song.Cover != nil,
	}
	if song.Accent != nil {
		resp.Accent = song.Accent.Hex()
	}
	return resp
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
