package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mediabuilder/mediad/internal/broadcast"
	"github.com/mediabuilder/mediad/internal/errkind"
	"github.com/mediabuilder/mediad/internal/models"
	"github.com/mediabuilder/mediad/internal/radio"
	"github.com/mediabuilder/mediad/internal/tv"
	"github.com/mediabuilder/mediad/pkg/m3u"
)

// StreamHandler serves the listener attach point. Each request attaches a
// broadcaster listener and relays chunks until the client disconnects or
// the listener is pruned.
type StreamHandler struct {
	broadcaster *broadcast.Broadcaster
	radio       *radio.Engine
	tv          *tv.Engine
	hlsRoot     string
	logger      *slog.Logger
}

// NewStreamHandler creates the streaming handler.
func NewStreamHandler(broadcaster *broadcast.Broadcaster, radioEngine *radio.Engine, tvEngine *tv.Engine, hlsRoot string, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{
		broadcaster: broadcaster,
		radio:       radioEngine,
		tv:          tvEngine,
		hlsRoot:     hlsRoot,
		logger:      logger,
	}
}

// RegisterRoutes registers the raw (non-API) streaming routes.
func (h *StreamHandler) RegisterRoutes(router *chi.Mux) {
	router.Get("/stream/{mount}", h.ServeStream)
	if h.hlsRoot != "" {
		fileServer := http.StripPrefix("/hls/tv/", http.FileServer(http.Dir(h.hlsRoot)))
		router.Get("/hls/tv/*", fileServer.ServeHTTP)
	}
	if h.radio != nil {
		router.Get("/radio/channels/{id}/playlist.m3u", h.ServeRadioPlaylist)
	}
	if h.tv != nil {
		router.Get("/tv/epg.xml", h.ServeXMLTV)
	}
}

// writeStreamError emits the JSON error body on the raw routes.
func writeStreamError(w http.ResponseWriter, kind errkind.Kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errkind.HTTPStatus(kind))
	_ = json.NewEncoder(w).Encode(ErrorModel{
		Detail: ErrorDetail{Code: string(kind), Message: message},
	})
}

// ServeStream attaches an HTTP listener to a broadcaster mount and relays
// the byte stream. The response has no Content-Length; bytes flow until
// the client goes away, stalls out, or the mount is removed.
func (h *StreamHandler) ServeStream(w http.ResponseWriter, r *http.Request) {
	mount := chi.URLParam(r, "mount")

	listener, err := h.broadcaster.Attach(mount)
	if err != nil {
		writeStreamError(w, errkind.NotFound, "no such mount: "+mount)
		return
	}
	defer h.broadcaster.Detach(listener)

	// Track listener/viewer counts on whichever engine owns the mount.
	contentType := "application/octet-stream"
	var radioID, tvID models.ULID
	var isRadio, isTV bool
	if h.radio != nil {
		if id, ok := h.radio.ResolveMount(mount); ok {
			radioID, isRadio = id, true
			contentType = h.radio.StreamMimeType()
		}
	}
	if !isRadio && h.tv != nil {
		if id, ok := h.tv.ResolveMount(mount); ok {
			tvID, isTV = id, true
			contentType = "video/mp2t"
		}
	}

	if isRadio {
		h.radio.ListenerDelta(radioID, 1)
		defer h.radio.ListenerDelta(radioID, -1)
	}
	if isTV {
		h.tv.ViewerDelta(tvID, 1)
		defer h.tv.ViewerDelta(tvID, -1)
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}
	ctx := r.Context()

	h.logger.Info("listener attached",
		slog.String("mount", mount),
		slog.String("remote_addr", r.RemoteAddr))
	defer h.logger.Info("listener detached",
		slog.String("mount", mount),
		slog.String("remote_addr", r.RemoteAddr))

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-listener.Chunks():
			if !ok {
				// Pruned or mount removed.
				return
			}
			if _, err := w.Write(chunk); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
	}
}

// ServeRadioPlaylist exports a channel's playlist as an extended M3U file.
func (h *StreamHandler) ServeRadioPlaylist(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParseULID(chi.URLParam(r, "id"))
	if err != nil {
		writeStreamError(w, errkind.Validation, "invalid channel ID")
		return
	}

	tracks, err := h.radio.GetPlaylist(id)
	if err != nil {
		writeStreamError(w, errkind.KindOf(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "audio/x-mpegurl")
	writer := m3u.NewWriter(w)
	for i := range tracks {
		track := &tracks[i]
		if err := writer.WriteTrack(&m3u.Track{
			Seconds: int(track.Duration.Seconds()),
			Artist:  track.Artist,
			Title:   track.Title,
			Path:    track.Path,
		}); err != nil {
			h.logger.Error("playlist export failed", slog.String("error", err.Error()))
			return
		}
	}
	// An empty playlist still gets the header.
	if len(tracks) == 0 {
		_ = writer.WriteHeader()
	}
}

// ServeXMLTV exports the EPG as an XMLTV document.
func (h *StreamHandler) ServeXMLTV(w http.ResponseWriter, r *http.Request) {
	hours := 24 * time.Hour

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	if err := h.tv.ExportXMLTV(w, hours); err != nil {
		h.logger.Error("xmltv export failed", slog.String("error", err.Error()))
	}
}
