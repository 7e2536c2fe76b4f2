package tv

import (
	"io"
	"sort"
	"time"

	"github.com/mediabuilder/mediad/internal/errkind"
	"github.com/mediabuilder/mediad/internal/models"
	"github.com/mediabuilder/mediad/pkg/xmltv"
)

// GenerateEPG projects every channel's schedule over the lookahead window.
func (e *Engine) GenerateEPG(lookahead time.Duration) []models.EpgEntry {
	if lookahead <= 0 {
		lookahead = e.cfg.EPGLookahead
	}
	now := time.Now()
	horizon := now.Add(lookahead)

	e.mu.RLock()
	states := make([]*channelState, 0, len(e.channels))
	for _, st := range e.channels {
		states = append(states, st)
	}
	e.mu.RUnlock()

	var entries []models.EpgEntry
	for _, st := range states {
		entries = append(entries, channelEPG(st, now, horizon)...)
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].StartAt.Equal(entries[j].StartAt) {
			return entries[i].StartAt.Before(entries[j].StartAt)
		}
		return entries[i].ChannelName < entries[j].ChannelName
	})
	return entries
}

// GenerateChannelEPG projects one channel's schedule over the lookahead
// window.
func (e *Engine) GenerateChannelEPG(id models.ULID, lookahead time.Duration) ([]models.EpgEntry, error) {
	if lookahead <= 0 {
		lookahead = e.cfg.EPGLookahead
	}

	st, err := e.state(id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	return channelEPG(st, now, now.Add(lookahead)), nil
}

// channelEPG lists a channel's entries overlapping [now, horizon).
func channelEPG(st *channelState, now, horizon time.Time) []models.EpgEntry {
	st.mu.Lock()
	defer st.mu.Unlock()

	var entries []models.EpgEntry
	for _, item := range st.schedule {
		if item.EndAt().After(now) && item.StartAt.Before(horizon) {
			entries = append(entries, models.EpgEntry{
				ChannelID:   st.id,
				ChannelName: st.config.Name,
				Program:     item.Program,
				StartAt:     item.StartAt,
				EndAt:       item.EndAt(),
			})
		}
	}
	return entries
}

// CachedEPG returns the EPG snapshot maintained by the refresh cron.
func (e *Engine) CachedEPG() []models.EpgEntry {
	e.epgMu.RLock()
	defer e.epgMu.RUnlock()

	out := make([]models.EpgEntry, len(e.epgCache))
	copy(out, e.epgCache)
	return out
}

// refreshEPG regenerates the cached EPG.
func (e *Engine) refreshEPG() {
	entries := e.GenerateEPG(e.cfg.EPGLookahead)

	e.epgMu.Lock()
	e.epgCache = entries
	e.epgMu.Unlock()
}

// ExportXMLTV writes the EPG for all channels as an XMLTV document.
func (e *Engine) ExportXMLTV(w io.Writer, lookahead time.Duration) error {
	entries := e.GenerateEPG(lookahead)

	writer := xmltv.NewWriter(w)

	seen := make(map[string]bool)
	for _, entry := range entries {
		id := entry.ChannelID.String()
		if seen[id] {
			continue
		}
		seen[id] = true
		if err := writer.WriteChannel(&xmltv.Channel{
			ID:          id,
			DisplayName: entry.ChannelName,
		}); err != nil {
			return errkind.Wrap(errkind.Internal, err, "writing xmltv channel")
		}
	}

	for _, entry := range entries {
		if err := writer.WriteProgramme(&xmltv.Programme{
			Start:       entry.StartAt,
			Stop:        entry.EndAt,
			Channel:     entry.ChannelID.String(),
			Title:       entry.Program.Title,
			Description: entry.Program.Description,
			Category:    entry.Program.Category,
		}); err != nil {
			return errkind.Wrap(errkind.Internal, err, "writing xmltv programme")
		}
	}

	return writer.WriteFooter()
}

// ImportXMLTVSchedule loads programmes for a channel from an XMLTV
// document. Programme paths are carried in the description field when no
// media library resolver is configured, so entries without a usable path
// are skipped.
func (e *Engine) ImportXMLTVSchedule(id models.ULID, r io.Reader) (int, error) {
	st, err := e.state(id)
	if err != nil {
		return 0, err
	}
	channelID := st.id.String()

	var entries []models.TvScheduleEntry
	parser := &xmltv.Parser{
		OnProgramme: func(p *xmltv.Programme) error {
			if p.Channel != channelID || p.Description == "" {
				return nil
			}
			entries = append(entries, models.TvScheduleEntry{
				StartAt: p.Start,
				Program: models.TvProgram{
					ID:       models.NewULID().String(),
					Title:    p.Title,
					Path:     p.Description,
					Duration: p.Stop.Sub(p.Start),
					Category: p.Category,
				},
			})
			return nil
		},
	}
	if err := parser.Parse(r); err != nil {
		return 0, errkind.Wrap(errkind.Validation, err, "parsing xmltv schedule")
	}

	if len(entries) == 0 {
		return 0, nil
	}
	for _, entry := range entries {
		if err := e.AddProgram(id, entry); err != nil {
			return 0, err
		}
	}
	return len(entries), nil
}
