package http

import (
	"errors"
	"fmt"
	"net/http"
	"sort"

	applog "tutorledger/internal/log"
	"tutorledger/internal/services"
)

func (s *Server) handleArchiveCurrent(w http.ResponseWriter, r *http.Request) {
	out, err := s.archives.ArchiveCurrentMonth(r.Context(), userID(r), s.clock())

	var purgeErr *services.PurgeError
	switch {
	case errors.As(err, &purgeErr):
		// The snapshot exists; only the cleanup failed.
		NewJSONResponse().
			Status(http.StatusMultiStatus).
			Data(archiveResultView{Archive: newArchiveView(purgeErr.Archive, false)}).
			Warning(fmt.Sprintf("%s archived, but the records could not be removed. They now appear in both the archive and the current list.", purgeErr.Archive.Key())).
			Write(w)
		return
	case err != nil:
		writeError(w, r, applog.OpArchive, err)
		return
	}

	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/archives/"+out.Archive.ID).
		Data(archiveResultView{Archive: newArchiveView(out.Archive, false), Purged: out.Purged}).
		Success(fmt.Sprintf("%s archived", out.Archive.Key())).
		Write(w)
}

func (s *Server) handleArchiveBatch(w http.ResponseWriter, r *http.Request) {
	owner := userID(r)
	if owner == "" {
		writeError(w, r, applog.OpArchive, errAuth())
		return
	}
	sel, err := ParseMonthSelection(NewRequestBodyParser(r))
	if err != nil {
		writeError(w, r, applog.OpArchive, err)
		return
	}
	if len(sel.Keys) == 0 && len(sel.Invalid) == 0 {
		writeError(w, r, applog.OpArchive, services.ErrNoMonthsSelected)
		return
	}

	var result services.BatchResult
	if len(sel.Keys) > 0 {
		result, err = s.archives.ArchiveMonths(r.Context(), owner, sel.Keys)
		if err != nil {
			writeError(w, r, applog.OpArchive, err)
			return
		}
	}

	view := newBatchView(result)
	invalid := make([]string, 0, len(sel.Invalid))
	for raw := range sel.Invalid {
		invalid = append(invalid, raw)
	}
	sort.Strings(invalid)
	for _, raw := range invalid {
		view.Outcomes = append(view.Outcomes, keyOutcomeView{
			Month:  raw,
			Status: string(services.StatusFailed),
			Reason: sel.Invalid[raw].Error(),
		})
	}

	resp := NewJSONResponse().Data(view)
	notifyBatch(resp, view)
	resp.Write(w)
}

// notifyBatch picks the notification from the mix of outcomes.
func notifyBatch(resp *JSONResponseBuilder, v batchView) {
	var partial, failed, skipped int
	for _, o := range v.Outcomes {
		switch services.KeyStatus(o.Status) {
		case services.StatusPartial:
			partial++
		case services.StatusFailed:
			failed++
		case services.StatusSkipped:
			skipped++
		}
	}
	switch {
	case partial > 0:
		resp.Warning(fmt.Sprintf("%d month(s) archived, %d could not remove their records", v.Archived, partial))
	case v.Archived == 0 && failed > 0:
		resp.Failure("No month was archived")
	case v.Archived == 0:
		resp.Info("Nothing to archive")
	case failed > 0 || skipped > 0:
		resp.Warning(fmt.Sprintf("%d month(s) archived, %d skipped, %d failed", v.Archived, skipped, failed))
	default:
		resp.Success(fmt.Sprintf("%d month(s) archived", v.Archived))
	}
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	groups, err := s.archives.Candidates(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, applog.OpList, err)
		return
	}
	out := make([]monthGroupView, 0, len(groups))
	for _, g := range groups {
		out = append(out, newMonthGroupView(g))
	}
	NewJSONResponse().Data(out).Write(w)
}

func (s *Server) handleListArchives(w http.ResponseWriter, r *http.Request) {
	archives, err := s.archives.ListArchives(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, applog.OpList, err)
		return
	}
	out := make([]archiveView, 0, len(archives))
	for _, a := range archives {
		out = append(out, newArchiveView(a, false))
	}
	NewJSONResponse().Data(out).Write(w)
}

func (s *Server) handleGetArchive(w http.ResponseWriter, r *http.Request) {
	a, err := s.archives.GetArchive(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, applog.OpRead, err)
		return
	}
	NewJSONResponse().Data(newArchiveView(a, true)).Write(w)
}

func (s *Server) handleDeleteArchive(w http.ResponseWriter, r *http.Request) {
	if err := s.archives.DeleteArchive(r.Context(), userID(r), r.PathValue("id")); err != nil {
		writeError(w, r, applog.OpDelete, err)
		return
	}
	NewJSONResponse().Success("Archive deleted").Write(w)
}
