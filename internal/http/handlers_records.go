package http

import (
	"fmt"
	"net/http"

	applog "tutorledger/internal/log"
)

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.income.ListRecords(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, applog.OpList, err)
		return
	}
	NewJSONResponse().Data(newRecordViews(records)).Write(w)
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	owner := userID(r)
	// Identity is checked before the body is parsed.
	if owner == "" {
		writeError(w, r, applog.OpCreate, errAuth())
		return
	}

	in, err := ParseRecordInput(NewRequestBodyParser(r))
	if err != nil {
		writeError(w, r, applog.OpCreate, err)
		return
	}

	rec, err := s.income.AddRecord(r.Context(), owner, in)
	if err != nil {
		writeError(w, r, applog.OpCreate, err)
		return
	}

	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/records").
		Data(newRecordView(rec)).
		Success(fmt.Sprintf("Saved %d students on %s", rec.StudentsCount, rec.Date)).
		Write(w)
}

func (s *Server) handleToday(w http.ResponseWriter, r *http.Request) {
	view, err := s.income.Today(r.Context(), userID(r), s.clock())
	if err != nil {
		writeError(w, r, applog.OpRead, err)
		return
	}
	NewJSONResponse().Data(newTodayView(view)).Write(w)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	owner := userID(r)
	if owner == "" {
		writeError(w, r, applog.OpRead, errAuth())
		return
	}
	key, err := ParseMonthParams(r.URL.Query(), s.clock())
	if err != nil {
		writeError(w, r, applog.OpRead, err)
		return
	}
	summary, err := s.income.MonthlySummary(r.Context(), owner, key)
	if err != nil {
		writeError(w, r, applog.OpRead, err)
		return
	}
	NewJSONResponse().Data(newSummaryView(summary)).Write(w)
}
