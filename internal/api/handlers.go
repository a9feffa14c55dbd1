package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/pagewatch/internal/monitor"
	"github.com/JakeFAU/pagewatch/internal/worker"
)

func (s *Server) startScan(w http.ResponseWriter, r *http.Request) {
	urls, err := decodeURLs(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.deps.Relay == nil {
		s.writeError(w, http.StatusServiceUnavailable, "relay not configured")
		return
	}
	req := monitor.ScanRequest{URLs: urls}
	if s.deps.IDs != nil {
		id, err := s.deps.IDs.NewID()
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "failed to generate request id")
			return
		}
		req.RequestID = id
	}
	if s.deps.Clock != nil {
		req.Stamp(s.deps.Clock.Now())
	}
	if err := s.deps.Relay.Enqueue(r.Context(), req); err != nil {
		s.logger.Error("relay enqueue failed", zap.String("request_id", req.RequestID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to schedule scan.")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"message":    "Scan successfully queued.",
		"request_id": req.RequestID,
	})
}

func (s *Server) processScan(w http.ResponseWriter, r *http.Request) {
	urls, err := decodeURLs(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.deps.Runner == nil {
		s.writeError(w, http.StatusServiceUnavailable, "scanner not configured")
		return
	}
	ctx, cancel := worker.WithBudget(r.Context(), s.cfg.RunBudget)
	defer cancel()

	report, err := s.deps.Runner.Run(ctx, urls)
	if err != nil {
		s.logger.Error("scan run failed", zap.Int("urls", len(urls)), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "A server error occurred: "+err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Scan processed and report saved.",
		"entries": len(report.ReportData),
	})
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	report, found, err := monitor.LoadReport(r.Context(), s.deps.Store)
	if err != nil {
		s.logger.Error("load report failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to fetch report.")
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "No report found.")
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) getURLs(w http.ResponseWriter, r *http.Request) {
	urls, err := monitor.LoadURLs(r.Context(), s.deps.Store)
	if err != nil {
		s.logger.Error("load url list failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to fetch URL list.")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"urls": urls})
}

func (s *Server) updateURLs(w http.ResponseWriter, r *http.Request) {
	urls, err := decodeURLs(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := monitor.SaveURLs(r.Context(), s.deps.Store, urls); err != nil {
		s.logger.Error("save url list failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to update URL list.")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "URL list updated."})
}

func (s *Server) cron(w http.ResponseWriter, r *http.Request) {
	if s.deps.Trigger == nil {
		s.writeError(w, http.StatusServiceUnavailable, "trigger not configured")
		return
	}
	res, err := s.deps.Trigger.Fire(r.Context())
	if err != nil {
		s.logger.Error("cron trigger failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Cron: Failed to queue scan.")
		return
	}
	res.Message = "Cron: " + res.Message
	s.writeJSON(w, http.StatusOK, res)
}
