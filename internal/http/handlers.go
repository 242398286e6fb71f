package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"tanda/internal/core"
	applog "tanda/internal/log"
)

type circleResponse struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Contribution  string   `json:"contribution"`
	Frequency     string   `json:"frequency"`
	TargetMembers int      `json:"target_members"`
	CurrentCycle  int      `json:"current_cycle"`
	Status        string   `json:"status"`
	PayoutOrder   []string `json:"payout_order,omitempty"`
	CreatedAt     string   `json:"created_at"`
}

func toCircleResponse(c *core.Circle) circleResponse {
	return circleResponse{
		ID:            c.ID,
		Name:          c.Name,
		Contribution:  c.Contribution.String(),
		Frequency:     string(c.Frequency),
		TargetMembers: c.TargetMembers,
		CurrentCycle:  c.CurrentCycle,
		Status:        string(c.Status),
		PayoutOrder:   c.PayoutOrder,
		CreatedAt:     c.CreatedAt.Format(time.RFC3339),
	}
}

type memberResponse struct {
	ID             string `json:"id"`
	CircleID       string `json:"circle_id"`
	UserID         string `json:"user_id"`
	Name           string `json:"name"`
	JoinedAt       string `json:"joined_at"`
	ScoreAtJoin    int    `json:"score_at_join"`
	PayoutPosition *int   `json:"payout_position,omitempty"`
	Contributed    string `json:"contributed"`
	Status         string `json:"status"`
}

func toMemberResponse(m *core.Member) memberResponse {
	return memberResponse{
		ID:             m.ID,
		CircleID:       m.CircleID,
		UserID:         m.UserID,
		Name:           m.Name,
		JoinedAt:       m.JoinedAt.Format(time.RFC3339),
		ScoreAtJoin:    m.ScoreAtJoin,
		PayoutPosition: m.PayoutPosition,
		Contributed:    m.Contributed.String(),
		Status:         string(m.Status),
	}
}

func (s *Server) handleCreateCircle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name          string `json:"name"`
		Contribution  string `json:"contribution"`
		Frequency     string `json:"frequency"`
		TargetMembers int    `json:"target_members"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	cents, err := core.ParseDecimalToCents(req.Contribution)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid contribution amount")
		return
	}

	circle, err := s.circles.CreateCircle(r.Context(), req.Name, core.Money{Cents: cents}, core.Frequency(req.Frequency), req.TargetMembers)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCircleResponse(circle))
}

func (s *Server) handleListCircles(w http.ResponseWriter, r *http.Request) {
	status := core.CircleStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = core.CircleActive
	}
	circles, err := s.circles.ListCircles(r.Context(), status)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	out := make([]circleResponse, 0, len(circles))
	for i := range circles {
		out = append(out, toCircleResponse(&circles[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetCircle(w http.ResponseWriter, r *http.Request) {
	circle, err := s.circles.GetCircle(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCircleResponse(circle))
}

func (s *Server) handleJoinCircle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		Name   string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	member, err := s.circles.JoinCircle(r.Context(), r.PathValue("id"), req.UserID, req.Name)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMemberResponse(member))
}

func (s *Server) handleLeaveCircle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemberID string `json:"member_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.circles.LeaveCircle(r.Context(), r.PathValue("id"), req.MemberID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActivateCircle(w http.ResponseWriter, r *http.Request) {
	circle, err := s.circles.Activate(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCircleResponse(circle))
}

func (s *Server) handleCancelCircle(w http.ResponseWriter, r *http.Request) {
	if err := s.circles.Cancel(r.Context(), r.PathValue("id")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePayoutOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.circles.PayoutOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"payout_order": order})
}

func (s *Server) handleMemberStatus(w http.ResponseWriter, r *http.Request) {
	member, err := s.circles.MemberStatus(r.Context(), r.PathValue("id"), r.PathValue("memberID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberResponse(member))
}

func (s *Server) handleReplaceMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		Name   string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	member, err := s.defaults.ReplaceMember(r.Context(), r.PathValue("id"), r.PathValue("memberID"), req.UserID, req.Name)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMemberResponse(member))
}

func (s *Server) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemberID string `json:"member_id"`
		Amount   string `json:"amount"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid payment amount")
		return
	}

	contribution, err := s.contributions.RecordPayment(r.Context(), r.PathValue("id"), req.MemberID, core.Money{Cents: cents})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        contribution.ID,
		"member_id": contribution.MemberID,
		"owed":      contribution.Owed.String(),
		"penalty":   contribution.Penalty.String(),
		"paid":      contribution.Paid.String(),
		"status":    string(contribution.Status),
	})
}

func (s *Server) handleRequestAdvance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string `json:"user_id"`
		CircleID string `json:"circle_id"`
		Amount   string `json:"amount"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid advance amount")
		return
	}

	advance, err := s.advances.RequestAdvance(r.Context(), req.UserID, req.CircleID, core.Money{Cents: cents})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":           advance.ID,
		"member_id":    advance.MemberID,
		"circle_id":    advance.CircleID,
		"principal":    advance.Principal.String(),
		"fee":          advance.Fee.String(),
		"total_due":    advance.TotalDue().String(),
		"disbursed_at": advance.DisbursedAt.Format(time.RFC3339),
		"status":       string(advance.Status),
	})
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	score, err := s.trust.Snapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": r.PathValue("id"), "score": score})
}

func (s *Server) handleScoreHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.trust.History(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	type entry struct {
		Reason string `json:"reason"`
		Delta  int    `json:"delta"`
		At     string `json:"at"`
	}
	out := make([]entry, 0, len(history))
	for _, adj := range history {
		out = append(out, entry{Reason: string(adj.Reason), Delta: adj.Delta, At: adj.At.Format(time.RFC3339)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": r.PathValue("id"), "history": out})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "Request failed",
			applog.FieldComponent, applog.ComponentHTTP,
			applog.FieldPath, r.URL.Path,
			applog.FieldError, err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", applog.FieldError, err)
	}
}
