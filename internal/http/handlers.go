package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tally/internal/core"
	"tally/internal/services"
	"tally/internal/stats"
)

type transactionResponse struct {
	ID               uuid.UUID       `json:"id"`
	UserID           uuid.UUID       `json:"userId"`
	AccountID        uuid.UUID       `json:"accountId"`
	CategoryID       *uuid.UUID      `json:"categoryId,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Kind             string          `json:"kind"`
	Description      string          `json:"description"`
	OccurredAt       time.Time       `json:"occurredAt"`
	IsRecurring      bool            `json:"isRecurring"`
	Interval         string          `json:"interval,omitempty"`
	IsActive         bool            `json:"isActive"`
	NextDueAt        *time.Time      `json:"nextDueAt,omitempty"`
	ParentTemplateID *uuid.UUID      `json:"parentTemplateId,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
}

func toTransactionResponse(tx core.Transaction) transactionResponse {
	return transactionResponse{
		ID:               tx.ID,
		UserID:           tx.UserID,
		AccountID:        tx.AccountID,
		CategoryID:       tx.CategoryID,
		Amount:           tx.Amount,
		Kind:             string(tx.Kind),
		Description:      tx.Description,
		OccurredAt:       tx.OccurredAt,
		IsRecurring:      tx.IsRecurring,
		Interval:         string(tx.Interval),
		IsActive:         tx.IsActive,
		NextDueAt:        tx.NextDueAt,
		ParentTemplateID: tx.ParentTemplateID,
		CreatedAt:        tx.CreatedAt,
	}
}

type createTemplateRequest struct {
	UserID      string          `json:"userId"`
	AccountID   string          `json:"accountId"`
	CategoryID  string          `json:"categoryId"`
	Amount      decimal.Decimal `json:"amount"`
	Kind        string          `json:"kind"`
	Description string          `json:"description"`
	Interval    string          `json:"interval"`
}

type createTemplateResponse struct {
	Template        transactionResponse `json:"template"`
	FirstOccurrence transactionResponse `json:"firstOccurrence"`
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req createTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, core.NewValidationError("body", fmt.Errorf("invalid JSON: %w", err)))
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		respondError(w, r, core.NewValidationError("userId", fmt.Errorf("invalid userId %q", req.UserID)))
		return
	}
	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		respondError(w, r, core.NewValidationError("accountId", fmt.Errorf("invalid accountId %q", req.AccountID)))
		return
	}
	var categoryID *uuid.UUID
	if req.CategoryID != "" {
		parsed, err := uuid.Parse(req.CategoryID)
		if err != nil {
			respondError(w, r, core.NewValidationError("categoryId", fmt.Errorf("invalid categoryId %q", req.CategoryID)))
			return
		}
		categoryID = &parsed
	}

	result, err := s.templates.CreateRecurringTemplate(r.Context(), services.CreateTemplateInput{
		UserID:      userID,
		AccountID:   accountID,
		CategoryID:  categoryID,
		Amount:      req.Amount,
		Kind:        core.TransactionKind(req.Kind),
		Description: req.Description,
		Interval:    core.Interval(req.Interval),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, createTemplateResponse{
		Template:        toTransactionResponse(result.Template),
		FirstOccurrence: toTransactionResponse(result.FirstOccurrence),
	})
}

func (s *Server) handleToggleTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		respondError(w, r, core.NewValidationError("id", fmt.Errorf("invalid template id %q", r.PathValue("id"))))
		return
	}

	template, err := s.templates.ToggleTemplateActive(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, toTransactionResponse(template))
}

type deltaResponse struct {
	ChangePercent decimal.Decimal `json:"changePercent"`
	Direction     string          `json:"direction"`
}

type aggregatesResponse struct {
	TotalIncome       decimal.Decimal `json:"totalIncome"`
	TotalExpenses     decimal.Decimal `json:"totalExpenses"`
	TotalBalance      decimal.Decimal `json:"totalBalance"`
	TotalTransactions int64           `json:"totalTransactions"`
}

type rangeResponse struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type comparisonResponse struct {
	CurrentRange  rangeResponse            `json:"currentRange"`
	PreviousRange rangeResponse            `json:"previousRange"`
	Current       aggregatesResponse       `json:"current"`
	Previous      aggregatesResponse       `json:"previous"`
	Comparisons   map[string]deltaResponse `json:"comparisons"`
}

func toComparisonResponse(c stats.Comparison) comparisonResponse {
	deltas := make(map[string]deltaResponse, len(c.Comparisons))
	for metric, d := range c.Comparisons {
		deltas[metric] = deltaResponse{ChangePercent: d.ChangePercent, Direction: string(d.Direction)}
	}
	return comparisonResponse{
		CurrentRange:  rangeResponse{Start: c.CurrentRange.Start, End: c.CurrentRange.End},
		PreviousRange: rangeResponse{Start: c.PreviousRange.Start, End: c.PreviousRange.End},
		Current:       toAggregatesResponse(c.Current),
		Previous:      toAggregatesResponse(c.Previous),
		Comparisons:   deltas,
	}
}

func toAggregatesResponse(a stats.Aggregates) aggregatesResponse {
	return aggregatesResponse{
		TotalIncome:       a.TotalIncome,
		TotalExpenses:     a.TotalExpenses,
		TotalBalance:      a.TotalBalance,
		TotalTransactions: a.TotalTransactions,
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUserID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	accountID, err := optionalAccountID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	start, err := optionalDate(r, "startDate")
	if err != nil {
		respondError(w, r, err)
		return
	}
	end, err := optionalDate(r, "endDate")
	if err != nil {
		respondError(w, r, err)
		return
	}

	preset := r.URL.Query().Get("preset")
	if preset == "" {
		preset = stats.RangeMonthly
	}

	window, err := stats.ResolveRange(preset, start, end, s.now().UTC())
	if err != nil {
		respondError(w, r, err)
		return
	}

	comparison, err := s.stats.ComputeComparison(r.Context(), userID, window, accountID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, toComparisonResponse(comparison))
}

type dailyPointResponse struct {
	Day     string          `json:"day"`
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
}

func (s *Server) handleDailyStats(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUserID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	accountID, err := optionalAccountID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	days := intQuery(r, "days", 7)
	points, err := s.stats.DailySpending(r.Context(), userID, accountID, s.now().UTC(), days)
	if err != nil {
		respondError(w, r, err)
		return
	}

	out := make([]dailyPointResponse, 0, len(points))
	for _, p := range points {
		out = append(out, dailyPointResponse{
			Day:     p.Day.Format("2006-01-02"),
			Income:  p.Income,
			Expense: p.Expense,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

type monthlyPointResponse struct {
	Month   string          `json:"month"`
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
}

func (s *Server) handleMonthlyStats(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUserID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	accountID, err := optionalAccountID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	year := intQuery(r, "year", s.now().UTC().Year())
	points, err := s.stats.MonthlySpending(r.Context(), userID, accountID, year)
	if err != nil {
		respondError(w, r, err)
		return
	}

	out := make([]monthlyPointResponse, 0, len(points))
	for _, p := range points {
		out = append(out, monthlyPointResponse{
			Month:   p.Month.Format("2006-01"),
			Income:  p.Income,
			Expense: p.Expense,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

type categoryShareResponse struct {
	CategoryID *uuid.UUID      `json:"categoryId"`
	Amount     decimal.Decimal `json:"amount"`
	Count      int64           `json:"count"`
	Percent    decimal.Decimal `json:"percent"`
}

func (s *Server) handleCategoryStats(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUserID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	accountID, err := optionalAccountID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	shares, err := s.stats.CategoryDistribution(r.Context(), userID, accountID, s.now().UTC())
	if err != nil {
		respondError(w, r, err)
		return
	}

	out := make([]categoryShareResponse, 0, len(shares))
	for _, share := range shares {
		out = append(out, categoryShareResponse{
			CategoryID: share.CategoryID,
			Amount:     share.Amount,
			Count:      share.Count,
			Percent:    share.Percent,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

type dashboardResponse struct {
	Month      comparisonResponse      `json:"month"`
	LastWeek   []dailyPointResponse    `json:"lastWeek"`
	Categories []categoryShareResponse `json:"categories"`
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUserID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	accountID, err := optionalAccountID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	summary, err := s.stats.Summary(r.Context(), userID, accountID, s.now().UTC())
	if err != nil {
		respondError(w, r, err)
		return
	}

	lastWeek := make([]dailyPointResponse, 0, len(summary.LastWeek))
	for _, p := range summary.LastWeek {
		lastWeek = append(lastWeek, dailyPointResponse{
			Day:     p.Day.Format("2006-01-02"),
			Income:  p.Income,
			Expense: p.Expense,
		})
	}
	categories := make([]categoryShareResponse, 0, len(summary.Categories))
	for _, share := range summary.Categories {
		categories = append(categories, categoryShareResponse{
			CategoryID: share.CategoryID,
			Amount:     share.Amount,
			Count:      share.Count,
			Percent:    share.Percent,
		})
	}

	respondJSON(w, http.StatusOK, dashboardResponse{
		Month:      toComparisonResponse(summary.Month),
		LastWeek:   lastWeek,
		Categories: categories,
	})
}
