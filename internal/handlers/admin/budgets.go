package admin

import (
	"net/http"

	"go.uber.org/zap"
)

type BudgetHandler struct {
	baseHandler
}

func NewBudgetHandler(logger *zap.Logger) *BudgetHandler {
	return &BudgetHandler{
		baseHandler: baseHandler{logger: logger},
	}
}

// ListBudgets returns list of budgets
func (h *BudgetHandler) ListBudgets(w http.ResponseWriter, r *http.Request) {
	// TODO: Implement budget listing
	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"budgets": []interface{}{},
		"total":   0,
	})
}

// CreateBudget creates a new budget
func (h *BudgetHandler) CreateBudget(w http.ResponseWriter, r *http.Request) {
	// TODO: Implement budget creation
	h.sendError(w, http.StatusNotImplemented, "Budget creation not yet implemented")
}

// GetBudget returns a specific budget
func (h *BudgetHandler) GetBudget(w http.ResponseWriter, r *http.Request) {
	// TODO: Implement get budget
	h.sendError(w, http.StatusNotImplemented, "Get budget not yet implemented")
}

// UpdateBudget updates a budget
func (h *BudgetHandler) UpdateBudget(w http.ResponseWriter, r *http.Request) {
	// TODO: Implement budget update
	h.sendError(w, http.StatusNotImplemented, "Budget update not yet implemented")
}

// DeleteBudget deletes a budget
func (h *BudgetHandler) DeleteBudget(w http.ResponseWriter, r *http.Request) {
	// TODO: Implement budget deletion
	h.sendError(w, http.StatusNotImplemented, "Budget deletion not yet implemented")
}

// ResetBudget resets a budget
func (h *BudgetHandler) ResetBudget(w http.ResponseWriter, r *http.Request) {
	// TODO: Implement budget reset
	h.sendError(w, http.StatusNotImplemented, "Budget reset not yet implemented")
}

// GetAlerts returns budget alerts
func (h *BudgetHandler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	// TODO: Implement alerts
	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": []interface{}{},
		"total":  0,
	})
}