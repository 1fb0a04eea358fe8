package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fitcoachhq/fitcoach-ai-platform/pkg/logging"
)

// AdminDashboardHandler serves the coach's funnel overview. It reads the
// postgres tables directly rather than going through the repository so the
// aggregates stay cheap as the lead list grows.
type AdminDashboardHandler struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewAdminDashboardHandler creates a new admin dashboard handler.
func NewAdminDashboardHandler(db *sql.DB, logger *logging.Logger) *AdminDashboardHandler {
	if db == nil {
		panic("handlers: dashboard db cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminDashboardHandler{
		db:     db,
		logger: logger,
	}
}

// DashboardOverviewResponse contains the funnel metrics.
type DashboardOverviewResponse struct {
	Period        string              `json:"period"`
	Leads         LeadMetrics         `json:"leads"`
	Funnel        []StageCount        `json:"funnel"`
	Conversations ConversationMetrics `json:"conversations"`
	TopCourses    []CourseCount       `json:"top_courses,omitempty"`
}

// LeadMetrics contains lead-related dashboard metrics.
type LeadMetrics struct {
	Total          int     `json:"total"`
	NewThisWeek    int     `json:"new_this_week"`
	Qualified      int     `json:"qualified"`
	Simulated      int     `json:"simulated"`
	ConversionRate float64 `json:"conversion_rate"`
}

// StageCount is one step of the qualification funnel.
type StageCount struct {
	Stage string `json:"stage"`
	Count int    `json:"count"`
}

// ConversationMetrics contains message volume metrics.
type ConversationMetrics struct {
	TotalMessages int `json:"total_messages"`
	Today         int `json:"today"`
	ActiveToday   int `json:"active_today"`
}

// CourseCount is a suggested course with how often the bot recommended it.
type CourseCount struct {
	Course string `json:"course"`
	Count  int    `json:"count"`
}

// GetDashboardOverview returns the funnel overview.
// GET /admin/dashboard
func (h *AdminDashboardHandler) GetDashboardOverview(w http.ResponseWriter, r *http.Request) {
	dashboard := DashboardOverviewResponse{Period: "week"}

	now := time.Now()
	weekAgo := now.AddDate(0, 0, -7)
	today := now.Truncate(24 * time.Hour)

	h.db.QueryRowContext(r.Context(),
		`SELECT COUNT(*) FROM clients`,
	).Scan(&dashboard.Leads.Total)

	h.db.QueryRowContext(r.Context(),
		`SELECT COUNT(*) FROM clients WHERE created_at >= $1`, weekAgo,
	).Scan(&dashboard.Leads.NewThisWeek)

	h.db.QueryRowContext(r.Context(),
		`SELECT COUNT(*) FROM clients
		 WHERE context->>'stage' = 'FINALIZING'
		   AND COALESCE(context->>'priceQuote', '') <> ''`,
	).Scan(&dashboard.Leads.Qualified)

	h.db.QueryRowContext(r.Context(),
		`SELECT COUNT(*) FROM clients WHERE phone LIKE 'sim-%'`,
	).Scan(&dashboard.Leads.Simulated)

	if dashboard.Leads.Total > 0 {
		dashboard.Leads.ConversionRate = float64(dashboard.Leads.Qualified) / float64(dashboard.Leads.Total) * 100
	}

	dashboard.Funnel = h.funnel(r)

	h.db.QueryRowContext(r.Context(),
		`SELECT COUNT(*) FROM client_messages`,
	).Scan(&dashboard.Conversations.TotalMessages)

	h.db.QueryRowContext(r.Context(),
		`SELECT COUNT(*) FROM client_messages WHERE timestamp >= $1`, today,
	).Scan(&dashboard.Conversations.Today)

	h.db.QueryRowContext(r.Context(),
		`SELECT COUNT(*) FROM clients WHERE last_message_at >= $1`, today,
	).Scan(&dashboard.Conversations.ActiveToday)

	dashboard.TopCourses = h.topCourses(r)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(dashboard)
}

func (h *AdminDashboardHandler) funnel(r *http.Request) []StageCount {
	rows, err := h.db.QueryContext(r.Context(),
		`SELECT COALESCE(context->>'stage', 'GREETING') AS stage, COUNT(*)
		 FROM clients
		 GROUP BY stage
		 ORDER BY COUNT(*) DESC`,
	)
	if err != nil {
		h.logger.Error("failed to query funnel stages", "error", err)
		return nil
	}
	defer rows.Close()

	var funnel []StageCount
	for rows.Next() {
		var sc StageCount
		if err := rows.Scan(&sc.Stage, &sc.Count); err != nil {
			h.logger.Error("failed to scan funnel row", "error", err)
			continue
		}
		funnel = append(funnel, sc)
	}
	if err := rows.Err(); err != nil {
		h.logger.Error("error iterating funnel rows", "error", err)
	}
	return funnel
}

func (h *AdminDashboardHandler) topCourses(r *http.Request) []CourseCount {
	rows, err := h.db.QueryContext(r.Context(),
		`SELECT context->>'suggestedCourse' AS course, COUNT(*)
		 FROM clients
		 WHERE COALESCE(context->>'suggestedCourse', '') <> ''
		 GROUP BY course
		 ORDER BY COUNT(*) DESC
		 LIMIT 5`,
	)
	if err != nil {
		h.logger.Error("failed to query top courses", "error", err)
		return nil
	}
	defer rows.Close()

	var courses []CourseCount
	for rows.Next() {
		var cc CourseCount
		if err := rows.Scan(&cc.Course, &cc.Count); err != nil {
			h.logger.Error("failed to scan course row", "error", err)
			continue
		}
		courses = append(courses, cc)
	}
	if err := rows.Err(); err != nil {
		h.logger.Error("error iterating course rows", "error", err)
	}
	return courses
}
