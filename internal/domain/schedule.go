package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

// ============================================================
// Schedule lifecycle
// ============================================================

// Status is the lifecycle state of a schedule. Cancelado is terminal.
type Status string

const (
	StatusSolicitado Status = "Solicitado"
	StatusAgendado   Status = "Agendado"
	StatusRecebido   Status = "Recebido"
	StatusTratativa  Status = "Tratativa"
	StatusEstoque    Status = "Estoque"
	StatusRecusar    Status = "Recusar"
	StatusRecusado   Status = "Recusado"
	StatusCancelado  Status = "Cancelado"
)

// Statuses lists every lifecycle value in display order.
var Statuses = []Status{
	StatusSolicitado,
	StatusAgendado,
	StatusRecebido,
	StatusTratativa,
	StatusEstoque,
	StatusRecusar,
	StatusRecusado,
	StatusCancelado,
}

// Valid reports whether s is a known lifecycle value.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCancelado
}

// Badge returns the display class used by the schedule table.
func (s Status) Badge() string {
	switch s {
	case StatusSolicitado:
		return "warning"
	case StatusAgendado:
		return "info"
	case StatusRecebido, StatusEstoque:
		return "success"
	case StatusTratativa, StatusRecusar:
		return "danger"
	case StatusRecusado:
		return "dark"
	default:
		return "secondary"
	}
}

// HistoricEntry is one audit line attached to a schedule.
type HistoricEntry struct {
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	Action    string    `json:"action"`
	Comment   string    `json:"comment"`
}

// timestampLayouts are the formats the API has been seen to send.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// UnmarshalJSON reads the timestamp leniently: strings in any known layout
// or epoch milliseconds. Anything else becomes the zero time instead of
// failing the whole schedule.
func (h *HistoricEntry) UnmarshalJSON(data []byte) error {
	var raw struct {
		Timestamp json.RawMessage `json:"timestamp"`
		User      string          `json:"user"`
		Action    string          `json:"action"`
		Comment   string          `json:"comment"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*h = HistoricEntry{
		Timestamp: parseTimestamp(raw.Timestamp),
		User:      raw.User,
		Action:    raw.Action,
		Comment:   raw.Comment,
	}
	return nil
}

func parseTimestamp(raw json.RawMessage) time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}
	}
	if raw[0] != '"' {
		var ms float64
		if err := json.Unmarshal(raw, &ms); err != nil {
			return time.Time{}
		}
		return time.UnixMilli(int64(ms)).UTC()
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Schedule is the server-owned delivery record.
type Schedule struct {
	ID        int                      `json:"id"`
	Number    string                   `json:"number"`
	NfeKey    string                   `json:"nfe_key"`
	Client    string                   `json:"client"`
	CaseCount int                      `json:"case_count"`
	Date      string                   `json:"date"`
	Status    Status                   `json:"status"`
	Supplier  string                   `json:"supplier"`
	QtProd    int                      `json:"qt_prod"`
	Info      *NfeExtract              `json:"info,omitempty"`
	Historic  map[string]HistoricEntry `json:"historic,omitempty"`
}

// LatestHistoric returns the most recent historic entry, if any.
func (s *Schedule) LatestHistoric() (HistoricEntry, bool) {
	var (
		latest HistoricEntry
		found  bool
	)
	for _, h := range s.Historic {
		if !found || h.Timestamp.After(latest.Timestamp) {
			latest = h
			found = true
		}
	}
	return latest, found
}

// ============================================================
// Schedule API - Request / Response types
// ============================================================

// CreateScheduleRequest is the body for POST /schedules.
type CreateScheduleRequest struct {
	Number    string      `json:"number"`
	NfeKey    string      `json:"nfe_key"`
	Client    string      `json:"client"`
	CaseCount int         `json:"case_count"`
	Date      string      `json:"date"`
	Status    Status      `json:"status"`
	Supplier  string      `json:"supplier"`
	QtProd    int         `json:"qt_prod"`
	Info      *NfeExtract `json:"info"`
}

// HistoricEntryRequest is the audit line sent with a status change.
type HistoricEntryRequest struct {
	User    string `json:"user"`
	Action  string `json:"action"`
	Comment string `json:"comment"`
}

// StatusChangeRequest is the body for PATCH /schedules/{id}/status.
type StatusChangeRequest struct {
	Status        Status               `json:"status"`
	HistoricEntry HistoricEntryRequest `json:"historic_entry"`
}

// ScheduleFilters are the list filters. Empty fields are not sent.
type ScheduleFilters struct {
	Status    Status `json:"status,omitempty"`
	Client    string `json:"client,omitempty"`
	DateFrom  string `json:"date_from,omitempty"`
	DateTo    string `json:"date_to,omitempty"`
	NfeNumber string `json:"nfe_number,omitempty"`
}

// Pagination is the paging block returned by GET /schedules.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// ScheduleListResponse is the body returned by GET /schedules.
type ScheduleListResponse struct {
	Schedules  []Schedule  `json:"schedules"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// SchedulePage is one page of the schedule list view.
type SchedulePage struct {
	Schedules  []Schedule      `json:"schedules"`
	Filters    ScheduleFilters `json:"filters"`
	Pagination Pagination      `json:"pagination"`
}

// Empty reports whether the page has no schedules.
func (p *SchedulePage) Empty() bool {
	return len(p.Schedules) == 0
}

// ============================================================
// Clients - GET /clients
// ============================================================

// Client is a destination stock the user may deliver to.
type Client struct {
	ID     int    `json:"id,omitempty"`
	Name   string `json:"name"`
	CNPJ   string `json:"cnpj"`
	Numero string `json:"numero,omitempty"`
}

// ClientListResponse is the body returned by GET /clients.
type ClientListResponse struct {
	Data []Client `json:"data"`
}
