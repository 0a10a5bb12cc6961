package service_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mercocamp/agenda-bfa-go/internal/domain"
)

// ============================================================
// Fakes for the service ports
// ============================================================

type fakeUsers struct {
	user *domain.UserProfile
}

func (f *fakeUsers) CurrentUser(context.Context) (*domain.UserProfile, bool) {
	if f.user == nil {
		return nil, false
	}
	u := *f.user
	return &u, true
}

type fakeCatalog struct {
	existing map[string]bool
	err      error
	calls    atomic.Int32
	last     []domain.ProductCheck
}

func (f *fakeCatalog) CheckExisting(_ context.Context, checks []domain.ProductCheck) ([]domain.ProductCheckResult, error) {
	f.calls.Add(1)
	f.last = checks
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.ProductCheckResult, 0, len(checks))
	for _, c := range checks {
		out = append(out, domain.ProductCheckResult{
			SuppCode: c.SuppCode,
			Exists:   f.existing[c.SuppCode],
			Data:     []byte(`{"cli_code":"C-` + c.SuppCode + `"}`),
		})
	}
	return out, nil
}

type fakeClients struct {
	clients []domain.Client
	err     error
	calls   atomic.Int32
}

func (f *fakeClients) ListClients(context.Context) ([]domain.Client, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return append([]domain.Client(nil), f.clients...), nil
}

// fakeScheduleAPI serves list pages by status and records creations.
type fakeScheduleAPI struct {
	mu       sync.Mutex
	byStatus map[domain.Status][]domain.Schedule
	totals   map[domain.Status]int
	listErr  map[domain.Status]error
	anyErr   error

	createErr error
	created   []*domain.CreateScheduleRequest
	creates   atomic.Int32
	// gate, when set, blocks CreateSchedule until closed.
	gate chan struct{}

	updates []*domain.StatusChangeRequest
}

func (f *fakeScheduleAPI) ListSchedules(_ context.Context, filters domain.ScheduleFilters, page, limit int) (*domain.ScheduleListResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.listErr[filters.Status]; ok {
		return nil, err
	}
	if f.anyErr != nil {
		return nil, f.anyErr
	}
	items := f.byStatus[filters.Status]
	resp := &domain.ScheduleListResponse{Schedules: items}
	if total, ok := f.totals[filters.Status]; ok {
		resp.Pagination = &domain.Pagination{Page: page, Limit: limit, Total: total, Pages: (total + limit - 1) / limit}
	}
	return resp, nil
}

func (f *fakeScheduleAPI) CreateSchedule(_ context.Context, req *domain.CreateScheduleRequest) (*domain.Schedule, error) {
	f.creates.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &domain.Schedule{
		ID:       len(f.created),
		Number:   req.Number,
		NfeKey:   req.NfeKey,
		Client:   req.Client,
		Date:     req.Date,
		Status:   req.Status,
		Supplier: req.Supplier,
		QtProd:   req.QtProd,
	}, nil
}

func (f *fakeScheduleAPI) UpdateStatus(_ context.Context, id int, req *domain.StatusChangeRequest) (*domain.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, req)
	return &domain.Schedule{ID: id, Status: req.Status}, nil
}

type fakeEnder struct {
	calls atomic.Int32
}

func (f *fakeEnder) Logout(context.Context) { f.calls.Add(1) }

// ============================================================
// Invoice builder
// ============================================================

type invoiceOpts struct {
	number   string
	destCNPJ string
	supplier string
	items    int
	// issued overrides the dhEmi date (YYYY-MM-DD).
	issued string
}

func invoiceXML(o invoiceOpts) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><nfeProc xmlns="http://www.portalfiscal.inf.br/nfe"><NFe>`)
	b.WriteString(`<infNFe Id="NFe35240414200166000182550010000134151123456789">`)
	issued := o.issued
	if issued == "" {
		issued = "2024-04-10"
	}
	fmt.Fprintf(&b, `<ide><nNF>%s</nNF><dhEmi>%sT14:32:00-03:00</dhEmi></ide>`, o.number, issued)
	fmt.Fprintf(&b, `<emit><CNPJ>14200166000182</CNPJ><xNome>%s</xNome></emit>`, o.supplier)
	if o.destCNPJ != "" {
		fmt.Fprintf(&b, `<dest><CNPJ>%s</CNPJ><xNome>Mercado Central</xNome></dest>`, o.destCNPJ)
	}
	for i := 1; i <= o.items; i++ {
		fmt.Fprintf(&b, `<det nItem="%d"><prod><cProd>P%d</cProd><xProd>Produto %d</xProd><NCM>10063021</NCM><qCom>3</qCom><uCom>UN</uCom><vUnCom>10.5</vUnCom><vProd>31.5</vProd></prod></det>`, i, i, i)
	}
	b.WriteString(`<transp><vol><qVol>15</qVol></vol></transp></infNFe></NFe></nfeProc>`)
	return b.String()
}
