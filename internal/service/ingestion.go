package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/mercocamp/agenda-bfa-go/internal/domain"
	"github.com/mercocamp/agenda-bfa-go/internal/infra/observability"
	"github.com/mercocamp/agenda-bfa-go/internal/nfe"
	"github.com/mercocamp/agenda-bfa-go/internal/permission"
	"github.com/mercocamp/agenda-bfa-go/internal/port"
)

var tracer = otel.Tracer("service")

// maxXMLSize caps an uploaded invoice.
const maxXMLSize = 10 << 20

const maxSupplierLen = 50

// ErrSubmissionInProgress is returned when Submit is called while a
// submission is in flight. No request is made.
var ErrSubmissionInProgress = errors.New("envio do agendamento já em andamento")

// ErrWizardBusy is returned when an upload arrives while another one is
// still being processed.
var ErrWizardBusy = errors.New("processamento do XML em andamento")

var (
	nfeNumberPattern = regexp.MustCompile(`^\d{1,10}$`)
	datePattern      = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// ============================================================
// Wizard states & steps
// ============================================================

// WizardState is the ingestion pipeline state.
type WizardState string

const (
	WizardIdle               WizardState = "idle"
	WizardReading            WizardState = "reading"
	WizardParsing            WizardState = "parsing"
	WizardValidatingAccess   WizardState = "validating_access"
	WizardReconcilingCatalog WizardState = "reconciling_catalog"
	WizardLoadingClients     WizardState = "loading_clients"
	WizardReady              WizardState = "ready"
	WizardSubmitting         WizardState = "submitting"
	WizardCreated            WizardState = "created"
	WizardFailed             WizardState = "failed"
)

// editable reports whether the user may still change the loaded invoice.
// Failed behaves as Ready: the upload is kept.
func (s WizardState) editable() bool {
	return s == WizardReady || s == WizardFailed
}

func (s WizardState) loading() bool {
	switch s {
	case WizardReading, WizardParsing, WizardValidatingAccess, WizardReconcilingCatalog, WizardLoadingClients:
		return true
	}
	return false
}

// Step is the visible wizard page.
type Step int

const (
	StepUpload Step = 1
	StepReview Step = 2
	StepItems  Step = 3
)

// WizardSnapshot is a consistent copy of the wizard for rendering.
type WizardSnapshot struct {
	State          WizardState        `json:"state"`
	Step           Step               `json:"step"`
	Filename       string             `json:"filename,omitempty"`
	Extract        *domain.NfeExtract `json:"extract,omitempty"`
	Clients        []domain.Client    `json:"clients"`
	SelectedClient *domain.Client     `json:"selectedClient,omitempty"`
	DeliveryDate   string             `json:"deliveryDate,omitempty"`
	CanProceed     bool               `json:"canProceed"`
	CanSubmit      bool               `json:"canSubmit"`
	Error          string             `json:"error,omitempty"`
	Created        *domain.Schedule   `json:"created,omitempty"`
	Closed         bool               `json:"closed"`
}

// ============================================================
// Ingestion service
// ============================================================

// IngestionOptions configures the ingestion service.
type IngestionOptions struct {
	Users      port.UserSource
	Catalog    port.CatalogChecker
	Clients    port.ClientLister
	Schedules  port.ScheduleAPI
	Cache      port.Cache[[]domain.Client]
	CloseDelay time.Duration
	// OnCreated runs after every successful submission.
	OnCreated func(*domain.Schedule)
	Metrics   *observability.Metrics
	Logger    *zap.Logger
}

// Ingestion creates wizards and holds the one currently open.
type Ingestion struct {
	opts IngestionOptions
	now  func() time.Time

	mu      sync.Mutex
	current *Wizard
}

// NewIngestion creates the ingestion service.
func NewIngestion(opts IngestionOptions) *Ingestion {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Ingestion{opts: opts, now: time.Now}
}

// Open discards the current wizard and starts a new one.
func (s *Ingestion) Open() *Wizard {
	w := &Wizard{svc: s, state: WizardIdle, step: StepUpload}
	s.mu.Lock()
	old := s.current
	s.current = w
	s.mu.Unlock()
	if old != nil {
		old.Reset()
	}
	return w
}

// Current returns the open wizard, opening one if needed.
func (s *Ingestion) Current() *Wizard {
	s.mu.Lock()
	w := s.current
	s.mu.Unlock()
	if w == nil {
		return s.Open()
	}
	return w
}

// Discard closes the current wizard.
func (s *Ingestion) Discard() {
	s.mu.Lock()
	w := s.current
	s.current = nil
	s.mu.Unlock()
	if w != nil {
		w.Reset()
	}
}

func (s *Ingestion) count(outcome string) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.IncrIngestion(outcome)
	}
}

// ============================================================
// Wizard
// ============================================================

// Wizard is one schedule-creation flow: upload an NF-e, review it, edit
// its items and submit. Methods are safe for concurrent use; network calls
// run without holding the lock.
type Wizard struct {
	svc *Ingestion

	mu           sync.Mutex
	state        WizardState
	step         Step
	filename     string
	extract      *domain.NfeExtract
	clients      []domain.Client
	selected     *domain.Client
	deliveryDate string
	lastErr      string
	created      *domain.Schedule
	closed       bool
	closeTimer   *time.Timer
	// generation invalidates results of loads started before a Reset.
	generation int
}

// Load runs the pipeline from Reading to Ready. On any rejection the
// wizard returns to Idle with the file discarded.
func (w *Wizard) Load(ctx context.Context, filename string, r io.Reader) error {
	ctx, span := tracer.Start(ctx, "Wizard.Load")
	defer span.End()
	span.SetAttributes(attribute.String("file", filename))

	w.mu.Lock()
	if w.state.loading() || w.state == WizardSubmitting {
		w.mu.Unlock()
		return ErrWizardBusy
	}
	w.stopTimerLocked()
	w.generation++
	gen := w.generation
	w.clearLocked()
	w.created = nil
	w.closed = false
	w.state = WizardReading
	w.filename = filename
	w.mu.Unlock()

	extract, clients, selected, err := w.run(ctx, gen, filename, r)

	w.mu.Lock()
	defer w.mu.Unlock()
	if gen != w.generation {
		// Reset while loading: the result is discarded.
		return ErrWizardBusy
	}
	if err != nil {
		w.clearLocked()
		w.lastErr = err.Error()
		w.svc.count("rejected")
		return err
	}
	w.extract = extract
	w.clients = clients
	w.selected = selected
	w.state = WizardReady
	w.svc.count("loaded")
	return nil
}

func (w *Wizard) run(ctx context.Context, gen int, filename string, r io.Reader) (*domain.NfeExtract, []domain.Client, *domain.Client, error) {
	log := w.svc.opts.Logger

	if !strings.EqualFold(filepath.Ext(filename), ".xml") {
		return nil, nil, nil, &domain.ErrValidation{Field: "file", Message: "Por favor, selecione um arquivo XML válido"}
	}
	raw, err := io.ReadAll(io.LimitReader(r, maxXMLSize+1))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("lendo arquivo: %w", err)
	}
	if len(raw) > maxXMLSize {
		return nil, nil, nil, &domain.ErrValidation{Field: "file", Message: "Arquivo XML muito grande"}
	}

	w.advance(gen, WizardParsing)
	extract, err := nfe.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, nil, nil, &domain.ErrValidation{Field: "file", Message: "Erro ao processar arquivo XML: " + err.Error()}
	}

	w.advance(gen, WizardValidatingAccess)
	user, ok := w.svc.opts.Users.CurrentUser(ctx)
	if !ok {
		return nil, nil, nil, &domain.ErrUnauthenticated{Message: "Usuário não autenticado"}
	}
	if extract.ClientCNPJ != "" && !permission.CanAccessClient(user, extract.ClientCNPJ) {
		return nil, nil, nil, &domain.ErrForbidden{
			Action: fmt.Sprintf("Usuário não possui acesso ao cliente %s", nfe.FormatCNPJ(extract.ClientCNPJ)),
		}
	}

	w.advance(gen, WizardReconcilingCatalog)
	if err := w.svc.reconcile(ctx, extract); err != nil {
		return nil, nil, nil, err
	}

	w.advance(gen, WizardLoadingClients)
	clients, err := w.svc.visibleClients(ctx, user)
	if err != nil {
		return nil, nil, nil, err
	}

	var selected *domain.Client
	if want := nfe.OnlyDigits(extract.ClientCNPJ); want != "" {
		for i := range clients {
			if nfe.OnlyDigits(clients[i].CNPJ) == want {
				c := clients[i]
				selected = &c
				break
			}
		}
		if selected == nil {
			log.Info("destination client not in the visible list", zap.String("cnpj", extract.ClientCNPJ))
		}
	}
	return extract, clients, selected, nil
}

func (w *Wizard) advance(gen int, st WizardState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if gen == w.generation {
		w.state = st
	}
}

// reconcile marks which items already exist in the catalog. Failures other
// than a session end degrade to "nothing exists".
func (s *Ingestion) reconcile(ctx context.Context, extract *domain.NfeExtract) error {
	if len(extract.Products) == 0 {
		return nil
	}

	checks := make([]domain.ProductCheck, len(extract.Products))
	for i, p := range extract.Products {
		checks[i] = domain.ProductCheck{
			SuppCode: p.SupplierCode,
			SuppCNPJ: extract.SupplierCNPJ,
			CliCNPJ:  extract.ClientCNPJ,
		}
	}

	results, err := s.opts.Catalog.CheckExisting(ctx, checks)
	if errors.Is(err, domain.ErrSessionEnded) {
		return err
	}
	if err != nil {
		s.opts.Logger.Warn("catalog reconciliation failed", zap.Error(err))
		results = nil
	}

	found := make(map[string]domain.ProductCheckResult, len(results))
	for _, r := range results {
		if _, dup := found[r.SuppCode]; !dup {
			found[r.SuppCode] = r
		}
	}
	for i := range extract.Products {
		p := &extract.Products[i]
		if r, ok := found[p.SupplierCode]; ok && r.Exists {
			p.Exists = true
			p.CatalogData = r.Data
			continue
		}
		p.Exists = false
		p.ConversionFactor = 1
	}
	return nil
}

// visibleClients lists clients with a tax id, restricted to the user's
// grants unless the user is a developer. A failed load yields no clients.
func (s *Ingestion) visibleClients(ctx context.Context, user *domain.UserProfile) ([]domain.Client, error) {
	all, ok := s.cachedClients(user.User)
	if !ok {
		var err error
		all, err = s.opts.Clients.ListClients(ctx)
		if errors.Is(err, domain.ErrSessionEnded) {
			return nil, err
		}
		if err != nil {
			s.opts.Logger.Warn("client list load failed", zap.Error(err))
			return []domain.Client{}, nil
		}
		if s.opts.Cache != nil {
			s.opts.Cache.Set(user.User, all)
		}
	}

	out := make([]domain.Client, 0, len(all))
	for _, c := range all {
		if c.CNPJ == "" {
			continue
		}
		if user.LevelAccess != domain.LevelDeveloper && !user.CliAccess.Granted(c.CNPJ) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Ingestion) cachedClients(user string) ([]domain.Client, bool) {
	if s.opts.Cache == nil {
		return nil, false
	}
	if v, ok := s.opts.Cache.Get(user); ok {
		if s.opts.Metrics != nil {
			s.opts.Metrics.IncrCacheHit("clients")
		}
		return v, true
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.IncrCacheMiss("clients")
	}
	return nil, false
}

// Next advances one step when the current step is complete.
func (w *Wizard) Next() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.step {
	case StepUpload:
		if w.extract == nil {
			return &domain.ErrValidation{Field: "file", Message: "Selecione um arquivo XML para continuar"}
		}
		w.step = StepReview
	case StepReview:
		if w.extract == nil || len(w.extract.Products) == 0 {
			return &domain.ErrValidation{Field: "products", Message: "Nenhum produto encontrado na NFe"}
		}
		w.step = StepItems
	}
	return nil
}

// Previous goes back one step.
func (w *Wizard) Previous() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step > StepUpload {
		w.step--
	}
}

// Step returns the visible step.
func (w *Wizard) Step() Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.step
}

// EditItem updates the editable fields of the item at index.
func (w *Wizard) EditItem(index int, edit domain.ItemEdit) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.state.editable() || w.extract == nil {
		return &domain.ErrValidation{Message: "Nenhuma NFe carregada"}
	}
	if index < 0 || index >= len(w.extract.Products) {
		return &domain.ErrValidation{Field: "item", Message: fmt.Sprintf("Item %d não encontrado", index)}
	}
	if edit.ConversionFactor != nil && *edit.ConversionFactor <= 0 {
		return &domain.ErrValidation{Field: "factor", Message: "Fator de conversão deve ser maior que zero"}
	}

	w.state = WizardReady
	p := &w.extract.Products[index]
	if edit.ClientCode != nil {
		p.ClientCode = strings.TrimSpace(*edit.ClientCode)
	}
	if edit.ClientDescription != nil {
		p.ClientDescription = strings.TrimSpace(*edit.ClientDescription)
	}
	if edit.ConversionFactor != nil {
		p.ConversionFactor = *edit.ConversionFactor
	}
	return nil
}

// SelectClient picks the destination client among the visible ones.
func (w *Wizard) SelectClient(cnpj string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	want := nfe.OnlyDigits(cnpj)
	for i := range w.clients {
		if want != "" && nfe.OnlyDigits(w.clients[i].CNPJ) == want {
			c := w.clients[i]
			w.selected = &c
			if w.state == WizardFailed {
				w.state = WizardReady
			}
			return nil
		}
	}
	return &domain.ErrValidation{Field: "client", Message: "Cliente não disponível para este usuário"}
}

// SetDeliveryDate records the desired physical delivery date.
func (w *Wizard) SetDeliveryDate(date string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	invoiceDate := ""
	if w.extract != nil {
		invoiceDate = w.extract.Date
	}
	if err := w.svc.checkDeliveryDate(date, invoiceDate); err != nil {
		return err
	}
	w.deliveryDate = date
	if w.state == WizardFailed {
		w.state = WizardReady
	}
	return nil
}

// checkDeliveryDate validates the physical delivery date. It must not be in
// the past and must differ from the invoice issue date.
func (s *Ingestion) checkDeliveryDate(date, invoiceDate string) error {
	if date == "" {
		return &domain.ErrValidation{Field: "date", Message: "Por favor, selecione a data desejada para entrega física."}
	}
	if !datePattern.MatchString(date) {
		return &domain.ErrValidation{Field: "date", Message: "Data de entrega deve estar no formato YYYY-MM-DD."}
	}
	now := s.now()
	d, err := time.ParseInLocation("2006-01-02", date, now.Location())
	if err != nil {
		return &domain.ErrValidation{Field: "date", Message: "Data de entrega inválida."}
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if d.Before(today) {
		return &domain.ErrValidation{Field: "date", Message: "Data de entrega não pode ser anterior a hoje."}
	}
	if invoiceDate != "" && date == invoiceDate {
		return &domain.ErrValidation{Field: "date", Message: "Data de entrega deve ser diferente da data de emissão da NFe."}
	}
	return nil
}

// Submit re-validates everything and creates the schedule. Validation
// failures keep the wizard in Ready with no request made.
func (w *Wizard) Submit(ctx context.Context) (*domain.Schedule, error) {
	ctx, span := tracer.Start(ctx, "Wizard.Submit")
	defer span.End()

	w.mu.Lock()
	if w.state == WizardSubmitting {
		w.mu.Unlock()
		return nil, ErrSubmissionInProgress
	}
	if !w.state.editable() || w.extract == nil {
		w.mu.Unlock()
		return nil, &domain.ErrValidation{Message: "Nenhuma NFe carregada"}
	}

	req, err := w.buildRequestLocked(ctx)
	if err != nil {
		w.lastErr = err.Error()
		w.mu.Unlock()
		w.svc.count("invalid")
		return nil, err
	}
	w.state = WizardSubmitting
	w.lastErr = ""
	gen := w.generation
	w.mu.Unlock()

	span.SetAttributes(attribute.String("nfe.number", req.Number), attribute.String("client", req.Client))
	created, err := w.svc.opts.Schedules.CreateSchedule(ctx, req)

	w.mu.Lock()
	if gen != w.generation {
		w.mu.Unlock()
		return created, err
	}
	if err != nil {
		mapped := submissionError(err)
		if errors.Is(err, domain.ErrSessionEnded) {
			w.clearLocked()
		} else {
			w.state = WizardFailed
			w.lastErr = mapped.Error()
		}
		w.mu.Unlock()
		w.svc.count("failed")
		w.svc.opts.Logger.Warn("schedule creation failed", zap.String("nfe", req.Number), zap.Error(err))
		return nil, mapped
	}

	w.state = WizardCreated
	w.created = created
	if delay := w.svc.opts.CloseDelay; delay > 0 {
		w.closeTimer = time.AfterFunc(delay, func() { w.close(gen) })
	} else {
		w.closeLocked()
	}
	w.mu.Unlock()

	w.svc.count("created")
	w.svc.opts.Logger.Info("schedule created", zap.Int("id", created.ID), zap.String("nfe", req.Number))
	if cb := w.svc.opts.OnCreated; cb != nil {
		cb(created)
	}
	return created, nil
}

func (w *Wizard) buildRequestLocked(ctx context.Context) (*domain.CreateScheduleRequest, error) {
	user, ok := w.svc.opts.Users.CurrentUser(ctx)
	if !ok {
		return nil, &domain.ErrUnauthenticated{Message: "Usuário não autenticado. Faça login novamente."}
	}
	if err := permission.Require(user, permission.CreateSchedule); err != nil {
		return nil, err
	}

	x := w.extract
	if x.NfeKey == "" {
		return nil, &domain.ErrValidation{Field: "nfe_key", Message: "Chave da NFe é obrigatória."}
	}

	clientCNPJ := x.ClientCNPJ
	if w.selected != nil {
		clientCNPJ = w.selected.CNPJ
	}
	if clientCNPJ == "" {
		return nil, &domain.ErrValidation{Field: "client", Message: "CNPJ do cliente é obrigatório."}
	}
	if x.Date == "" {
		return nil, &domain.ErrValidation{Field: "date", Message: "Data da NFe é obrigatória."}
	}
	client := nfe.OnlyDigits(clientCNPJ)
	if len(client) != 14 {
		return nil, &domain.ErrValidation{Field: "client", Message: "CNPJ do cliente deve ter exatamente 14 dígitos."}
	}
	if !permission.CanAccessClient(user, client) {
		return nil, &domain.ErrForbidden{Action: fmt.Sprintf("Usuário não possui acesso ao cliente %s", nfe.FormatCNPJ(client))}
	}

	supplier := x.SupplierName
	if supplier == "" {
		supplier = x.SupplierCNPJ
	}
	if supplier == "" {
		return nil, &domain.ErrValidation{Field: "supplier", Message: "Dados do fornecedor são obrigatórios."}
	}
	if r := []rune(supplier); len(r) > maxSupplierLen {
		supplier = string(r[:maxSupplierLen])
	}

	number := strings.TrimSpace(x.Number)
	if !nfeNumberPattern.MatchString(number) {
		return nil, &domain.ErrValidation{Field: "number", Message: "Número da NFe deve conter apenas dígitos e ter no máximo 10 caracteres."}
	}

	if err := w.svc.checkDeliveryDate(w.deliveryDate, x.Date); err != nil {
		return nil, err
	}
	if len(x.Products) == 0 {
		return nil, &domain.ErrValidation{Field: "products", Message: "Nenhum produto encontrado na NFe."}
	}

	qtProd := x.QtProd
	if qtProd == 0 {
		qtProd = len(x.Products)
	}

	info := *x
	info.Products = append([]domain.LineItem(nil), x.Products...)

	return &domain.CreateScheduleRequest{
		Number:    number,
		NfeKey:    x.NfeKey,
		Client:    client,
		CaseCount: x.CaseCount,
		Date:      w.deliveryDate,
		Status:    domain.StatusSolicitado,
		Supplier:  supplier,
		QtProd:    qtProd,
		Info:      &info,
	}, nil
}

// submissionError turns an API failure into the message shown in the
// wizard. A session end passes through untouched.
func submissionError(err error) error {
	var (
		forbidden  *domain.ErrForbidden
		validation *domain.ErrValidation
	)
	switch {
	case errors.Is(err, domain.ErrSessionEnded):
		return err
	case errors.As(err, &forbidden):
		return &domain.ErrForbidden{Action: "Acesso negado. Usuário não possui permissão para criar agendamentos."}
	case errors.As(err, &validation):
		msg := validation.Message
		if msg == "" || msg == "Erro na requisição" {
			msg = "Dados inválidos enviados para a API."
		}
		return &domain.ErrValidation{Message: "Erro de validação: " + msg, Details: validation.Details}
	default:
		return fmt.Errorf("Erro ao criar agendamento: %w", err)
	}
}

// Reset discards everything and returns to Idle, cancelling a pending close.
func (w *Wizard) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopTimerLocked()
	w.generation++
	w.clearLocked()
	w.created = nil
	w.closed = false
}

func (w *Wizard) close(gen int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if gen != w.generation {
		return
	}
	w.closeLocked()
}

func (w *Wizard) closeLocked() {
	w.closeTimer = nil
	w.clearLocked()
	w.closed = true
}

func (w *Wizard) stopTimerLocked() {
	if w.closeTimer != nil {
		w.closeTimer.Stop()
		w.closeTimer = nil
	}
}

func (w *Wizard) clearLocked() {
	w.state = WizardIdle
	w.step = StepUpload
	w.filename = ""
	w.extract = nil
	w.clients = nil
	w.selected = nil
	w.deliveryDate = ""
	w.lastErr = ""
}

// Snapshot returns a copy of the wizard for rendering.
func (w *Wizard) Snapshot() WizardSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := WizardSnapshot{
		State:        w.state,
		Step:         w.step,
		Filename:     w.filename,
		Clients:      append([]domain.Client{}, w.clients...),
		DeliveryDate: w.deliveryDate,
		Error:        w.lastErr,
		Created:      w.created,
		Closed:       w.closed,
	}
	if w.extract != nil {
		x := *w.extract
		x.Products = append([]domain.LineItem(nil), w.extract.Products...)
		snap.Extract = &x
	}
	if w.selected != nil {
		c := *w.selected
		snap.SelectedClient = &c
	}
	switch w.step {
	case StepUpload:
		snap.CanProceed = w.extract != nil
	case StepReview:
		snap.CanProceed = w.extract != nil && len(w.extract.Products) > 0
	}
	snap.CanSubmit = w.state.editable() && w.extract != nil &&
		len(w.extract.Products) > 0 && w.deliveryDate != "" &&
		(w.selected != nil || w.extract.ClientCNPJ != "")
	return snap
}
