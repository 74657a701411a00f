package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neyroastro/insight-service/internal/domain"
	"github.com/neyroastro/insight-service/internal/store"
	"github.com/neyroastro/insight-service/pkg/llmclient"
	"github.com/neyroastro/insight-service/pkg/telegramclient"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeLedger is an in-memory stand-in for the payment repository. Its
// mutation methods mirror the repository's status guards so tests
// exercise the same transition rules the SQL enforces.
type fakeLedger struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*domain.PlanetPayment

	confirmErr error
	startedErr error
	failSweep  bool
}

func newFakeLedger(payments ...*domain.PlanetPayment) *fakeLedger {
	l := &fakeLedger{payments: make(map[uuid.UUID]*domain.PlanetPayment)}
	for _, p := range payments {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		l.payments[p.ID] = p
	}
	return l
}

func (l *fakeLedger) CreatePayment(_ context.Context, p *domain.PlanetPayment) (*domain.PlanetPayment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *p
	cp.ID = uuid.New()
	cp.CreatedAt = time.Now().UTC()
	l.payments[cp.ID] = &cp
	return &cp, nil
}

func (l *fakeLedger) GetPayment(_ context.Context, id uuid.UUID) (*domain.PlanetPayment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.payments[id]
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (l *fakeLedger) ConfirmPayment(_ context.Context, externalID string) (*domain.PlanetPayment, bool, error) {
	if l.confirmErr != nil {
		return nil, false, l.confirmErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.payments {
		if p.ExternalPaymentID != externalID {
			continue
		}
		if p.Status == domain.PaymentStatusPending {
			now := time.Now().UTC()
			p.Status = domain.PaymentStatusCompleted
			p.CompletedAt = &now
			cp := *p
			return &cp, true, nil
		}
		cp := *p
		return &cp, false, nil
	}
	return nil, false, store.ErrPaymentNotFound
}

func (l *fakeLedger) MarkAnalysisStarted(_ context.Context, id uuid.UUID) (bool, error) {
	if l.startedErr != nil {
		return false, l.startedErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.payments[id]
	if !ok {
		return false, nil
	}
	switch p.Status {
	case domain.PaymentStatusCompleted, domain.PaymentStatusAnalysisFailed, domain.PaymentStatusProcessing:
		p.Status = domain.PaymentStatusProcessing
		p.RetryCount++
		now := time.Now().UTC()
		p.AnalysisStartedAt = &now
		return true, nil
	}
	return false, nil
}

func (l *fakeLedger) MarkDelivered(_ context.Context, id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.payments[id]
	if !ok {
		return store.ErrPaymentNotFound
	}
	switch p.Status {
	case domain.PaymentStatusProcessing, domain.PaymentStatusDelivered:
		now := time.Now().UTC()
		p.Status = domain.PaymentStatusDelivered
		p.DeliveredAt = &now
	}
	return nil
}

func (l *fakeLedger) MarkAnalysisFailed(_ context.Context, id uuid.UUID, errMsg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.payments[id]
	if !ok {
		return store.ErrPaymentNotFound
	}
	switch p.Status {
	case domain.PaymentStatusProcessing, domain.PaymentStatusDelivered, domain.PaymentStatusAnalysisFailed:
		p.Status = domain.PaymentStatusAnalysisFailed
		p.LastError = &errMsg
	}
	return nil
}

func (l *fakeLedger) FindActiveSinglePayment(_ context.Context, userID int64, profileID *uuid.UUID, planet domain.Planet) (*domain.PlanetPayment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.payments {
		if p.Type == domain.PaymentTypeSinglePlanet && p.UserID == userID &&
			sameProfile(p.ProfileID, profileID) &&
			p.Planet != nil && *p.Planet == planet && p.Status.IsAnalysisActive() {
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrPaymentNotFound
}

func (l *fakeLedger) FindActiveBundlePayment(_ context.Context, userID int64, profileID *uuid.UUID) (*domain.PlanetPayment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.payments {
		if p.Type == domain.PaymentTypeAllPlanets && p.UserID == userID &&
			sameProfile(p.ProfileID, profileID) && p.Status.IsAnalysisActive() {
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrPaymentNotFound
}

func (l *fakeLedger) ListRetryable(_ context.Context, limit int) ([]domain.PlanetPayment, error) {
	if l.failSweep {
		return nil, context.DeadlineExceeded
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.PlanetPayment
	for _, p := range l.payments {
		if p.Status == domain.PaymentStatusAnalysisFailed && p.RetryCount < domain.MaxAnalysisRetries {
			out = append(out, *p)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (l *fakeLedger) AdvanceBundleCursor(_ context.Context, id uuid.UUID, from int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.payments[id]
	if !ok || p.NextPlanetIndex != from {
		return false, nil
	}
	p.NextPlanetIndex = from + 1
	return true, nil
}

func sameProfile(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// fakePredictions is an in-memory prediction repository.
type fakePredictions struct {
	mu    sync.Mutex
	rows  map[uuid.UUID]*domain.Prediction
	meta  map[uuid.UUID]domain.LLMMetadata
	getE  error
	saveE error
}

func newFakePredictions(rows ...*domain.Prediction) *fakePredictions {
	f := &fakePredictions{
		rows: make(map[uuid.UUID]*domain.Prediction),
		meta: make(map[uuid.UUID]domain.LLMMetadata),
	}
	for _, r := range rows {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		f.rows[r.ID] = r
	}
	return f
}

func (f *fakePredictions) CreatePrediction(_ context.Context, p *domain.Prediction) (*domain.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	cp.ID = uuid.New()
	cp.CreatedAt = time.Now().UTC()
	f.rows[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakePredictions) GetPrediction(_ context.Context, id uuid.UUID) (*domain.Prediction, error) {
	if f.getE != nil {
		return nil, f.getE
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	if !ok {
		return nil, store.ErrPredictionNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePredictions) SaveAnalysis(_ context.Context, id uuid.UUID, planet domain.Planet, content string, meta domain.LLMMetadata) error {
	if f.saveE != nil {
		return f.saveE
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	if !ok {
		return store.ErrPredictionNotFound
	}
	p.SetAnalysis(planet, content)
	f.meta[id] = meta
	return nil
}

func (f *fakePredictions) SaveRecommendations(_ context.Context, id uuid.UUID, content string) error {
	if f.saveE != nil {
		return f.saveE
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[id]
	if !ok {
		return store.ErrPredictionNotFound
	}
	p.Recommendations = &content
	return nil
}

func (f *fakePredictions) CreateQuestionRecord(_ context.Context, userID int64, profileID *uuid.UUID, question, answer string, meta domain.LLMMetadata) (*domain.Prediction, error) {
	if f.saveE != nil {
		return nil, f.saveE
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &domain.Prediction{
		ID:        uuid.New(),
		UserID:    userID,
		ProfileID: profileID,
		Planet:    domain.PlanetMoon,
		Type:      domain.PredictionTypeFree,
		Content:   &answer,
		Question:  &question,
		Answer:    &answer,
		CreatedAt: time.Now().UTC(),
	}
	f.rows[p.ID] = p
	f.meta[p.ID] = meta
	cp := *p
	return &cp, nil
}

func (f *fakePredictions) LatestAnalyzedPrediction(_ context.Context, userID int64, profileID *uuid.UUID, planet domain.Planet) (*domain.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *domain.Prediction
	for _, p := range f.rows {
		if p.UserID != userID || !sameProfile(p.ProfileID, profileID) || p.AnalysisFor(planet) == nil {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, store.ErrPredictionNotFound
	}
	cp := *latest
	return &cp, nil
}

func (f *fakePredictions) LatestAnalyzedAny(_ context.Context, userID int64, profileID *uuid.UUID) (*domain.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *domain.Prediction
	for _, p := range f.rows {
		if p.UserID != userID || !sameProfile(p.ProfileID, profileID) || p.FirstAnalysis() == nil {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, store.ErrPredictionNotFound
	}
	cp := *latest
	return &cp, nil
}

func (f *fakePredictions) ListBundlePredictions(_ context.Context, paymentID uuid.UUID, userID int64, profileID *uuid.UUID, completedAt time.Time) ([]domain.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Prediction
	for _, p := range f.rows {
		marked := p.PaymentID != nil && *p.PaymentID == paymentID
		legacy := p.PaymentID == nil && p.UserID == userID &&
			sameProfile(p.ProfileID, profileID) && !p.CreatedAt.Before(completedAt)
		if (marked || legacy) && p.Type == domain.PredictionTypePaid {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakePredictions) LatestPredictionForPayment(_ context.Context, paymentID uuid.UUID) (*domain.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *domain.Prediction
	for _, p := range f.rows {
		if p.PaymentID == nil || *p.PaymentID != paymentID {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, store.ErrPredictionNotFound
	}
	cp := *latest
	return &cp, nil
}

// fakeDirectory is an in-memory user and profile registry.
type fakeDirectory struct {
	users    map[int64]*domain.User // keyed by telegram id
	profiles map[uuid.UUID]*domain.Profile
}

func newFakeDirectory(users ...*domain.User) *fakeDirectory {
	d := &fakeDirectory{
		users:    make(map[int64]*domain.User),
		profiles: make(map[uuid.UUID]*domain.Profile),
	}
	for _, u := range users {
		d.users[u.TelegramID] = u
	}
	return d
}

func (d *fakeDirectory) GetUserByTelegramID(_ context.Context, telegramID int64) (*domain.User, error) {
	u, ok := d.users[telegramID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return u, nil
}

func (d *fakeDirectory) GetUserByID(_ context.Context, id int64) (*domain.User, error) {
	for _, u := range d.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, store.ErrUserNotFound
}

func (d *fakeDirectory) GetProfile(_ context.Context, id uuid.UUID) (*domain.Profile, error) {
	p, ok := d.profiles[id]
	if !ok {
		return nil, store.ErrProfileNotFound
	}
	return p, nil
}

// enqueueCall records one dispatch.
type enqueueCall struct {
	planet       domain.Planet
	predictionID uuid.UUID
	telegramID   int64
	profileID    *uuid.UUID
}

// questionCall records one queued question.
type questionCall struct {
	telegramID int64
	profileID  *uuid.UUID
	question   string
}

type fakeEnqueuer struct {
	mu        sync.Mutex
	calls     []enqueueCall
	recCalls  []enqueueCall
	questions []questionCall
	fail      bool
}

func (e *fakeEnqueuer) Enqueue(_ context.Context, planet domain.Planet, predictionID uuid.UUID, telegramID int64, profileID *uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return false
	}
	e.calls = append(e.calls, enqueueCall{planet, predictionID, telegramID, profileID})
	return true
}

func (e *fakeEnqueuer) EnqueueRecommendations(_ context.Context, planet domain.Planet, predictionID uuid.UUID, telegramID int64, profileID *uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return false
	}
	e.recCalls = append(e.recCalls, enqueueCall{planet, predictionID, telegramID, profileID})
	return true
}

func (e *fakeEnqueuer) EnqueueQuestion(_ context.Context, telegramID int64, profileID *uuid.UUID, question string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return false
	}
	e.questions = append(e.questions, questionCall{telegramID, profileID, question})
	return true
}

type fakeGenerator struct {
	gen     *llmclient.Generation
	err     error
	panics  bool
	prompts []string
}

func (g *fakeGenerator) Generate(_ context.Context, req llmclient.GenerationRequest) (*llmclient.Generation, error) {
	if g.panics {
		panic("generator exploded")
	}
	g.prompts = append(g.prompts, req.Prompt)
	if g.err != nil {
		return nil, g.err
	}
	return g.gen, nil
}

type sentMessage struct {
	chatID   int64
	text     string
	keyboard *telegramclient.InlineKeyboard
}

type fakeNotifier struct {
	sent []sentMessage
	err  error
}

func (n *fakeNotifier) SendMessage(_ context.Context, chatID int64, text string, keyboard *telegramclient.InlineKeyboard) error {
	n.sent = append(n.sent, sentMessage{chatID, text, keyboard})
	return n.err
}

func strPtr(s string) *string                  { return &s }
func planetPtr(p domain.Planet) *domain.Planet { return &p }
