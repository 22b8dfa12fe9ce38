package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/bandforge/ielts-backend/internal/domain"
	"github.com/bandforge/ielts-backend/internal/pkg/apperr"
	"github.com/bandforge/ielts-backend/internal/pkg/ctxutil"
	"github.com/bandforge/ielts-backend/internal/pkg/dbctx"
	"github.com/bandforge/ielts-backend/internal/platform/logger"
	"github.com/bandforge/ielts-backend/internal/platform/openai"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	return log
}

// testDBC carries a placeholder transaction so services take the
// run-directly path instead of opening a real gorm transaction.
func testDBC(userID uuid.UUID) dbctx.Context {
	ctx := context.Background()
	if userID != uuid.Nil {
		ctx = ctxutil.WithRequestData(ctx, &ctxutil.RequestData{
			UserID:    userID,
			SessionID: uuid.New(),
		})
	}
	return dbctx.Context{Ctx: ctx, Tx: &gorm.DB{}}
}

type fakeAI struct {
	mu        sync.Mutex
	texts     []string
	textErr   error
	jsonOut   map[string]any
	jsonSeq   []map[string]any
	jsonErr   error
	moderate  func(input string) (openai.ModerationResult, error)
	textCalls int
	jsonCalls int
}

func (f *fakeAI) GenerateText(ctx context.Context, system, user string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.textCalls++
	if f.textErr != nil {
		return "", f.textErr
	}
	if len(f.texts) == 0 {
		return "Tell me about your hometown.", nil
	}
	out := f.texts[0]
	if len(f.texts) > 1 {
		f.texts = f.texts[1:]
	}
	return out, nil
}

func (f *fakeAI) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jsonCalls++
	if f.jsonErr != nil {
		return nil, f.jsonErr
	}
	if len(f.jsonSeq) > 0 {
		out := f.jsonSeq[0]
		f.jsonSeq = f.jsonSeq[1:]
		return out, nil
	}
	return f.jsonOut, nil
}

func (f *fakeAI) Moderate(ctx context.Context, input string) (openai.ModerationResult, error) {
	f.mu.Lock()
	moderate := f.moderate
	f.mu.Unlock()
	if moderate != nil {
		return moderate(input)
	}
	return openai.ModerationResult{}, nil
}

type fakeModeration struct {
	verdicts map[string]apperr.ViolationSeverity
	err      error
}

func (f *fakeModeration) Check(ctx context.Context, text string) (apperr.ViolationSeverity, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	if f.verdicts != nil {
		if v, ok := f.verdicts[text]; ok {
			return v, "harassment", nil
		}
	}
	return apperr.SeverityClean, "", nil
}

type fakeScoring struct {
	mu      sync.Mutex
	record  *types.ScoreRecord
	err     error
	scored  []uuid.UUID
	lastTxt string
}

func (f *fakeScoring) ScoreTranscript(dbc dbctx.Context, attempt *types.AssessmentAttempt, transcript string) (*types.ScoreRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.scored = append(f.scored, attempt.ID)
	f.lastTxt = transcript
	if f.record != nil {
		return f.record, nil
	}
	return &types.ScoreRecord{ID: uuid.New(), AttemptID: attempt.ID, OverallBand: 7.0}, nil
}

func (f *fakeScoring) GetResult(dbc dbctx.Context, attemptID uuid.UUID) (*types.ScoreRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.record != nil && f.record.AttemptID == attemptID {
		return f.record, nil
	}
	return nil, apperr.ErrNotFound
}

type fakeEntitlementRepo struct {
	mu   sync.Mutex
	ents map[uuid.UUID]*types.Entitlement
	seen map[uuid.UUID]map[uuid.UUID]bool
}

func newFakeEntitlementRepo() *fakeEntitlementRepo {
	return &fakeEntitlementRepo{
		ents: map[uuid.UUID]*types.Entitlement{},
		seen: map[uuid.UUID]map[uuid.UUID]bool{},
	}
}

func (f *fakeEntitlementRepo) Create(dbc dbctx.Context, ent *types.Entitlement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *ent
	f.ents[ent.ID] = &cp
	return nil
}

func (f *fakeEntitlementRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Entitlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ent, ok := f.ents[id]; ok {
		cp := *ent
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeEntitlementRepo) GetByUserProduct(dbc dbctx.Context, userID uuid.UUID, productID string) (*types.Entitlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ent := range f.ents {
		if ent.UserID == userID && ent.ProductID == productID {
			cp := *ent
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeEntitlementRepo) GetActiveByUser(dbc dbctx.Context, userID uuid.UUID) ([]*types.Entitlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Entitlement
	for _, ent := range f.ents {
		if ent.UserID == userID && !ent.Exhausted() {
			cp := *ent
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeEntitlementRepo) TryConsumeAttempt(dbc dbctx.Context, entitlementID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ent, ok := f.ents[entitlementID]
	if !ok || ent.AttemptsUsed >= ent.AttemptsTotal {
		return false, nil
	}
	ent.AttemptsUsed++
	return true, nil
}

func (f *fakeEntitlementRepo) RecordSeen(dbc dbctx.Context, entitlementID, questionID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen[entitlementID] == nil {
		f.seen[entitlementID] = map[uuid.UUID]bool{}
	}
	f.seen[entitlementID][questionID] = true
	return nil
}

func (f *fakeEntitlementRepo) CountSeen(dbc dbctx.Context, entitlementID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.seen[entitlementID])), nil
}

func (f *fakeEntitlementRepo) ResetCycle(dbc dbctx.Context, entitlementID uuid.UUID, attemptsTotal int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ent, ok := f.ents[entitlementID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	ent.AttemptsTotal = attemptsTotal
	ent.AttemptsUsed = 0
	ent.Cycle++
	delete(f.seen, entitlementID)
	return nil
}

type fakeQuestionRepo struct {
	mu        sync.Mutex
	questions []*types.Question
	entRepo   *fakeEntitlementRepo
}

func (f *fakeQuestionRepo) Create(dbc dbctx.Context, questions []*types.Question) ([]*types.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.questions = append(f.questions, questions...)
	return questions, nil
}

func (f *fakeQuestionRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range f.questions {
		if q.ID == id {
			return q, nil
		}
	}
	return nil, nil
}

func (f *fakeQuestionRepo) CountByType(dbc dbctx.Context, t types.AssessmentType) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, q := range f.questions {
		if q.AssessmentType == t {
			n++
		}
	}
	return n, nil
}

func (f *fakeQuestionRepo) CountUnseen(dbc dbctx.Context, t types.AssessmentType, entitlementID uuid.UUID) (int64, error) {
	unseen, err := f.unseen(t, entitlementID)
	return int64(len(unseen)), err
}

func (f *fakeQuestionRepo) PickRandomUnseen(dbc dbctx.Context, t types.AssessmentType, entitlementID uuid.UUID) (*types.Question, error) {
	unseen, err := f.unseen(t, entitlementID)
	if err != nil {
		return nil, err
	}
	if len(unseen) == 0 {
		return nil, nil
	}
	return unseen[0], nil
}

func (f *fakeQuestionRepo) unseen(t types.AssessmentType, entitlementID uuid.UUID) ([]*types.Question, error) {
	f.entRepo.mu.Lock()
	seen := map[uuid.UUID]bool{}
	for id := range f.entRepo.seen[entitlementID] {
		seen[id] = true
	}
	f.entRepo.mu.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Question
	for _, q := range f.questions {
		if q.AssessmentType == t && !seen[q.ID] {
			out = append(out, q)
		}
	}
	return out, nil
}

type fakeAttemptRepo struct {
	mu       sync.Mutex
	attempts map[uuid.UUID]*types.AssessmentAttempt
}

func newFakeAttemptRepo() *fakeAttemptRepo {
	return &fakeAttemptRepo{attempts: map[uuid.UUID]*types.AssessmentAttempt{}}
}

func (f *fakeAttemptRepo) Create(dbc dbctx.Context, attempt *types.AssessmentAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *attempt
	f.attempts[attempt.ID] = &cp
	return nil
}

func (f *fakeAttemptRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.AssessmentAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.attempts[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeAttemptRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID) ([]*types.AssessmentAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.AssessmentAttempt
	for _, a := range f.attempts {
		if a.UserID == userID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeAttemptRepo) SetStatus(dbc dbctx.Context, id uuid.UUID, status types.AttemptStatus, completedAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	a.Status = status
	if completedAt != nil {
		t := *completedAt
		a.CompletedAt = &t
	}
	return nil
}

type fakeConversationRepo struct {
	mu     sync.Mutex
	states map[uuid.UUID]*types.ConversationState
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{states: map[uuid.UUID]*types.ConversationState{}}
}

func (f *fakeConversationRepo) Create(dbc dbctx.Context, state *types.ConversationState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *state
	f.states[state.AttemptID] = &cp
	return nil
}

func (f *fakeConversationRepo) GetByAttemptID(dbc dbctx.Context, attemptID uuid.UUID) (*types.ConversationState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.states[attemptID]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeConversationRepo) Checkpoint(dbc dbctx.Context, state *types.ConversationState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	state.CheckpointSeq++
	cp := *state
	f.states[state.AttemptID] = &cp
	return nil
}

type fakeScoreRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*types.ScoreRecord
}

func newFakeScoreRepo() *fakeScoreRepo {
	return &fakeScoreRepo{records: map[uuid.UUID]*types.ScoreRecord{}}
}

func (f *fakeScoreRepo) Create(dbc dbctx.Context, record *types.ScoreRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *record
	f.records[record.AttemptID] = &cp
	return nil
}

func (f *fakeScoreRepo) GetByAttemptID(dbc dbctx.Context, attemptID uuid.UUID) (*types.ScoreRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.records[attemptID]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

type recordedEvent struct {
	UserID  uuid.UUID
	Kind    string
	Payload map[string]any
}

type fakeEventRepo struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeEventRepo) Append(dbc dbctx.Context, userID uuid.UUID, kind string, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{UserID: userID, Kind: kind, Payload: payload})
	return nil
}

func (f *fakeEventRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.UserEvent, error) {
	return nil, nil
}

func (f *fakeEventRepo) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.Kind)
	}
	return out
}
