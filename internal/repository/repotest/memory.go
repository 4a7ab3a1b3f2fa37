// Package repotest provides an in-memory LedgerStore for service, job and
// handler tests. It mirrors the guards of the gorm implementation (CAS on
// status, open-payout scope, unique idempotency key and event id).
package repotest

import (
	"context"
	"sort"
	"sync"
	"time"

	"lexpay/internal/model"
	"lexpay/internal/repository"
)

type MemoryLedger struct {
	txMu sync.Mutex
	mu   sync.Mutex

	payments  map[string]*model.Payment
	keys      map[string]string
	logs      []*model.PayoutLog
	events    map[string]*model.WebhookEvent
	eventKeys map[string]string
	outbox    []*model.OutboxMessage
	nextID    int64

	// Faults makes the named method return the given error.
	Faults map[string]error
	Now    func() time.Time
}

var _ repository.LedgerStore = (*MemoryLedger)(nil)

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		payments:  make(map[string]*model.Payment),
		keys:      make(map[string]string),
		events:    make(map[string]*model.WebhookEvent),
		eventKeys: make(map[string]string),
		Faults:    make(map[string]error),
		Now:       time.Now,
	}
}

type snapshot struct {
	payments  map[string]*model.Payment
	keys      map[string]string
	logs      []*model.PayoutLog
	events    map[string]*model.WebhookEvent
	eventKeys map[string]string
	outbox    []*model.OutboxMessage
}

func (l *MemoryLedger) snapshot() snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := snapshot{
		payments:  make(map[string]*model.Payment, len(l.payments)),
		keys:      make(map[string]string, len(l.keys)),
		logs:      append([]*model.PayoutLog(nil), l.logs...),
		events:    make(map[string]*model.WebhookEvent, len(l.events)),
		eventKeys: make(map[string]string, len(l.eventKeys)),
		outbox:    append([]*model.OutboxMessage(nil), l.outbox...),
	}
	for k, v := range l.payments {
		cp := *v
		s.payments[k] = &cp
	}
	for k, v := range l.keys {
		s.keys[k] = v
	}
	for k, v := range l.events {
		cp := *v
		s.events[k] = &cp
	}
	for k, v := range l.eventKeys {
		s.eventKeys[k] = v
	}
	return s
}

func (l *MemoryLedger) restore(s snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.payments, l.keys, l.logs = s.payments, s.keys, s.logs
	l.events, l.eventKeys, l.outbox = s.events, s.eventKeys, s.outbox
}

// txLedger is the view handed to InTx callbacks; nested InTx joins the outer one.
type txLedger struct {
	*MemoryLedger
}

func (t txLedger) InTx(ctx context.Context, fn func(tx repository.LedgerStore) error) error {
	return fn(t)
}

func (l *MemoryLedger) InTx(ctx context.Context, fn func(tx repository.LedgerStore) error) error {
	if err := l.fault("InTx"); err != nil {
		return err
	}
	l.txMu.Lock()
	defer l.txMu.Unlock()

	snap := l.snapshot()
	if err := fn(txLedger{l}); err != nil {
		l.restore(snap)
		return err
	}
	return nil
}

func (l *MemoryLedger) fault(method string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Faults[method]
}

func (l *MemoryLedger) SetFault(method string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.Faults, method)
		return
	}
	l.Faults[method] = err
}

func (l *MemoryLedger) CreatePayment(ctx context.Context, p *model.Payment) error {
	if err := l.fault("CreatePayment"); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if p.IdempotencyKey != nil {
		if _, ok := l.keys[*p.IdempotencyKey]; ok {
			return repository.ErrDuplicateRequest
		}
	}
	if _, ok := l.payments[p.ID]; ok {
		return repository.ErrDuplicateRequest
	}
	now := l.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	cp := *p
	l.payments[p.ID] = &cp
	if p.IdempotencyKey != nil {
		l.keys[*p.IdempotencyKey] = p.ID
	}
	return nil
}

func (l *MemoryLedger) GetPayment(ctx context.Context, id string) (*model.Payment, error) {
	if err := l.fault("GetPayment"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.payments[id]
	if !ok {
		return nil, repository.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (l *MemoryLedger) GetPaymentByIdempotencyKey(ctx context.Context, key string) (*model.Payment, error) {
	l.mu.Lock()
	id, ok := l.keys[key]
	l.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return l.GetPayment(ctx, id)
}

// LockPayment relies on InTx serialization for exclusivity.
func (l *MemoryLedger) LockPayment(ctx context.Context, id string) (*model.Payment, error) {
	if err := l.fault("LockPayment"); err != nil {
		return nil, err
	}
	return l.GetPayment(ctx, id)
}

func (l *MemoryLedger) LockPaymentByExternalRef(ctx context.Context, ref model.ExternalRef) (*model.Payment, error) {
	if err := l.fault("LockPaymentByExternalRef"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if ref.Empty() {
		return nil, repository.ErrPaymentNotFound
	}
	for _, p := range l.payments {
		if (ref.SessionID != "" && p.ExternalSessionID != nil && *p.ExternalSessionID == ref.SessionID) ||
			(ref.PaymentID != "" && p.ExternalPaymentID != nil && *p.ExternalPaymentID == ref.PaymentID) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repository.ErrPaymentNotFound
}

func (l *MemoryLedger) AttachCheckoutSession(ctx context.Context, id, sessionID, checkoutURL string) error {
	if err := l.fault("AttachCheckoutSession"); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.payments[id]
	if !ok || p.Status != model.PaymentStatusPending || p.ExternalSessionID != nil {
		return repository.ErrStatusConflict
	}
	sid := sessionID
	p.ExternalSessionID = &sid
	p.CheckoutURL = checkoutURL
	p.UpdatedAt = l.Now()
	return nil
}

func (l *MemoryLedger) TransitionStatus(ctx context.Context, t repository.StatusTransition) error {
	if err := l.fault("TransitionStatus"); err != nil {
		return err
	}
	if !model.CanTransitionTo(t.From, t.To) {
		return repository.ErrStatusConflict
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.payments[t.PaymentID]
	if !ok || p.Status != t.From {
		return repository.ErrStatusConflict
	}
	p.Status = t.To
	p.PayoutStatus = t.PayoutStatus
	if t.ExternalPaymentID != "" {
		ext := t.ExternalPaymentID
		p.ExternalPaymentID = &ext
	}
	if t.To == model.PaymentStatusSucceeded {
		at := t.At
		p.SettledAt = &at
	}
	p.UpdatedAt = l.Now()
	return nil
}

func (l *MemoryLedger) ListStalePending(ctx context.Context, now time.Time, limit int) ([]*model.Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*model.Payment
	for _, p := range l.payments {
		if p.Status == model.PaymentStatusPending && p.ExpiresAt.Before(now) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *MemoryLedger) ListPayoutEligible(ctx context.Context, f repository.PayoutFilter) ([]*model.Payment, error) {
	if err := l.fault("ListPayoutEligible"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*model.Payment
	for _, p := range l.payments {
		if p.Status != model.PaymentStatusSucceeded || !payoutOpen(p) || !p.CreatedAt.Before(f.Cutoff) {
			continue
		}
		if f.MaxAttempts > 0 && p.PayoutAttempts >= f.MaxAttempts {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProviderID != out[j].ProviderID {
			return out[i].ProviderID < out[j].ProviderID
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func payoutOpen(p *model.Payment) bool {
	return p.PayoutStatus == model.PayoutStatusPending || p.PayoutStatus == model.PayoutStatusError
}

func (l *MemoryLedger) MarkPayoutCompleted(ctx context.Context, ids []string, reference string) (int64, error) {
	if err := l.fault("MarkPayoutCompleted"); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for _, id := range ids {
		p, ok := l.payments[id]
		if !ok || p.Status != model.PaymentStatusSucceeded || !payoutOpen(p) {
			continue
		}
		ref := reference
		p.PayoutStatus = model.PayoutStatusCompleted
		p.PayoutReference = &ref
		p.PayoutError = ""
		n++
	}
	return n, nil
}

func (l *MemoryLedger) MarkPayoutError(ctx context.Context, ids []string, reason string, minAttempts int) (int64, error) {
	if err := l.fault("MarkPayoutError"); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for _, id := range ids {
		p, ok := l.payments[id]
		if !ok || p.Status != model.PaymentStatusSucceeded || !payoutOpen(p) {
			continue
		}
		p.PayoutStatus = model.PayoutStatusError
		p.PayoutError = reason
		p.PayoutAttempts++
		if p.PayoutAttempts < minAttempts {
			p.PayoutAttempts = minAttempts
		}
		n++
	}
	return n, nil
}

func (l *MemoryLedger) AppendPayoutLog(ctx context.Context, pl *model.PayoutLog) error {
	if err := l.fault("AppendPayoutLog"); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	pl.ID = l.nextID
	pl.CreatedAt = l.Now()
	cp := *pl
	l.logs = append(l.logs, &cp)
	return nil
}

func (l *MemoryLedger) ListPayoutLogs(ctx context.Context, providerID string, limit int) ([]*model.PayoutLog, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*model.PayoutLog
	for i := len(l.logs) - 1; i >= 0; i-- {
		if providerID != "" && l.logs[i].ProviderID != providerID {
			continue
		}
		cp := *l.logs[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (l *MemoryLedger) CountCompletedPayouts(ctx context.Context, providerID string, cutoff time.Time) (int64, error) {
	if err := l.fault("CountCompletedPayouts"); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for _, pl := range l.logs {
		if pl.ProviderID == providerID && pl.Cutoff.Equal(cutoff) && pl.Status == model.PayoutLogStatusCompleted {
			n++
		}
	}
	return n, nil
}

func (l *MemoryLedger) RecordWebhookEvent(ctx context.Context, ev *model.WebhookEvent) error {
	if err := l.fault("RecordWebhookEvent"); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := ev.Rail + "|" + ev.EventID
	if _, ok := l.eventKeys[key]; ok {
		return repository.ErrDuplicateEvent
	}
	cp := *ev
	l.events[ev.ID] = &cp
	l.eventKeys[key] = ev.ID
	return nil
}

func (l *MemoryLedger) FinishWebhookEvent(ctx context.Context, id string, processErr string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	ev, ok := l.events[id]
	if !ok {
		return nil
	}
	now := l.Now()
	ev.ProcessedAt = &now
	ev.ProcessError = nil
	if processErr != "" {
		msg := processErr
		ev.ProcessError = &msg
	}
	return nil
}

func (l *MemoryLedger) EnqueueOutbox(ctx context.Context, msg *model.OutboxMessage) error {
	if err := l.fault("EnqueueOutbox"); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	msg.ID = l.nextID
	if msg.Status == "" {
		msg.Status = model.OutboxStatusPending
	}
	cp := *msg
	l.outbox = append(l.outbox, &cp)
	return nil
}

// Payment returns a copy of the stored row, or nil.
func (l *MemoryLedger) Payment(id string) *model.Payment {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.payments[id]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

func (l *MemoryLedger) Payments() []*model.Payment {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*model.Payment, 0, len(l.payments))
	for _, p := range l.payments {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *MemoryLedger) PayoutLogs() []*model.PayoutLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*model.PayoutLog, len(l.logs))
	for i, pl := range l.logs {
		cp := *pl
		out[i] = &cp
	}
	return out
}

func (l *MemoryLedger) Outbox() []*model.OutboxMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*model.OutboxMessage, len(l.outbox))
	for i, m := range l.outbox {
		cp := *m
		out[i] = &cp
	}
	return out
}

func (l *MemoryLedger) WebhookEvents() []*model.WebhookEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*model.WebhookEvent, 0, len(l.events))
	for _, ev := range l.events {
		cp := *ev
		out = append(out, &cp)
	}
	return out
}
