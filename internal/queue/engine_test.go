package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/remiriasukaretto/LINEBOT/internal/models"
	"github.com/remiriasukaretto/LINEBOT/internal/store"
)

// memStore is an in-memory store with the same atomicity guarantees the
// database gives: every operation runs under one lock, so the
// duplicate-owner check, the compare-and-set transition, and call-next
// are indivisible.
type memStore struct {
	mu         sync.Mutex
	nextID     int64
	tickets    map[int64]models.Ticket
	nextTypeID int64
	types      []models.TicketType
	settings   models.Settings
}

func newMemStore() *memStore {
	return &memStore{
		tickets:  make(map[int64]models.Ticket),
		settings: models.Settings{AcceptingNew: true},
	}
}

func (m *memStore) CreateTicket(_ context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tickets {
		if t.OwnerID == input.OwnerID && t.Status.Active() {
			return models.Ticket{}, store.ErrDuplicateActiveTicket
		}
	}
	m.nextID++
	ticket := models.Ticket{
		ID:        m.nextID,
		OwnerID:   input.OwnerID,
		Note:      input.Note,
		TypeID:    input.TypeID,
		Status:    models.StatusWaiting,
		CreatedAt: input.CreatedAt,
	}
	m.tickets[ticket.ID] = ticket
	return ticket, nil
}

func (m *memStore) GetTicket(_ context.Context, ticketID int64) (models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ticket, ok := m.tickets[ticketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return ticket, nil
}

func (m *memStore) GetActiveTicket(_ context.Context, ownerID string) (models.Ticket, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best models.Ticket
	var found bool
	for _, t := range m.tickets {
		if t.OwnerID == ownerID && t.Status.Active() && (!found || t.ID > best.ID) {
			best = t
			found = true
		}
	}
	return best, found, nil
}

func (m *memStore) CountWaitingAhead(_ context.Context, ticketID int64, scope store.WaitScope) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subject, ok := m.tickets[ticketID]
	if !ok {
		return 0, store.ErrTicketNotFound
	}
	count := 0
	for _, t := range m.tickets {
		if t.Status != models.StatusWaiting || t.ID >= ticketID {
			continue
		}
		if scope == store.WaitScopeSameType && !sameType(t.TypeID, subject.TypeID) {
			continue
		}
		count++
	}
	return count, nil
}

func sameType(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (m *memStore) Transition(_ context.Context, ticketID int64, from []models.Status, to models.Status) (models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ticket, ok := m.tickets[ticketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	matched := false
	for _, status := range from {
		if ticket.Status == status {
			matched = true
			break
		}
	}
	if !matched {
		return models.Ticket{}, store.ErrInvalidTransition
	}
	ticket.Status = to
	m.tickets[ticketID] = ticket
	return ticket, nil
}

func (m *memStore) CallNextWaiting(_ context.Context, _ time.Time) (models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var next models.Ticket
	var found bool
	for _, t := range m.tickets {
		if t.Status == models.StatusWaiting && (!found || t.ID < next.ID) {
			next = t
			found = true
		}
	}
	if !found {
		return models.Ticket{}, store.ErrNoTicketWaiting
	}
	next.Status = models.StatusCalled
	m.tickets[next.ID] = next
	return next, nil
}

func (m *memStore) ListActive(_ context.Context, _ store.ListFilter) ([]models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Ticket
	for _, t := range m.tickets {
		if t.Status.Active() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ListHistory(_ context.Context, _ store.ListFilter) ([]models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Ticket
	for _, t := range m.tickets {
		if t.Status.Terminal() || t.Status == models.StatusArrived {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memStore) CountWaitingByType(_ context.Context) ([]models.TypeCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[int64]int)
	untyped := 0
	for _, t := range m.tickets {
		if t.Status != models.StatusWaiting {
			continue
		}
		if t.TypeID == nil {
			untyped++
		} else {
			counts[*t.TypeID]++
		}
	}
	var out []models.TypeCount
	if untyped > 0 {
		out = append(out, models.TypeCount{Count: untyped})
	}
	for _, tt := range m.types {
		id := tt.ID
		out = append(out, models.TypeCount{TypeID: &id, Name: tt.Name, Count: counts[tt.ID]})
	}
	return out, nil
}

func (m *memStore) CreateType(_ context.Context, name string) (models.TicketType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := store.ValidateTypeName(name); err != nil {
		return models.TicketType{}, err
	}
	for _, tt := range m.types {
		if tt.Name == name {
			return models.TicketType{}, store.ErrDuplicateTypeName
		}
	}
	m.nextTypeID++
	tt := models.TicketType{ID: m.nextTypeID, Name: name, Accepting: true, CreatedAt: time.Now()}
	m.types = append(m.types, tt)
	return tt, nil
}

func (m *memStore) DeleteType(_ context.Context, typeID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, tt := range m.types {
		if tt.ID == typeID {
			m.types = append(m.types[:i], m.types[i+1:]...)
			for id, t := range m.tickets {
				if t.TypeID != nil && *t.TypeID == typeID {
					t.TypeID = nil
					m.tickets[id] = t
				}
			}
			return nil
		}
	}
	return store.ErrTypeNotFound
}

func (m *memStore) ToggleTypeAccepting(_ context.Context, typeID int64) (models.TicketType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, tt := range m.types {
		if tt.ID == typeID {
			m.types[i].Accepting = !tt.Accepting
			return m.types[i], nil
		}
	}
	return models.TicketType{}, store.ErrTypeNotFound
}

func (m *memStore) GetTypeByName(_ context.Context, name string) (models.TicketType, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tt := range m.types {
		if tt.Name == name {
			return tt, true, nil
		}
	}
	return models.TicketType{}, false, nil
}

func (m *memStore) ListTypes(_ context.Context) ([]models.TicketType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.TicketType(nil), m.types...), nil
}

func (m *memStore) ListAcceptingNames(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for _, tt := range m.types {
		if tt.Accepting {
			names = append(names, tt.Name)
		}
	}
	return names, nil
}

func (m *memStore) CountTypes(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.types), nil
}

func (m *memStore) GetSettings(_ context.Context) (models.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings, nil
}

func (m *memStore) ToggleAcceptingNew(_ context.Context) (models.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings.AcceptingNew = !m.settings.AcceptingNew
	return m.settings, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
	owners   []string
	err      error
}

func (f *fakeNotifier) Notify(_ context.Context, ownerID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.owners = append(f.owners, ownerID)
	f.messages = append(f.messages, message)
	return f.err
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func newTestEngine(st *memStore, notifier Notifier) *Engine {
	return NewEngine(st, st, st, notifier, Options{})
}

func TestReserveAndPosition(t *testing.T) {
	st := newMemStore()
	engine := newTestEngine(st, nil)
	ctx := context.Background()

	a, err := engine.Reserve(ctx, "owner-a", "", "")
	if err != nil {
		t.Fatalf("reserve a: %v", err)
	}
	if a.Rejection != nil {
		t.Fatalf("reserve a rejected: %+v", a.Rejection)
	}
	if a.Ticket.ID != 1 || a.Position != 0 {
		t.Fatalf("a: id=%d position=%d, want 1/0", a.Ticket.ID, a.Position)
	}

	if _, err := engine.Reserve(ctx, "owner-b", "", ""); err != nil {
		t.Fatalf("reserve b: %v", err)
	}
	c, err := engine.Reserve(ctx, "owner-c", "", "")
	if err != nil {
		t.Fatalf("reserve c: %v", err)
	}
	if c.Position != 2 {
		t.Fatalf("c position = %d, want 2", c.Position)
	}

	// Calling the head of the line shrinks everyone's wait.
	called, err := engine.CallNext(ctx)
	if err != nil {
		t.Fatalf("call next: %v", err)
	}
	if called.Ticket.ID != a.Ticket.ID {
		t.Fatalf("call next picked #%d, want #%d", called.Ticket.ID, a.Ticket.ID)
	}
	pos, err := engine.Position(ctx, "owner-c")
	if err != nil {
		t.Fatalf("position c: %v", err)
	}
	if pos.Position != 1 {
		t.Fatalf("c position after call = %d, want 1", pos.Position)
	}
}

func TestReserveQueueClosed(t *testing.T) {
	st := newMemStore()
	st.settings.AcceptingNew = false
	engine := newTestEngine(st, nil)

	result, err := engine.Reserve(context.Background(), "owner-a", "", "")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if result.Rejection == nil || result.Rejection.Reason != RejectQueueClosed {
		t.Fatalf("want queue_closed rejection, got %+v", result.Rejection)
	}
	if len(st.tickets) != 0 {
		t.Fatalf("rejected reserve must not create a ticket, found %d", len(st.tickets))
	}
}

func TestReserveTypeNotAccepting(t *testing.T) {
	st := newMemStore()
	engine := newTestEngine(st, nil)
	ctx := context.Background()

	cut, err := st.CreateType(ctx, "haircut")
	if err != nil {
		t.Fatalf("create type: %v", err)
	}
	if _, err := st.CreateType(ctx, "shave"); err != nil {
		t.Fatalf("create type: %v", err)
	}
	if _, err := st.ToggleTypeAccepting(ctx, cut.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	result, err := engine.Reserve(ctx, "owner-a", "", "haircut")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if result.Rejection == nil || result.Rejection.Reason != RejectTypeUnavailable {
		t.Fatalf("want type_unavailable rejection, got %+v", result.Rejection)
	}
	if len(result.Rejection.AcceptingTypes) != 1 || result.Rejection.AcceptingTypes[0] != "shave" {
		t.Fatalf("accepting types = %v, want [shave]", result.Rejection.AcceptingTypes)
	}
	if len(st.tickets) != 0 {
		t.Fatalf("rejected reserve must not create a ticket")
	}

	// Unknown names reject the same way as closed ones.
	result, err = engine.Reserve(ctx, "owner-a", "", "massage")
	if err != nil {
		t.Fatalf("reserve unknown type: %v", err)
	}
	if result.Rejection == nil || result.Rejection.Reason != RejectTypeUnavailable {
		t.Fatalf("unknown type should reject, got %+v", result.Rejection)
	}
}

func TestReserveUntypedAdmission(t *testing.T) {
	st := newMemStore()
	engine := newTestEngine(st, nil)
	ctx := context.Background()

	// No types defined: the queue is one untyped line.
	result, err := engine.Reserve(ctx, "owner-a", "", "")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if result.Rejection != nil {
		t.Fatalf("untyped reserve with no types should be admitted, got %+v", result.Rejection)
	}

	// Types exist but none accept: untyped reserve is turned away too.
	st2 := newMemStore()
	engine2 := newTestEngine(st2, nil)
	tt, err := st2.CreateType(ctx, "haircut")
	if err != nil {
		t.Fatalf("create type: %v", err)
	}
	if _, err := st2.ToggleTypeAccepting(ctx, tt.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	result, err = engine2.Reserve(ctx, "owner-a", "", "")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if result.Rejection == nil || result.Rejection.Reason != RejectTypeUnavailable {
		t.Fatalf("want type_unavailable rejection, got %+v", result.Rejection)
	}
}

func TestReserveConcurrentSingleWinner(t *testing.T) {
	st := newMemStore()
	engine := newTestEngine(st, nil)

	const attempts = 16
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Reserve(context.Background(), "owner-a", "", "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	won, lost := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, store.ErrDuplicateActiveTicket):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 || lost != attempts-1 {
		t.Fatalf("won=%d lost=%d, want 1/%d", won, lost, attempts-1)
	}
	if len(st.tickets) != 1 {
		t.Fatalf("expected a single ticket, found %d", len(st.tickets))
	}
}

func TestSameTypePositionIgnoresOtherTypes(t *testing.T) {
	st := newMemStore()
	engine := newTestEngine(st, nil)
	ctx := context.Background()

	if _, err := st.CreateType(ctx, "haircut"); err != nil {
		t.Fatalf("create type: %v", err)
	}
	if _, err := st.CreateType(ctx, "shave"); err != nil {
		t.Fatalf("create type: %v", err)
	}

	if _, err := engine.Reserve(ctx, "owner-a", "", "haircut"); err != nil {
		t.Fatalf("reserve a: %v", err)
	}
	if _, err := engine.Reserve(ctx, "owner-b", "", "shave"); err != nil {
		t.Fatalf("reserve b: %v", err)
	}
	c, err := engine.Reserve(ctx, "owner-c", "", "haircut")
	if err != nil {
		t.Fatalf("reserve c: %v", err)
	}
	if c.Scope != store.WaitScopeSameType {
		t.Fatalf("scope = %q, want same_type", c.Scope)
	}
	if c.Position != 1 {
		t.Fatalf("c position = %d, want 1 (only the haircut ahead counts)", c.Position)
	}
}

func TestRoundTripToDone(t *testing.T) {
	st := newMemStore()
	notifier := &fakeNotifier{}
	engine := newTestEngine(st, notifier)
	ctx := context.Background()

	reserved, err := engine.Reserve(ctx, "owner-a", "two people", "")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	called, err := engine.CallNext(ctx)
	if err != nil {
		t.Fatalf("call next: %v", err)
	}
	if called.Ticket.Status != models.StatusCalled {
		t.Fatalf("status after call = %q", called.Ticket.Status)
	}
	arrived, err := engine.Arrive(ctx, "owner-a")
	if err != nil {
		t.Fatalf("arrive: %v", err)
	}
	if arrived.Status != models.StatusArrived {
		t.Fatalf("status after arrive = %q", arrived.Status)
	}
	finished, err := engine.Finish(ctx, reserved.Ticket.ID)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if finished.Ticket.Status != models.StatusDone {
		t.Fatalf("status after finish = %q", finished.Ticket.Status)
	}
	if notifier.count() != 2 {
		t.Fatalf("expected call and finish notifications, got %d", notifier.count())
	}
}

func TestArriveBeforeCallRejected(t *testing.T) {
	st := newMemStore()
	engine := newTestEngine(st, nil)
	ctx := context.Background()

	if _, err := engine.Reserve(ctx, "owner-a", "", ""); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := engine.Arrive(ctx, "owner-a"); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("arrive while waiting = %v, want ErrInvalidTransition", err)
	}
}

func TestCancelAfterArriveRejected(t *testing.T) {
	st := newMemStore()
	engine := newTestEngine(st, nil)
	ctx := context.Background()

	reserved, err := engine.Reserve(ctx, "owner-a", "", "")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := engine.Call(ctx, reserved.Ticket.ID); err != nil {
		t.Fatalf("call: %v", err)
	}
	if _, err := engine.Arrive(ctx, "owner-a"); err != nil {
		t.Fatalf("arrive: %v", err)
	}
	if _, err := engine.Cancel(ctx, "owner-a"); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("cancel after arrive = %v, want ErrInvalidTransition", err)
	}
	ticket, err := st.GetTicket(ctx, reserved.Ticket.ID)
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if ticket.Status != models.StatusArrived {
		t.Fatalf("status after failed cancel = %q, want arrived", ticket.Status)
	}
}

func TestCancelWhileCalled(t *testing.T) {
	st := newMemStore()
	engine := newTestEngine(st, nil)
	ctx := context.Background()

	if _, err := engine.Reserve(ctx, "owner-a", "", ""); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := engine.CallNext(ctx); err != nil {
		t.Fatalf("call next: %v", err)
	}
	ticket, err := engine.Cancel(ctx, "owner-a")
	if err != nil {
		t.Fatalf("cancel while called: %v", err)
	}
	if ticket.Status != models.StatusCancelled {
		t.Fatalf("status = %q, want cancelled", ticket.Status)
	}
	// The owner is free to take a fresh ticket again.
	if _, err := engine.Reserve(ctx, "owner-a", "", ""); err != nil {
		t.Fatalf("reserve after cancel: %v", err)
	}
}

func TestConcurrentCallSingleWinner(t *testing.T) {
	st := newMemStore()
	notifier := &fakeNotifier{}
	engine := newTestEngine(st, notifier)
	ctx := context.Background()

	reserved, err := engine.Reserve(ctx, "owner-a", "", "")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Call(ctx, reserved.Ticket.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	won, lost := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, store.ErrInvalidTransition):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 || lost != 1 {
		t.Fatalf("won=%d lost=%d, want exactly one winner", won, lost)
	}
	if notifier.count() != 1 {
		t.Fatalf("expected exactly one notification, got %d", notifier.count())
	}
}

func TestCallNextEmptyQueue(t *testing.T) {
	engine := newTestEngine(newMemStore(), nil)
	if _, err := engine.CallNext(context.Background()); !errors.Is(err, store.ErrNoTicketWaiting) {
		t.Fatalf("call next on empty queue = %v, want ErrNoTicketWaiting", err)
	}
}

func TestNotifyFailureDoesNotUndoTransition(t *testing.T) {
	st := newMemStore()
	notifier := &fakeNotifier{err: errors.New("gateway down")}
	engine := newTestEngine(st, notifier)
	ctx := context.Background()

	reserved, err := engine.Reserve(ctx, "owner-a", "", "")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	result, err := engine.Call(ctx, reserved.Ticket.ID)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if result.NotifyErr == nil {
		t.Fatal("expected NotifyErr to carry the gateway failure")
	}
	ticket, err := st.GetTicket(ctx, reserved.Ticket.ID)
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if ticket.Status != models.StatusCalled {
		t.Fatalf("status = %q, want called despite notify failure", ticket.Status)
	}
}

func TestPositionWithoutTicket(t *testing.T) {
	engine := newTestEngine(newMemStore(), nil)
	if _, err := engine.Position(context.Background(), "owner-a"); !errors.Is(err, store.ErrTicketNotFound) {
		t.Fatalf("position without ticket = %v, want ErrTicketNotFound", err)
	}
}
