package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dcastillo/maquila-ledger/internal/interfaces"

	"github.com/shopspring/decimal"

	"github.com/dcastillo/maquila-ledger/internal/models"
	"github.com/dcastillo/maquila-ledger/internal/models/events"
	"github.com/dcastillo/maquila-ledger/internal/storage/memory"
)

const testMaquilaID = "mq-1"

func newTestStore() *memory.MemoryStore {
	store := memory.NewMemoryStore()
	store.PutMaquila(models.Maquila{
		ID:            testMaquilaID,
		Name:          "Taller Norte",
		Capacity:      500,
		AdvanceAmount: decimal.Zero,
		Status:        models.StatusInProgress,
	})
	return store
}

func openSession(t *testing.T, store *memory.MemoryStore, quiet time.Duration) *Session {
	t.Helper()
	sess, err := Open(context.Background(), store, store, testMaquilaID, Options{
		QuietWindow: quiet,
		RetryDelay:  time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestOpenBootstrapsFiveBlankRows(t *testing.T) {
	sess := openSession(t, newTestStore(), time.Hour)

	rows := sess.Rows()
	if len(rows) != MinimumRows {
		t.Fatalf("expected %d bootstrapped rows, got %d", MinimumRows, len(rows))
	}
	for _, r := range rows {
		if r.Category != "" || !r.Quantity.IsZero() || !r.UnitPrice.IsZero() {
			t.Errorf("expected blank row, got %+v", r)
		}
	}

	totals := sess.Totals()
	if !totals.TotalQuantity.IsZero() {
		t.Errorf("expected zero total quantity, got %s", totals.TotalQuantity)
	}
	if !totals.TotalLineAmount.IsZero() {
		t.Errorf("expected zero total line amount, got %s", totals.TotalLineAmount)
	}
}

func TestOpenKeepsExistingRows(t *testing.T) {
	store := newTestStore()
	_, err := store.InsertRows(context.Background(), []models.RowInput{
		models.BlankRow(testMaquilaID),
		models.BlankRow(testMaquilaID),
	})
	if err != nil {
		t.Fatalf("seeding rows: %v", err)
	}

	sess := openSession(t, store, time.Hour)
	if got := len(sess.Rows()); got != 2 {
		t.Fatalf("expected the 2 existing rows without bootstrap, got %d", got)
	}
}

func TestEnsureMinimumRowsIsIdempotent(t *testing.T) {
	store := newTestStore()
	sess := openSession(t, store, time.Hour)

	inserted, err := sess.EnsureMinimumRows(context.Background())
	if err != nil {
		t.Fatalf("EnsureMinimumRows: %v", err)
	}
	if len(inserted) != 0 {
		t.Fatalf("second call inserted %d rows, want 0", len(inserted))
	}

	remote, _ := store.SelectRows(context.Background(), testMaquilaID)
	if len(remote) != MinimumRows {
		t.Fatalf("store has %d rows, want %d", len(remote), MinimumRows)
	}
}

func TestEditFieldRecomputesLineTotal(t *testing.T) {
	sess := openSession(t, newTestStore(), time.Hour)
	rowID := sess.Rows()[0].ID

	sess.EditField(rowID, models.FieldUnitPrice, "2.50")
	sess.EditField(rowID, models.FieldQuantity, "10")

	row := sess.Rows()[0]
	if !row.LineTotal.Equal(decimal.RequireFromString("25")) {
		t.Errorf("expected line total 25, got %s", row.LineTotal)
	}

	sess.EditField(rowID, models.FieldQuantity, "4")
	sess.EditField(rowID, models.FieldQuantity, "7")

	row = sess.Rows()[0]
	if !row.Quantity.Equal(decimal.NewFromInt(7)) {
		t.Errorf("expected quantity 7, got %s", row.Quantity)
	}
	if !row.LineTotal.Equal(decimal.RequireFromString("17.5")) {
		t.Errorf("expected line total 17.50, got %s", row.LineTotal)
	}
}

func TestEditFieldInputParsing(t *testing.T) {
	sess := openSession(t, newTestStore(), time.Hour)
	rowID := sess.Rows()[0].ID

	sess.EditField(rowID, models.FieldQuantity, "12")

	// Non-numeric input is ignored, previous value retained.
	sess.EditField(rowID, models.FieldQuantity, "doce")
	if got := sess.Rows()[0].Quantity; !got.Equal(decimal.NewFromInt(12)) {
		t.Errorf("invalid input should keep 12, got %s", got)
	}

	// Negative input clamps to zero.
	sess.EditField(rowID, models.FieldQuantity, "-3")
	if got := sess.Rows()[0].Quantity; !got.IsZero() {
		t.Errorf("negative input should clamp to 0, got %s", got)
	}

	// Empty input counts as zero.
	sess.EditField(rowID, models.FieldUnitPrice, "")
	if got := sess.Rows()[0].UnitPrice; !got.IsZero() {
		t.Errorf("empty input should be 0, got %s", got)
	}
}

func TestDeleteRowAtMinimumIsRejected(t *testing.T) {
	store := newTestStore()
	sess := openSession(t, store, time.Hour)
	rowID := sess.Rows()[0].ID

	if err := sess.DeleteRow(context.Background(), rowID); err != ErrMinimumRows {
		t.Fatalf("expected ErrMinimumRows, got %v", err)
	}
	if got := len(sess.Rows()); got != MinimumRows {
		t.Fatalf("rows changed on rejected delete: %d", got)
	}
	remote, _ := store.SelectRows(context.Background(), testMaquilaID)
	if len(remote) != MinimumRows {
		t.Fatalf("remote rows changed on rejected delete: %d", len(remote))
	}
}

func TestDeleteRowAboveMinimum(t *testing.T) {
	store := newTestStore()
	sess := openSession(t, store, time.Hour)

	row, err := sess.AddRow(context.Background())
	if err != nil {
		t.Fatalf("AddRow: %v", err)
	}
	if err := sess.DeleteRow(context.Background(), row.ID); err != nil {
		t.Fatalf("DeleteRow: %v", err)
	}

	if got := len(sess.Rows()); got != MinimumRows {
		t.Fatalf("expected %d rows after delete, got %d", MinimumRows, got)
	}
	exists, _ := store.RowExists(context.Background(), row.ID, testMaquilaID)
	if exists {
		t.Fatal("row still present in store after delete")
	}
}

func TestRemoteUpdateRespectsPendingField(t *testing.T) {
	sess := openSession(t, newTestStore(), time.Hour)
	rowID := sess.Rows()[0].ID

	// Unconfirmed local edit to the unit price.
	sess.EditField(rowID, models.FieldUnitPrice, "9.99")

	remote := models.ClosureRow{
		ID:        rowID,
		MaquilaID: testMaquilaID,
		Category:  "bordado",
		Quantity:  decimal.NewFromInt(3),
		UnitPrice: decimal.NewFromInt(1),
	}
	sess.applyRemoteEvent(events.RowChange{Kind: events.KindUpdate, Row: remote, OccurredAt: time.Now()})

	row := sess.Rows()[0]
	if row.Category != "bordado" {
		t.Errorf("remote category change should apply, got %q", row.Category)
	}
	if !row.Quantity.Equal(decimal.NewFromInt(3)) {
		t.Errorf("remote quantity change should apply, got %s", row.Quantity)
	}
	if !row.UnitPrice.Equal(decimal.RequireFromString("9.99")) {
		t.Errorf("pending unit price must win, got %s", row.UnitPrice)
	}
	if !row.LineTotal.Equal(decimal.RequireFromString("29.97")) {
		t.Errorf("line total should follow the merge, got %s", row.LineTotal)
	}
}

func TestRemoteInsertDeduplicatesByID(t *testing.T) {
	sess := openSession(t, newTestStore(), time.Hour)
	existing := sess.Rows()[0]

	sess.applyRemoteEvent(events.RowChange{Kind: events.KindInsert, Row: existing, OccurredAt: time.Now()})
	if got := len(sess.Rows()); got != MinimumRows {
		t.Fatalf("duplicate insert changed row count to %d", got)
	}

	fresh := models.ClosureRow{ID: "row-remote", MaquilaID: testMaquilaID}
	sess.applyRemoteEvent(events.RowChange{Kind: events.KindInsert, Row: fresh, OccurredAt: time.Now()})
	if got := len(sess.Rows()); got != MinimumRows+1 {
		t.Fatalf("new insert should append, got %d rows", got)
	}
}

func TestRemoteDeleteWinsOverPendingEdit(t *testing.T) {
	sess := openSession(t, newTestStore(), time.Hour)
	rowID := sess.Rows()[0].ID

	sess.EditField(rowID, models.FieldCategory, "costura")
	if !sess.HasPending(rowID) {
		t.Fatal("expected a pending edit")
	}

	sess.applyRemoteEvent(events.RowChange{
		Kind:       events.KindDelete,
		Row:        models.ClosureRow{ID: rowID, MaquilaID: testMaquilaID},
		OccurredAt: time.Now(),
	})

	if got := len(sess.Rows()); got != MinimumRows-1 {
		t.Fatalf("expected %d rows after remote delete, got %d", MinimumRows-1, got)
	}
	if sess.HasPending(rowID) {
		t.Fatal("pending edit should be dropped with the row")
	}
}

func TestFinalTotalDeductsAdvance(t *testing.T) {
	store := newTestStore()
	store.PutMaquila(models.Maquila{
		ID:            testMaquilaID,
		Name:          "Taller Norte",
		AdvanceAmount: decimal.NewFromInt(50),
		Status:        models.StatusInProgress,
	})
	_, err := store.InsertRows(context.Background(), []models.RowInput{
		{MaquilaID: testMaquilaID, Category: "corte", Quantity: decimal.NewFromInt(3), UnitPrice: decimal.NewFromInt(10)},
		{MaquilaID: testMaquilaID, Category: "costura", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(20)},
		{MaquilaID: testMaquilaID, Category: "empaque", Quantity: decimal.NewFromInt(5), UnitPrice: decimal.NewFromInt(10)},
	})
	if err != nil {
		t.Fatalf("seeding rows: %v", err)
	}

	sess := openSession(t, store, time.Hour)

	totals := sess.Totals()
	if !totals.TotalLineAmount.Equal(decimal.NewFromInt(120)) {
		t.Errorf("expected total 120, got %s", totals.TotalLineAmount)
	}
	if !totals.FinalTotal.Equal(decimal.NewFromInt(70)) {
		t.Errorf("expected final total 70, got %s", totals.FinalTotal)
	}
}

// gapStore lets another client slip a write in after the initial fetch has
// read its result but before it returns.
type gapStore struct {
	interfaces.Store
	mem     *memory.MemoryStore
	mu      sync.Mutex
	selects int
}

func (g *gapStore) SelectRows(ctx context.Context, maquilaID string) ([]models.ClosureRow, error) {
	rows, err := g.Store.SelectRows(ctx, maquilaID)

	g.mu.Lock()
	g.selects++
	n := g.selects
	g.mu.Unlock()

	// The first select is the bootstrap check; the second is the fetch.
	if n == 2 && err == nil {
		g.mem.InsertRows(ctx, []models.RowInput{
			{MaquilaID: maquilaID, Category: "fuera-de-lote"},
		})
	}
	return rows, err
}

func TestChangeDuringInitialFetchIsNotLost(t *testing.T) {
	mem := newTestStore()
	store := &gapStore{Store: mem, mem: mem}

	sess, err := Open(context.Background(), store, mem, testMaquilaID, Options{
		QuietWindow: time.Hour,
		RetryDelay:  time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { sess.Close() })

	// The fetch missed the concurrent insert, but the subscription was
	// already live, so the pushed event fills the gap.
	waitFor(t, "concurrently inserted row to appear", func() bool {
		for _, r := range sess.Rows() {
			if r.Category == "fuera-de-lote" {
				return true
			}
		}
		return false
	})
	if got := len(sess.Rows()); got != MinimumRows+1 {
		t.Fatalf("expected %d rows, got %d", MinimumRows+1, got)
	}
}

func TestTwoSessionsStayInSync(t *testing.T) {
	store := newTestStore()
	first := openSession(t, store, 30*time.Millisecond)

	second, err := Open(context.Background(), store, store, testMaquilaID, Options{
		QuietWindow: 30 * time.Millisecond,
		RetryDelay:  time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Open second session: %v", err)
	}
	t.Cleanup(func() { second.Close() })

	row, err := first.AddRow(context.Background())
	if err != nil {
		t.Fatalf("AddRow: %v", err)
	}
	waitFor(t, "second session to see the new row", func() bool {
		return len(second.Rows()) == MinimumRows+1
	})

	first.EditField(row.ID, models.FieldCategory, "planchado")
	waitFor(t, "edit to reach the second session", func() bool {
		for _, r := range second.Rows() {
			if r.ID == row.ID && r.Category == "planchado" {
				return true
			}
		}
		return false
	})
}
