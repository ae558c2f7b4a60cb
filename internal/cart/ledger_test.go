package cart

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.storefront/internal/model"
	"sudooom.storefront/internal/storage"
	appErrors "sudooom.storefront/pkg/errors"
)

// flakyStorage 可切换失败状态的存储
type flakyStorage struct {
	*storage.MemoryStorage
	mu      sync.Mutex
	failing bool
	saves   int
}

func newFlakyStorage() *flakyStorage {
	return &flakyStorage{MemoryStorage: storage.NewMemoryStorage()}
}

func (f *flakyStorage) setFailing(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = v
}

func (f *flakyStorage) Load(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	failing := f.failing
	f.mu.Unlock()
	if failing {
		return nil, errors.New("storage disabled")
	}
	return f.MemoryStorage.Load(ctx, key)
}

func (f *flakyStorage) Save(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	f.saves++
	failing := f.failing
	f.mu.Unlock()
	if failing {
		return errors.New("quota exceeded")
	}
	return f.MemoryStorage.Save(ctx, key, value)
}

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestLedger(t *testing.T, s storage.Storage, opts ...Option) *Ledger {
	t.Helper()
	l := NewLedger(context.Background(), s, opts...)
	t.Cleanup(l.Close)
	return l
}

func TestAddItem_MergesSameIdentityKey(t *testing.T) {
	l := newTestLedger(t, storage.NewMemoryStorage())
	s1 := l.ForStore("S1")

	require.NoError(t, s1.AddItem(model.CartItem{ID: "p1", Name: "Mug", Price: price("10")}, 1))
	require.NoError(t, s1.AddItem(model.CartItem{ID: "p1", Name: "Mug", Price: price("10")}, 2))

	items := s1.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].Quantity)
	assert.True(t, s1.TotalPrice().Equal(price("30")))
	assert.Equal(t, 3, s1.TotalItems())
}

func TestAddItem_SameProductDifferentStores(t *testing.T) {
	l := newTestLedger(t, nil)

	require.NoError(t, l.AddItem(model.CartItem{ID: "p1", StoreID: "S1", Price: price("5")}, 1))
	require.NoError(t, l.AddItem(model.CartItem{ID: "p1", StoreID: "S2", Price: price("7")}, 1))

	assert.Len(t, l.Items(), 2)
	assert.True(t, l.ForStore("S1").TotalPrice().Equal(price("5")))
	assert.True(t, l.ForStore("S2").TotalPrice().Equal(price("7")))
	assert.True(t, l.TotalPrice().Equal(price("12")))
	assert.Equal(t, 2, l.TotalItems())
}

func TestAddItem_DefaultsAndValidation(t *testing.T) {
	l := newTestLedger(t, nil)

	require.NoError(t, l.AddItem(model.CartItem{ID: "p1", StoreID: "S1"}, 0))
	assert.Equal(t, 1, l.ForStore("S1").Items()[0].Quantity)

	err := l.AddItem(model.CartItem{ID: "p2"}, 1)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidItem))
	err = l.AddItem(model.CartItem{StoreID: "S1"}, 1)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidItem))
}

func TestStoreCart_OverridesItemStoreID(t *testing.T) {
	l := newTestLedger(t, nil)

	require.NoError(t, l.ForStore("S1").AddItem(model.CartItem{ID: "p1", StoreID: "S2"}, 1))
	assert.Len(t, l.ForStore("S1").Items(), 1)
	assert.Empty(t, l.ForStore("S2").Items())
}

func TestUpdateQuantity(t *testing.T) {
	tests := []struct {
		name     string
		n        int
		expected int // 0 表示已删除
	}{
		{"set to five", 5, 5},
		{"zero removes", 0, 0},
		{"negative removes", -1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLedger(t, storage.NewMemoryStorage())
			s1 := l.ForStore("S1")
			require.NoError(t, s1.AddItem(model.CartItem{ID: "p1", Price: price("2.50")}, 2))
			require.NoError(t, s1.AddItem(model.CartItem{ID: "p2", Price: price("1")}, 1))

			s1.UpdateQuantity("p1", tt.n)

			var found *model.CartItem
			for _, it := range s1.Items() {
				if it.ID == "p1" {
					it := it
					found = &it
				}
			}
			if tt.expected == 0 {
				assert.Nil(t, found)
				assert.Equal(t, 1, s1.TotalItems())
				assert.True(t, s1.TotalPrice().Equal(price("1")))
				return
			}
			require.NotNil(t, found)
			assert.Equal(t, tt.expected, found.Quantity)
		})
	}
}

func TestUpdateQuantity_ScopedToTenant(t *testing.T) {
	l := newTestLedger(t, nil)
	require.NoError(t, l.AddItem(model.CartItem{ID: "p1", StoreID: "S1"}, 2))
	require.NoError(t, l.AddItem(model.CartItem{ID: "p1", StoreID: "S2"}, 2))

	l.ForStore("S2").UpdateQuantity("p1", 9)
	l.ForStore("S2").RemoveItem("missing")

	assert.Equal(t, 2, l.ForStore("S1").TotalItems())
	assert.Equal(t, 9, l.ForStore("S2").TotalItems())

	l.ForStore("S1").RemoveItem("p1")
	assert.Empty(t, l.ForStore("S1").Items())
	assert.Equal(t, 9, l.ForStore("S2").TotalItems())
}

func TestClearStore_LeavesOtherTenantsUntouched(t *testing.T) {
	l := newTestLedger(t, storage.NewMemoryStorage())
	require.NoError(t, l.AddItem(model.CartItem{ID: "a", StoreID: "S1", Name: "A", Price: price("1.10"), Image: "a.png"}, 1))
	require.NoError(t, l.AddItem(model.CartItem{ID: "b", StoreID: "S1", Name: "B", Price: price("2.20")}, 4))
	require.NoError(t, l.AddItem(model.CartItem{ID: "c", StoreID: "S2", Name: "C", Price: price("3.30")}, 1))

	before, err := json.Marshal(l.ForStore("S1").Items())
	require.NoError(t, err)

	l.ClearStore("S2")

	after, err := json.Marshal(l.ForStore("S1").Items())
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
	assert.Len(t, l.ForStore("S1").Items(), 2)
	assert.Empty(t, l.ForStore("S2").Items())
}

func TestClear_EmptiesEverything(t *testing.T) {
	l := newTestLedger(t, nil)
	require.NoError(t, l.AddItem(model.CartItem{ID: "a", StoreID: "S1"}, 1))
	require.NoError(t, l.AddItem(model.CartItem{ID: "b", StoreID: "S2"}, 1))

	l.Clear()
	assert.Empty(t, l.Items())
	assert.Equal(t, 0, l.TotalItems())
}

func TestPersistence_RehydratesAllTenants(t *testing.T) {
	s := storage.NewMemoryStorage()
	l := newTestLedger(t, s)
	require.NoError(t, l.AddItem(model.CartItem{ID: "a", StoreID: "S1", Price: price("4")}, 2))
	require.NoError(t, l.AddItem(model.CartItem{ID: "b", StoreID: "S2", Price: price("1")}, 1))

	raw, err := s.Load(context.Background(), DefaultKey)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"version":1`)

	restored := newTestLedger(t, s)
	assert.Len(t, restored.Items(), 2)
	assert.True(t, restored.ForStore("S1").TotalPrice().Equal(price("8")))
	assert.False(t, restored.Degraded())
}

func TestPersistence_AcceptsLegacyRecordAndSanitizes(t *testing.T) {
	s := storage.NewMemoryStorage()
	legacy := `{"items":[
		{"id":"a","storeId":"S1","price":2,"quantity":1},
		{"id":"a","storeId":"S1","price":2,"quantity":2},
		{"id":"z","storeId":"S1","price":2,"quantity":0},
		{"id":"","storeId":"S1","price":2,"quantity":1}
	]}`
	require.NoError(t, s.Save(context.Background(), DefaultKey, []byte(legacy)))

	l := newTestLedger(t, s)
	items := l.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].Quantity)
}

func TestPersistence_RejectsFutureVersion(t *testing.T) {
	s := storage.NewMemoryStorage()
	require.NoError(t, s.Save(context.Background(), DefaultKey, []byte(`{"version":99,"items":[{"id":"a","storeId":"S1","quantity":1}]}`)))

	l := newTestLedger(t, s)
	assert.Empty(t, l.Items())
	assert.True(t, l.Degraded())
}

func TestStorageFailure_DegradesToMemory(t *testing.T) {
	s := newFlakyStorage()
	s.setFailing(true)

	l := newTestLedger(t, s)
	assert.True(t, l.Degraded())

	// 写失败不影响内存中的账本
	require.NoError(t, l.AddItem(model.CartItem{ID: "a", StoreID: "S1", Price: price("3")}, 1))
	assert.Equal(t, 1, l.TotalItems())
	assert.True(t, l.Degraded())

	// 存储恢复后下一次变更会写回
	s.setFailing(false)
	l.ForStore("S1").UpdateQuantity("a", 2)
	assert.False(t, l.Degraded())

	restored := newTestLedger(t, s)
	assert.Equal(t, 2, restored.TotalItems())
}

func seedTwoTenants(t *testing.T, s storage.Storage) {
	t.Helper()
	seed := NewLedger(context.Background(), s)
	defer seed.Close()
	require.NoError(t, seed.AddItem(model.CartItem{ID: "p1", StoreID: "S1", Price: price("10")}, 2))
	require.NoError(t, seed.AddItem(model.CartItem{ID: "p9", StoreID: "S2", Price: price("7")}, 1))
}

func TestStorageRecovery_MergesWithDurableRecord(t *testing.T) {
	s := newFlakyStorage()
	seedTwoTenants(t, s)

	s.setFailing(true)
	l := newTestLedger(t, s)
	require.True(t, l.Degraded())
	assert.Empty(t, l.Items())

	s.setFailing(false)
	require.NoError(t, l.ForStore("S1").AddItem(model.CartItem{ID: "p2", Price: price("1")}, 1))
	assert.False(t, l.Degraded())
	assert.Equal(t, 3, l.ForStore("S1").TotalItems())
	assert.Equal(t, 1, l.ForStore("S2").TotalItems())

	restored := newTestLedger(t, s)
	assert.Equal(t, 3, restored.ForStore("S1").TotalItems())
	assert.Equal(t, 1, restored.ForStore("S2").TotalItems())
	assert.True(t, restored.ForStore("S1").TotalPrice().Equal(price("21")))
}

func TestStorageRecovery_MergesItemsAddedWhileDegraded(t *testing.T) {
	s := newFlakyStorage()
	seedTwoTenants(t, s)

	s.setFailing(true)
	l := newTestLedger(t, s)
	require.NoError(t, l.AddItem(model.CartItem{ID: "p1", StoreID: "S1"}, 1))
	assert.Equal(t, 1, l.ForStore("S1").TotalItems())

	s.setFailing(false)
	require.NoError(t, l.AddItem(model.CartItem{ID: "p3", StoreID: "S2"}, 1))

	restored := newTestLedger(t, s)
	assert.Equal(t, 3, restored.ForStore("S1").TotalItems())
	assert.Equal(t, 2, restored.ForStore("S2").TotalItems())
}

func TestStorageRecovery_AppliesClearsMadeWhileDegraded(t *testing.T) {
	tests := []struct {
		name   string
		clear  func(l *Ledger)
		wantS1 int
		wantS2 int
	}{
		{"clear store", func(l *Ledger) { l.ClearStore("S2") }, 3, 0},
		{"clear all", func(l *Ledger) { l.Clear() }, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newFlakyStorage()
			seedTwoTenants(t, s)

			s.setFailing(true)
			l := newTestLedger(t, s)
			tt.clear(l)

			s.setFailing(false)
			require.NoError(t, l.AddItem(model.CartItem{ID: "p2", StoreID: "S1"}, 1))

			restored := newTestLedger(t, s)
			assert.Equal(t, tt.wantS1, restored.ForStore("S1").TotalItems())
			assert.Equal(t, tt.wantS2, restored.ForStore("S2").TotalItems())
		})
	}
}

func TestPersistence_NeverOverwritesNewerRecord(t *testing.T) {
	s := storage.NewMemoryStorage()
	raw := []byte(`{"version":99,"items":[{"id":"a","storeId":"S1","quantity":1}]}`)
	require.NoError(t, s.Save(context.Background(), DefaultKey, raw))

	l := newTestLedger(t, s)
	require.NoError(t, l.AddItem(model.CartItem{ID: "b", StoreID: "S1"}, 1))
	l.ForStore("S1").UpdateQuantity("b", 3)
	l.Clear()
	assert.True(t, l.Degraded())

	stored, err := s.Load(context.Background(), DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, raw, stored)
}

func TestReload_PicksUpExternalWrite(t *testing.T) {
	s := storage.NewMemoryStorage()
	tabA := newTestLedger(t, s)
	tabB := newTestLedger(t, s)

	require.NoError(t, tabA.AddItem(model.CartItem{ID: "a", StoreID: "S1"}, 1))
	assert.Empty(t, tabB.Items())

	require.NoError(t, tabB.Reload(context.Background()))
	assert.Len(t, tabB.Items(), 1)
}

func TestReload_FailureKeepsState(t *testing.T) {
	s := newFlakyStorage()
	l := newTestLedger(t, s)
	require.NoError(t, l.AddItem(model.CartItem{ID: "a", StoreID: "S1"}, 1))

	s.setFailing(true)
	err := l.Reload(context.Background())
	assert.True(t, appErrors.Is(err, appErrors.ErrStorage))
	assert.Len(t, l.Items(), 1)
}

func TestNotice_AutoClearsAfterDelay(t *testing.T) {
	l := newTestLedger(t, nil, WithNoticeDelay(30*time.Millisecond))

	var mu sync.Mutex
	var seen []string
	l.OnNotice(func(msg string) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, msg)
	})

	require.NoError(t, l.AddItem(model.CartItem{ID: "p1", StoreID: "S1", Name: "Mug"}, 1))
	assert.Equal(t, "Mug added to cart", l.Notice())

	assert.Eventually(t, func() bool { return l.Notice() == "" }, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"Mug added to cart", ""}, seen)
}

func TestNotice_SecondAddResetsTimer(t *testing.T) {
	l := newTestLedger(t, nil, WithNoticeDelay(80*time.Millisecond))

	require.NoError(t, l.AddItem(model.CartItem{ID: "p1", StoreID: "S1", Name: "Mug"}, 1))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, l.AddItem(model.CartItem{ID: "p2", StoreID: "S1", Name: "Cup"}, 1))

	// 第一次加购的定时器已失效，提示应仍然可见
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, "Cup added to cart", l.Notice())

	assert.Eventually(t, func() bool { return l.Notice() == "" }, time.Second, 5*time.Millisecond)
}
