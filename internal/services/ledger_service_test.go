package services

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ruralpay/playcard/internal/config"
	"github.com/ruralpay/playcard/internal/models"
	"github.com/ruralpay/playcard/internal/store"
)

func testLedgerConfig() config.LedgerConfig {
	return config.LedgerConfig{
		HistoryLimit:   models.DefaultHistoryLimit,
		PersistTimeout: time.Second,
		CurrencySymbol: "₹",
	}
}

func newTestLedger(st store.Store) (*LedgerService, *recordingPublisher) {
	pub := &recordingPublisher{}
	return NewLedgerService(st, pub, testLedgerConfig(), nil), pub
}

func TestLedgerService_GetOrCreate(t *testing.T) {
	ctx := context.Background()
	svc, pub := newTestLedger(store.NewMemoryStore())

	card, err := svc.GetOrCreate(ctx, "X1")
	require.NoError(t, err)
	assert.Equal(t, "X1", card.ID)
	assert.Equal(t, int64(0), card.Balance)
	assert.Equal(t, models.CardStatusActive, card.Status)
	assert.Empty(t, card.Player.Name)

	history, err := svc.GetHistory(ctx, "X1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.TitleCardCreated, history[0].Title)

	updates := pub.Updates()
	require.Len(t, updates, 1, "implicit creation is announced once")
	assert.Equal(t, models.TitleCardCreated, updates[0].HistoryItem.Title)

	_, err = svc.GetOrCreate(ctx, "X1")
	require.NoError(t, err)
	assert.Len(t, pub.Events(), 1)

	t.Run("blank id", func(t *testing.T) {
		_, err := svc.GetOrCreate(ctx, "  ")
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
		assert.ErrorIs(t, err, ErrInvalidCardID)
	})
}

func TestLedgerService_CreateCard(t *testing.T) {
	ctx := context.Background()

	t.Run("with player", func(t *testing.T) {
		svc, pub := newTestLedger(store.NewMemoryStore())

		res, err := svc.CreateCard(ctx, "C1", &models.Player{Name: " Asha ", Phone: "555-0199"}, 200)
		require.NoError(t, err)
		assert.Equal(t, int64(200), res.Card.Balance)
		assert.Equal(t, "Asha", res.Card.Player.Name)
		assert.Equal(t, models.TitleCardCreated, res.HistoryItem.Title)

		history, err := svc.GetHistory(ctx, "C1")
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, models.TitlePlayerCreated, history[0].Title)
		assert.Equal(t, models.TitleCardCreated, history[1].Title)

		require.Len(t, pub.Updates(), 1)
	})

	t.Run("conflict leaves card unchanged", func(t *testing.T) {
		svc, pub := newTestLedger(store.NewMemoryStore())

		_, err := svc.Recharge(ctx, "C2", 40)
		require.NoError(t, err)
		before := len(pub.Events())

		_, err = svc.CreateCard(ctx, "C2", &models.Player{Name: "Late"}, 999)
		var conflict *ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, int64(40), conflict.Card.Balance)
		assert.ErrorIs(t, err, store.ErrAlreadyExists)

		card, err := svc.GetOrCreate(ctx, "C2")
		require.NoError(t, err)
		assert.Equal(t, int64(40), card.Balance)
		assert.Empty(t, card.Player.Name)
		assert.Len(t, pub.Events(), before)
	})

	t.Run("validation", func(t *testing.T) {
		svc, pub := newTestLedger(store.NewMemoryStore())

		tests := []struct {
			name    string
			id      string
			player  *models.Player
			balance int64
			wantErr error
		}{
			{"negative balance", "C3", nil, -1, ErrInvalidAmount},
			{"empty id", "", nil, 0, ErrInvalidCardID},
			{"player without name", "C3", &models.Player{Phone: "555"}, 0, ErrInvalidPlayer},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := svc.CreateCard(ctx, tt.id, tt.player, tt.balance)
				assert.ErrorIs(t, err, tt.wantErr)
			})
		}
		assert.Empty(t, pub.Events())
	})

	t.Run("empty player is no player", func(t *testing.T) {
		svc, _ := newTestLedger(store.NewMemoryStore())

		res, err := svc.CreateCard(ctx, "C4", &models.Player{}, 0)
		require.NoError(t, err)
		assert.Empty(t, res.Card.Player.Name)

		history, err := svc.GetHistory(ctx, "C4")
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})
}

func TestLedgerService_RechargeAndDeduct(t *testing.T) {
	ctx := context.Background()
	svc, pub := newTestLedger(store.NewMemoryStore())

	res, err := svc.Recharge(ctx, "R1", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.Card.Balance)
	assert.Equal(t, models.TitleRecharge, res.HistoryItem.Title)
	assert.Equal(t, "+₹ 100", res.HistoryItem.Amount)

	res, err = svc.Deduct(ctx, "R1", 30)
	require.NoError(t, err)
	assert.Equal(t, int64(70), res.Card.Balance)
	assert.Equal(t, "-₹ 30", res.HistoryItem.Amount)

	history, err := svc.GetHistory(ctx, "R1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, models.TitleDeduct, history[0].Title)
	assert.Equal(t, models.TitleRecharge, history[1].Title)
	assert.Equal(t, models.TitleCardCreated, history[2].Title)

	updates := pub.Updates()
	require.Len(t, updates, 2)
	assert.Equal(t, int64(100), updates[0].Card.Balance)
	assert.Equal(t, int64(70), updates[1].Card.Balance)

	t.Run("invalid amounts", func(t *testing.T) {
		for _, amount := range []int64{0, -5} {
			_, err := svc.Recharge(ctx, "R1", amount)
			assert.ErrorIs(t, err, ErrInvalidAmount)
			_, err = svc.Deduct(ctx, "R1", amount)
			assert.ErrorIs(t, err, ErrInvalidAmount)
		}
		assert.Len(t, pub.Events(), 2)
	})

	t.Run("insufficient balance", func(t *testing.T) {
		svc, pub := newTestLedger(store.NewMemoryStore())
		_, err := svc.Recharge(ctx, "R2", 50)
		require.NoError(t, err)

		_, err = svc.Deduct(ctx, "R2", 80)
		var insufficient *InsufficientBalanceError
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, int64(50), insufficient.Balance)
		assert.Equal(t, int64(80), insufficient.Amount)

		card, err := svc.GetOrCreate(ctx, "R2")
		require.NoError(t, err)
		assert.Equal(t, int64(50), card.Balance)
		history, err := svc.GetHistory(ctx, "R2")
		require.NoError(t, err)
		assert.Len(t, history, 2)
		assert.Len(t, pub.Events(), 1)
	})

	t.Run("deduct to zero", func(t *testing.T) {
		res, err := svc.Deduct(ctx, "R1", 70)
		require.NoError(t, err)
		assert.Equal(t, int64(0), res.Card.Balance)
	})

	t.Run("overflow", func(t *testing.T) {
		svc, _ := newTestLedger(store.NewMemoryStore())
		_, err := svc.CreateCard(ctx, "R3", nil, math.MaxInt64)
		require.NoError(t, err)

		_, err = svc.Recharge(ctx, "R3", 1)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestLedgerService_HistoryCap(t *testing.T) {
	ctx := context.Background()
	svc, pub := newTestLedger(store.NewMemoryStore())

	for i := 1; i <= 60; i++ {
		_, err := svc.Recharge(ctx, "H1", int64(i))
		require.NoError(t, err)
	}

	history, err := svc.GetHistory(ctx, "H1")
	require.NoError(t, err)
	require.Len(t, history, models.DefaultHistoryLimit)
	assert.Equal(t, "+₹ 60", history[0].Amount)
	assert.Equal(t, "+₹ 11", history[49].Amount)

	card, err := svc.GetOrCreate(ctx, "H1")
	require.NoError(t, err)
	assert.Equal(t, int64(60*61/2), card.Balance)
	assert.Len(t, pub.Updates(), 60)
}

func TestLedgerService_UpdatePlayer(t *testing.T) {
	ctx := context.Background()
	svc, pub := newTestLedger(store.NewMemoryStore())

	res, err := svc.UpdatePlayer(ctx, "P1", "Meera", "555-0142", "team B")
	require.NoError(t, err)
	assert.Equal(t, models.Player{Name: "Meera", Phone: "555-0142", Notes: "team B"}, res.Card.Player)
	assert.Equal(t, models.TitlePlayerUpdated, res.HistoryItem.Title)
	assert.Empty(t, res.HistoryItem.Amount)

	res, err = svc.UpdatePlayer(ctx, "P1", "Meera K", "", "")
	require.NoError(t, err)
	assert.Equal(t, models.Player{Name: "Meera K"}, res.Card.Player)

	_, err = svc.UpdatePlayer(ctx, "P1", "   ", "555", "")
	assert.ErrorIs(t, err, ErrInvalidPlayer)
	assert.Len(t, pub.Updates(), 2)
}

func TestLedgerService_SetStatus(t *testing.T) {
	ctx := context.Background()
	svc, pub := newTestLedger(store.NewMemoryStore())

	_, err := svc.Recharge(ctx, "S1", 100)
	require.NoError(t, err)

	res, err := svc.SetStatus(ctx, "S1", models.CardStatusSuspended)
	require.NoError(t, err)
	assert.Equal(t, models.CardStatusSuspended, res.Card.Status)
	assert.Equal(t, models.TitleCardSuspended, res.HistoryItem.Title)

	_, err = svc.Recharge(ctx, "S1", 10)
	var suspended *CardSuspendedError
	assert.ErrorAs(t, err, &suspended)
	_, err = svc.Deduct(ctx, "S1", 10)
	assert.ErrorAs(t, err, &suspended)

	before := len(pub.Events())
	res, err = svc.SetStatus(ctx, "S1", models.CardStatusSuspended)
	require.NoError(t, err)
	assert.Empty(t, res.HistoryItem.Title)
	assert.Len(t, pub.Events(), before, "unchanged status publishes nothing")

	res, err = svc.SetStatus(ctx, "S1", models.CardStatusActive)
	require.NoError(t, err)
	assert.Equal(t, models.TitleCardReinstated, res.HistoryItem.Title)

	res2, err := svc.Deduct(ctx, "S1", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(90), res2.Card.Balance)

	_, err = svc.SetStatus(ctx, "S1", models.CardStatus("frozen"))
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestLedgerService_Touch(t *testing.T) {
	ctx := context.Background()
	svc, pub := newTestLedger(store.NewMemoryStore())

	require.NoError(t, svc.Touch(ctx, "T1"))

	events := pub.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventTypeScan, events[0].Type)
	assert.Equal(t, "T1", events[0].CardID())

	card, err := svc.GetOrCreate(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), card.Balance)
	assert.Len(t, pub.Events(), 1, "card created by touch is not announced again")

	require.NoError(t, svc.Touch(ctx, "T1"))
	assert.Len(t, pub.Events(), 2)

	assert.ErrorIs(t, svc.Touch(ctx, ""), ErrInvalidCardID)
}

func TestLedgerService_PersistenceFailure(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk full")

	t.Run("persist fails", func(t *testing.T) {
		st := new(MockStore)
		existing := models.NewCardAccount("F1", time.Now().UTC())
		existing.Balance = 100
		st.On("Get", mock.Anything, "F1").Return(existing, nil)
		st.On("Persist", mock.Anything, mock.Anything).Return(boom)

		svc, pub := newTestLedger(st)
		_, err := svc.Deduct(ctx, "F1", 30)

		var perr *PersistenceError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "F1", perr.CardID)
		assert.ErrorIs(t, err, boom)
		assert.Empty(t, pub.Events())
		assert.Equal(t, int64(100), existing.Balance)
		st.AssertExpectations(t)
	})

	t.Run("persist fails leaves stored card untouched", func(t *testing.T) {
		st := &failingPersistStore{MemoryStore: store.NewMemoryStore(), err: boom}
		seed := models.NewCardAccount("F5", time.Now().UTC())
		seed.Balance = 100
		require.NoError(t, st.Create(ctx, seed))

		svc, pub := newTestLedger(st)
		_, err := svc.Deduct(ctx, "F5", 30)

		var perr *PersistenceError
		require.ErrorAs(t, err, &perr)
		assert.Empty(t, pub.Events())

		stored, err := st.Get(ctx, "F5")
		require.NoError(t, err)
		assert.Equal(t, int64(100), stored.Balance)
		assert.Empty(t, stored.History)
	})

	t.Run("persist timeout", func(t *testing.T) {
		mem := store.NewMemoryStore()
		seed := models.NewCardAccount("F6", time.Now().UTC())
		seed.Balance = 40
		require.NoError(t, mem.Create(ctx, seed))

		cfg := testLedgerConfig()
		cfg.PersistTimeout = 20 * time.Millisecond
		pub := &recordingPublisher{}
		svc := NewLedgerService(&stalledStore{MemoryStore: mem}, pub, cfg, nil)

		start := time.Now()
		_, err := svc.Recharge(ctx, "F6", 10)
		assert.Less(t, time.Since(start), time.Second)

		var perr *PersistenceError
		require.ErrorAs(t, err, &perr)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Empty(t, pub.Events())

		stored, err := mem.Get(ctx, "F6")
		require.NoError(t, err)
		assert.Equal(t, int64(40), stored.Balance)
		assert.Empty(t, stored.History)

		_, err = svc.Recharge(ctx, "F7", 10)
		require.ErrorAs(t, err, &perr)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		_, err = mem.Get(ctx, "F7")
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.Empty(t, pub.Events())
	})

	t.Run("get fails", func(t *testing.T) {
		st := new(MockStore)
		st.On("Get", mock.Anything, "F2").Return(nil, boom)

		svc, pub := newTestLedger(st)
		_, err := svc.Recharge(ctx, "F2", 10)

		var perr *PersistenceError
		assert.ErrorAs(t, err, &perr)
		assert.Empty(t, pub.Events())
		st.AssertNotCalled(t, "Persist", mock.Anything, mock.Anything)
	})

	t.Run("implicit create fails", func(t *testing.T) {
		st := new(MockStore)
		st.On("Get", mock.Anything, "F3").Return(nil, store.ErrNotFound)
		st.On("Create", mock.Anything, mock.Anything).Return(boom)

		svc, pub := newTestLedger(st)
		_, err := svc.GetOrCreate(ctx, "F3")

		var perr *PersistenceError
		assert.ErrorAs(t, err, &perr)
		assert.Empty(t, pub.Events())
	})

	t.Run("caller cancellation does not abort persist", func(t *testing.T) {
		svc, pub := newTestLedger(store.NewMemoryStore())
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		res, err := svc.Recharge(cancelled, "F4", 25)
		require.NoError(t, err)
		assert.Equal(t, int64(25), res.Card.Balance)
		assert.Len(t, pub.Events(), 1)
	})
}

func TestLedgerService_Concurrency(t *testing.T) {
	ctx := context.Background()

	t.Run("no lost updates", func(t *testing.T) {
		svc, pub := newTestLedger(store.NewMemoryStore())

		const n = 100
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.Recharge(ctx, "K1", 1)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		card, err := svc.GetOrCreate(ctx, "K1")
		require.NoError(t, err)
		assert.Equal(t, int64(n), card.Balance)

		updates := pub.Updates()
		require.Len(t, updates, n)
		for i, u := range updates {
			assert.Equal(t, int64(i+1), u.Card.Balance, "events arrive in commit order")
		}
		assert.Zero(t, svc.locks.size())
	})

	t.Run("recharge races deduct", func(t *testing.T) {
		for round := 0; round < 20; round++ {
			svc, _ := newTestLedger(store.NewMemoryStore())
			var wg sync.WaitGroup
			var deductErr error
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, err := svc.Recharge(ctx, "K2", 100)
				assert.NoError(t, err)
			}()
			go func() {
				defer wg.Done()
				_, deductErr = svc.Deduct(ctx, "K2", 30)
			}()
			wg.Wait()

			card, err := svc.GetOrCreate(ctx, "K2")
			require.NoError(t, err)
			if deductErr != nil {
				var insufficient *InsufficientBalanceError
				assert.ErrorAs(t, deductErr, &insufficient)
				assert.Equal(t, int64(100), card.Balance)
			} else {
				assert.Equal(t, int64(70), card.Balance)
			}
		}
	})

	t.Run("distinct cards", func(t *testing.T) {
		svc, _ := newTestLedger(store.NewMemoryStore())
		ids := []string{"A", "B", "C", "D"}
		var wg sync.WaitGroup
		for _, id := range ids {
			for i := 0; i < 25; i++ {
				wg.Add(1)
				go func(id string) {
					defer wg.Done()
					_, err := svc.Recharge(ctx, id, 2)
					assert.NoError(t, err)
				}(id)
			}
		}
		wg.Wait()

		for _, id := range ids {
			card, err := svc.GetOrCreate(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, int64(50), card.Balance)
		}
	})
}
