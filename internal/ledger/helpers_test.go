package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/offpay/internal/handshake"
	"github.com/roach88/offpay/internal/payment"
	"github.com/roach88/offpay/internal/testutil"
)

var epoch = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeGateway struct {
	mu        sync.Mutex
	transfers []Transfer
	fail      bool
}

func (g *fakeGateway) Transfer(_ context.Context, t Transfer) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail {
		return errors.New("rail down")
	}
	g.transfers = append(g.transfers, t)
	return nil
}

type fakeSink struct {
	mu         sync.Mutex
	rejections []Rejection
}

func (s *fakeSink) Publish(_ context.Context, r Rejection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejections = append(s.rejections, r)
	return nil
}

type fixture struct {
	svc     *Service
	repo    *MemoryRepository
	gateway *fakeGateway
	sink    *fakeSink
	clock   *testutil.ManualClock
	payer   handshake.Party
	payee   handshake.Party
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		repo:    NewMemoryRepository(),
		gateway: &fakeGateway{},
		sink:    &fakeSink{},
		clock:   testutil.NewManualClock(epoch),
		payer:   handshake.Party{Address: "alice@offpay", Name: "Alice", Keys: testutil.KeyPair(t, "alice")},
		payee:   handshake.Party{Address: "shop@offpay", Name: "Corner Shop", Keys: testutil.KeyPair(t, "shop")},
	}
	base := []Option{
		WithGateway(f.gateway),
		WithRejectionSink(f.sink),
		WithClock(f.clock),
		WithIDs(testutil.NewSequence("L")),
	}
	svc, err := New(f.repo, append(base, opts...)...)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) receipt(t *testing.T, amount int64) handshake.Receipt {
	t.Helper()
	now := f.clock.Now()
	req, err := handshake.NewRequest(handshake.RequestParams{
		Amount:   amount,
		Currency: "BDT",
		Intent:   payment.Intent{Code: payment.IntentMerchant, Label: "tea"},
	}, f.payee, now)
	require.NoError(t, err)
	rcpt, err := handshake.Approve(req, f.payer, now)
	require.NoError(t, err)
	return rcpt
}

func payload(t *testing.T, rcpt handshake.Receipt, dir payment.Direction) payment.SyncPayload {
	t.Helper()
	d, err := handshake.DraftFor(rcpt, dir)
	require.NoError(t, err)
	return d.Payload
}

func (f *fixture) sync(t *testing.T, payloads ...payment.SyncPayload) []payment.SyncOutcome {
	t.Helper()
	out, err := f.svc.Sync(context.Background(), payloads)
	require.NoError(t, err)
	require.Len(t, out, len(payloads))
	return out
}
