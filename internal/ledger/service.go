package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/offpay/internal/clock"
	"github.com/roach88/offpay/internal/handshake"
	"github.com/roach88/offpay/internal/payment"
	"github.com/roach88/offpay/internal/policy"
)

// DefaultDeadline is how long after issue a payment may still settle.
const DefaultDeadline = 96 * time.Hour

// spendWindow is the trailing window for the payer's daily limit.
const spendWindow = 24 * time.Hour

// Service settles synced offline payments.
type Service struct {
	repo     Repository
	gateway  Gateway
	sink     RejectionSink
	limits   policy.Limits
	clock    clock.Clock
	ids      payment.IDGenerator
	logger   *slog.Logger
	deadline time.Duration

	// mu serializes settlement so the idempotency lookups and the final
	// write cannot interleave within one process.
	mu sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithGateway sets the money rail. Defaults to NoopGateway.
func WithGateway(g Gateway) Option {
	return func(s *Service) { s.gateway = g }
}

// WithRejectionSink sets where rejections are published.
func WithRejectionSink(sink RejectionSink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithLimits overrides the default policy limits.
func WithLimits(l policy.Limits) Option {
	return func(s *Service) { s.limits = l }
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithIDs sets the ledger transaction id generator.
func WithIDs(g payment.IDGenerator) Option {
	return func(s *Service) { s.ids = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithDeadline sets the sync deadline.
func WithDeadline(d time.Duration) Option {
	return func(s *Service) { s.deadline = d }
}

// New creates a service over repo.
func New(repo Repository, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("ledger: repository is required")
	}
	s := &Service{
		repo:     repo,
		limits:   policy.DefaultLimits(),
		clock:    clock.System{},
		ids:      payment.UUIDv7{},
		logger:   slog.Default(),
		deadline: DefaultDeadline,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.gateway == nil {
		s.gateway = NoopGateway{Logger: s.logger}
	}
	if err := s.limits.Validate(); err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	return s, nil
}

// Repository returns the underlying record store.
func (s *Service) Repository() Repository {
	return s.repo
}

// Sync settles each payload independently. The returned outcomes align with
// payloads by position. The error is reserved for a cancelled context.
func (s *Service) Sync(ctx context.Context, payloads []payment.SyncPayload) ([]payment.SyncOutcome, error) {
	out := make([]payment.SyncOutcome, len(payloads))
	for i, p := range payloads {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = s.settle(ctx, p)
	}
	return out, nil
}

func (s *Service) settle(ctx context.Context, p payment.SyncPayload) payment.SyncOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logger.With("nonce", p.Nonce)
	if err := p.Validate(); err != nil {
		return s.reject(ctx, Rejection{Nonce: p.Nonce, Reason: ReasonMalformed}, nil)
	}

	rcpt, err := handshake.DecodeReceipt(p.QRPayload)
	if err == nil {
		err = handshake.VerifyReceipt(rcpt, nil)
	}
	if err != nil {
		reason := string(handshake.ReasonOf(err))
		if reason == "" {
			reason = ReasonMalformed
		}
		log.Warn("receipt refused", "error", err)
		return s.reject(ctx, Rejection{Nonce: p.Nonce, Reason: reason}, nil)
	}

	req := rcpt.OriginalRequest
	rec := Record{
		ClientTxID:   handshake.ClientTxID(req),
		RequestNonce: req.Nonce,
		PayerNonce:   rcpt.PayerNonce,
		PayerAddress: rcpt.PayerAddress,
		PayeeAddress: rcpt.PayeeAddress,
		Amount:       rcpt.Amount,
		Currency:     rcpt.Currency,
		Intent:       rcpt.Intent,
		Mode:         payment.ModeOffline,
		Proof:        p.QRPayload,
		IssuedAt:     clock.FromMillis(req.IssuedAt),
	}
	rej := Rejection{
		ClientTxID:   rec.ClientTxID,
		Nonce:        p.Nonce,
		PayerAddress: rec.PayerAddress,
		PayeeAddress: rec.PayeeAddress,
		Amount:       rec.Amount,
	}
	log = log.With("client_tx_id", rec.ClientTxID)

	if !ownsPayload(rcpt, p) {
		rej.Reason = ReasonPayloadMismatch
		return s.reject(ctx, rej, nil)
	}

	existing, err := s.repo.ByClientTxID(ctx, rec.ClientTxID)
	switch {
	case err == nil:
		switch existing.Status {
		case StatusSettled:
			log.Debug("already settled", "tx_id", existing.TxID)
			return settledOutcome(existing.TxID)
		case StatusRejected:
			return payment.SyncOutcome{Status: payment.OutcomeRejected, Reason: existing.Reason}
		}
		rec.TxID = existing.TxID
	case errors.Is(err, ErrNotFound):
		rec.TxID = s.ids.NewID()
	default:
		log.Error("ledger lookup failed", "error", err)
		return failedOutcome(ReasonStorage)
	}

	for _, n := range []string{req.Nonce, rcpt.PayerNonce} {
		other, err := s.repo.ByNonce(ctx, n)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			log.Error("nonce lookup failed", "error", err)
			return failedOutcome(ReasonStorage)
		}
		if other.ClientTxID != rec.ClientTxID {
			log.Warn("nonce replayed", "other_client_tx_id", other.ClientTxID)
			rej.Reason = ReasonDuplicateNonce
			return s.reject(ctx, rej, nil)
		}
	}

	now := s.clock.Now()
	if now.After(rec.IssuedAt.Add(s.deadline)) {
		rej.Reason = payment.ReasonExpired
		return s.reject(ctx, rej, &rec)
	}

	// Only payments issued in the day before this one count, whatever
	// order they sync in.
	spent, err := s.repo.SpentBetween(ctx, rec.PayerAddress, rec.IssuedAt.Add(-spendWindow), rec.IssuedAt)
	if err != nil {
		log.Error("spend lookup failed", "error", err)
		return failedOutcome(ReasonStorage)
	}
	if d := s.limits.ValidateSettlement(rec.Amount, spent); !d.Allowed {
		rej.Reason = string(d.Violation.Reason)
		return s.reject(ctx, rej, &rec)
	}

	if err := s.gateway.Transfer(ctx, Transfer{
		ClientTxID: rec.ClientTxID,
		TxID:       rec.TxID,
		From:       rec.PayerAddress,
		To:         rec.PayeeAddress,
		Amount:     rec.Amount,
		Currency:   rec.Currency,
		Intent:     rec.Intent,
		IssuedAt:   rec.IssuedAt,
	}); err != nil {
		log.Warn("gateway transfer failed", "error", err)
		return failedOutcome(ReasonGateway)
	}

	rec.Status = StatusSettled
	rec.SyncedAt = &now
	rec.SettledAt = &now
	stored, err := s.repo.Save(ctx, rec)
	if err != nil {
		log.Error("settlement not recorded", "error", err)
		return failedOutcome(ReasonStorage)
	}
	log.Info("payment settled", "tx_id", stored.TxID, "amount", stored.Amount)
	return settledOutcome(stored.TxID)
}

// reject publishes r and, for a verified receipt, records it.
func (s *Service) reject(ctx context.Context, r Rejection, rec *Record) payment.SyncOutcome {
	r.At = s.clock.Now()
	if rec != nil {
		rec.Status = StatusRejected
		rec.Reason = r.Reason
		rec.SyncedAt = &r.At
		if _, err := s.repo.Save(ctx, *rec); err != nil {
			s.logger.Error("rejection not recorded", "client_tx_id", rec.ClientTxID, "error", err)
		}
	}
	if s.sink != nil {
		if err := s.sink.Publish(ctx, r); err != nil {
			s.logger.Warn("rejection not published", "nonce", r.Nonce, "error", err)
		}
	}
	s.logger.Info("payment rejected", "nonce", r.Nonce, "reason", r.Reason)
	return payment.SyncOutcome{Status: payment.OutcomeRejected, Reason: r.Reason}
}

// RecordOfflineAccept stores an early acceptance as a pending record.
// Repeated calls for one client_tx_id return the stored record.
func (s *Service) RecordOfflineAccept(ctx context.Context, req payment.OfflineAccept) (payment.OfflineAcceptResult, error) {
	if err := req.Validate(); err != nil {
		return payment.OfflineAcceptResult{}, err
	}
	if req.Proof == "" {
		return payment.OfflineAcceptResult{}, payment.Errorf(payment.KindValidation, "proof is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.repo.ByClientTxID(ctx, req.ClientTxID)
	if err == nil {
		return acceptResult(existing), nil
	}
	if !errors.Is(err, ErrNotFound) {
		return payment.OfflineAcceptResult{}, fmt.Errorf("record offline accept: %w", err)
	}

	rcpt, err := handshake.DecodeReceipt(req.Proof)
	if err == nil {
		err = handshake.VerifyReceipt(rcpt, nil)
	}
	if err != nil {
		return payment.OfflineAcceptResult{}, err
	}
	orig := rcpt.OriginalRequest
	if handshake.ClientTxID(orig) != req.ClientTxID ||
		orig.Nonce != req.Nonce ||
		rcpt.Amount != req.Amount ||
		rcpt.PayerAddress != req.SenderAddress ||
		rcpt.PayeeAddress != req.ReceiverAddress {
		return payment.OfflineAcceptResult{}, payment.Errorf(payment.KindValidation, "offline accept does not match its proof")
	}

	stored, err := s.repo.Save(ctx, Record{
		TxID:         s.ids.NewID(),
		ClientTxID:   req.ClientTxID,
		RequestNonce: orig.Nonce,
		PayerNonce:   rcpt.PayerNonce,
		PayerAddress: rcpt.PayerAddress,
		PayeeAddress: rcpt.PayeeAddress,
		Amount:       rcpt.Amount,
		Currency:     rcpt.Currency,
		Intent:       rcpt.Intent,
		Mode:         payment.ModeOffline,
		Status:       StatusPending,
		Proof:        req.Proof,
		IssuedAt:     clock.FromMillis(orig.IssuedAt),
	})
	if err != nil {
		return payment.OfflineAcceptResult{}, fmt.Errorf("record offline accept: %w", err)
	}
	s.logger.Info("offline accept recorded", "client_tx_id", stored.ClientTxID, "tx_id", stored.TxID,
		"sender_device", req.SenderDeviceID, "receiver_device", req.ReceiverDeviceID)
	return acceptResult(stored), nil
}

func acceptResult(r Record) payment.OfflineAcceptResult {
	return payment.OfflineAcceptResult{
		Success:    r.Status != StatusRejected,
		Status:     string(r.Status),
		ClientTxID: r.ClientTxID,
		TxID:       r.TxID,
	}
}

// ownsPayload reports whether p is the payer's or the payee's side of rcpt.
func ownsPayload(rcpt handshake.Receipt, p payment.SyncPayload) bool {
	req := rcpt.OriginalRequest
	payer := p.Nonce == rcpt.PayerNonce && p.Signature == rcpt.Signature && p.PublicKey == rcpt.PayerPublicKey
	payee := p.Nonce == req.Nonce && p.Signature == rcpt.PayeeSignature && p.PublicKey == req.PayeePublicKey
	return payer || payee
}

func settledOutcome(txID string) payment.SyncOutcome {
	return payment.SyncOutcome{TxID: &txID, Status: payment.OutcomeSettled}
}

func failedOutcome(reason string) payment.SyncOutcome {
	return payment.SyncOutcome{Status: payment.OutcomeFailed, Reason: reason}
}
