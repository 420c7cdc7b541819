package engine

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/rithikrice/bondMatchPlus/core/ledger"
	"github.com/rithikrice/bondMatchPlus/metrics"
	"github.com/rithikrice/bondMatchPlus/models"
)

const DigestAlgorithm = "blake2b-256-merkle"

const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

type quoteLeaf struct {
	ID            string `json:"id"`
	AuctionID     string `json:"auction_id"`
	ParticipantID string `json:"participant_id"`
	Side          string `json:"side"`
	Quantity      int64  `json:"quantity"`
	Price         string `json:"price"`
	Seq           uint64 `json:"seq"`
	Status        string `json:"status"`
	Filled        int64  `json:"filled"`
	SubmittedAt   int64  `json:"submitted_at"`
}

type clearingLeaf struct {
	AuctionID       string   `json:"auction_id"`
	Price           string   `json:"price"`
	MatchedQuantity int64    `json:"matched_quantity"`
	Fills           []string `json:"fills"`
	ComputedAt      int64    `json:"computed_at"`
}

// Digest returns the hex Merkle root over the quotes (in seq order) followed
// by the clearing result, and the number of leaves. Times are taken at
// microsecond precision so a value read back from storage hashes the same.
func Digest(quotes []models.QuoteRequest, result models.ClearingResult) (string, int, error) {
	leaves := make([][]byte, 0, len(quotes)+1)
	for _, q := range quotes {
		b, err := json.Marshal(quoteLeaf{
			ID:            q.ID,
			AuctionID:     q.AuctionID,
			ParticipantID: q.ParticipantID,
			Side:          string(q.Side),
			Quantity:      q.Quantity,
			Price:         decText(q.Price),
			Seq:           q.Seq,
			Status:        string(q.Status),
			Filled:        q.Filled,
			SubmittedAt:   q.SubmittedAt.UnixMicro(),
		})
		if err != nil {
			return "", 0, fmt.Errorf("failed to encode quote %s: %w", q.ID, err)
		}
		leaves = append(leaves, b)
	}

	fills := make([]string, len(result.Fills))
	for i, f := range result.Fills {
		fills[i] = fmt.Sprintf("%d:%s:%s:%d", f.Seq, f.RequestID, f.Side, f.Quantity)
	}
	b, err := json.Marshal(clearingLeaf{
		AuctionID:       result.AuctionID,
		Price:           decText(result.Price),
		MatchedQuantity: result.MatchedQuantity,
		Fills:           fills,
		ComputedAt:      result.ComputedAt.UnixMicro(),
	})
	if err != nil {
		return "", 0, fmt.Errorf("failed to encode clearing result: %w", err)
	}
	leaves = append(leaves, b)

	root := merkleRoot(leaves)
	return hex.EncodeToString(root[:]), len(leaves), nil
}

func merkleRoot(leaves [][]byte) [blake2b.Size256]byte {
	level := make([][blake2b.Size256]byte, len(leaves))
	for i, l := range leaves {
		level[i] = blake2b.Sum256(append([]byte{leafPrefix}, l...))
	}
	if len(level) == 0 {
		return blake2b.Sum256([]byte{leafPrefix})
	}

	for len(level) > 1 {
		next := make([][blake2b.Size256]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			buf := make([]byte, 0, 1+2*blake2b.Size256)
			buf = append(buf, nodePrefix)
			buf = append(buf, level[i][:]...)
			buf = append(buf, level[i+1][:]...)
			next = append(next, blake2b.Sum256(buf))
		}
		level = next
	}
	return level[0]
}

func decText(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

// Seal returns the audit record of a closed auction, computing and storing
// one if the close commit did not leave it behind.
func (e *Engine) Seal(ctx context.Context, auctionID string) (models.AuditRecord, error) {
	var rec models.AuditRecord
	err := e.with(ctx, auctionID, func(b *book) error {
		if b.audit != nil {
			rec = *b.audit
			return nil
		}
		if b.auction.Status != models.StatusClosed {
			return newError(KindState, ReasonAuctionNotLive, "auction %s is %s, only closed auctions are sealed", auctionID, b.auction.Status)
		}
		if b.clearing == nil {
			return newError(KindIntegrity, ReasonDigestMismatch, "auction %s is closed without a clearing result", auctionID)
		}

		digest, n, err := Digest(b.quotes, *b.clearing)
		if err != nil {
			return err
		}
		now := e.now()
		fresh := models.AuditRecord{
			AuctionID: auctionID,
			Digest:    digest,
			Algorithm: DigestAlgorithm,
			LeafCount: n,
			SealedAt:  now,
		}
		ev := b.event(models.EventAuditSealed, "system", auctionID, map[string]string{"digest": digest}, now)

		sctx, cancel := e.storeCtx(ctx)
		defer cancel()
		if err := e.store.SealAudit(sctx, fresh, ev); err != nil {
			return e.storeErr(b, err)
		}
		b.audit = &fresh
		b.eventSeq = ev.Seq
		rec = fresh
		return nil
	})
	return rec, err
}

// Verify recomputes the digest from what the store holds now and compares it
// with the sealed record. A mismatch halts reliance on the clearing result.
func (e *Engine) Verify(ctx context.Context, auctionID string) (models.AuditVerification, error) {
	if _, err := e.Seal(ctx, auctionID); err != nil {
		return models.AuditVerification{}, err
	}

	var out models.AuditVerification
	err := e.with(ctx, auctionID, func(b *book) error {
		sctx, cancel := e.storeCtx(ctx)
		defer cancel()

		sealed, err := e.store.GetAudit(sctx, auctionID)
		if err != nil {
			return e.storeErr(b, err)
		}
		out = models.AuditVerification{AuctionID: auctionID, Expected: sealed.Digest}

		quotes, err := e.store.ListQuotes(sctx, auctionID)
		if err != nil {
			return e.storeErr(b, err)
		}
		result, err := e.store.GetClearing(sctx, auctionID)
		if err != nil && !errors.Is(err, ledger.ErrNotFound) {
			return e.storeErr(b, err)
		}
		actual, _, err := Digest(quotes, result)
		if err != nil {
			return err
		}
		out.Actual = actual
		out.Match = actual == sealed.Digest

		if out.Match {
			metrics.AuditVerifications.WithLabelValues("match").Inc()
			return nil
		}
		metrics.AuditVerifications.WithLabelValues("mismatch").Inc()
		e.log.Error("🚨 audit digest mismatch",
			zap.String("auction_id", auctionID),
			zap.String("expected", out.Expected),
			zap.String("actual", out.Actual))

		if !b.halted {
			now := e.now()
			ev := b.event(models.EventAuditMismatch, "system", auctionID, map[string]string{
				"expected": out.Expected,
				"actual":   out.Actual,
			}, now)
			if err := e.store.AppendEvent(sctx, ev); err != nil {
				e.log.Error("failed to record audit mismatch", zap.String("auction_id", auctionID), zap.Error(err))
			} else {
				b.eventSeq = ev.Seq
			}
			b.halted = true
			e.publish(b, models.DeltaIntegrityAlert, now, nil, nil)
		}
		return newError(KindIntegrity, ReasonDigestMismatch, "auction %s digest %s does not match sealed %s", auctionID, out.Actual, out.Expected)
	})
	return out, err
}
