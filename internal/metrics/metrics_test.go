package metrics

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadowvault/core/internal/ledger"
	"github.com/shadowvault/core/internal/zkp"
)

type fixedVerifier struct{ err error }

func (v fixedVerifier) Verify(zkp.ProofKind, []byte, zkp.PublicInputs) error { return v.err }

func TestHandleEvent(t *testing.T) {
	m := New()
	ctx := context.Background()

	m.HandleEvent(ctx, &ledger.Event{Kind: ledger.EventShielded, CommitmentIndex: 0, Amount: 1000})
	m.HandleEvent(ctx, &ledger.Event{Kind: ledger.EventShielded, CommitmentIndex: 1, Amount: 1000})
	m.HandleEvent(ctx, &ledger.Event{Kind: ledger.EventUnshielded, NullifierIndex: 0, Amount: 1000, Fee: 5})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("shielded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("unshielded")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.treeSize.WithLabelValues("commitments")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.treeSize.WithLabelValues("nullifiers")))
	assert.Equal(t, 2000.0, testutil.ToFloat64(m.amounts.WithLabelValues("in")))
	assert.Equal(t, 995.0, testutil.ToFloat64(m.amounts.WithLabelValues("out")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.amounts.WithLabelValues("fee")))

	m.SetTreeSize(ledger.TreeCommitments, 40)
	assert.Equal(t, 40.0, testutil.ToFloat64(m.treeSize.WithLabelValues("commitments")))
}

func TestObserveFailure(t *testing.T) {
	m := New()

	m.ObserveFailure("shield", ledger.ErrInvalidDenomination)
	m.ObserveFailure("shield", fmt.Errorf("boom"))
	m.ObserveFailure("shield", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("shield", "validation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("shield", "internal")))
}

func TestWrapVerifier(t *testing.T) {
	m := New()

	for _, err := range []error{nil, zkp.ErrProofRejected, zkp.ErrProofTooShort} {
		v := m.WrapVerifier(fixedVerifier{err: err})
		assert.ErrorIs(t, v.Verify(zkp.ProofShield, nil, nil), err)
	}
	// one series per result
	assert.Equal(t, 3, testutil.CollectAndCount(m.verifications))
}

func TestHandler(t *testing.T) {
	m := New()
	m.HandleEvent(context.Background(), &ledger.Event{Kind: ledger.EventRevealed})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `shadowvault_ledger_events_total{kind="revealed"} 1`), body)
	assert.Contains(t, body, "go_goroutines")
}
