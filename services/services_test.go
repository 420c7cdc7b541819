package services

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rithikrice/bondMatchPlus/core/engine"
	"github.com/rithikrice/bondMatchPlus/core/ledger"
	"github.com/rithikrice/bondMatchPlus/models"
)

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	svc := NewParticipantService(NewMemoryParticipants(), "secret", time.Hour, nil)

	p, err := svc.Register(ctx, "alice", "Alice Bond", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, models.RoleParticipant, p.Role)
	assert.NotEqual(t, "hunter22", p.PasswordHash)

	_, err = svc.Register(ctx, "alice", "Other", "password1")
	assert.ErrorIs(t, err, ErrUsernameTaken)
	_, err = svc.Register(ctx, "bob", "Bob", "short")
	assert.ErrorIs(t, err, ErrInvalidInput)

	token, who, err := svc.Login(ctx, "alice", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, p.ID, who.ID)

	parsed, err := jwt.Parse(token, func(*jwt.Token) (interface{}, error) { return []byte("secret"), nil })
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, p.ID, claims["participantId"])
	assert.Equal(t, models.RoleParticipant, claims["role"])

	_, _, err = svc.Login(ctx, "alice", "wrong-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = svc.Login(ctx, "nobody", "hunter22")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestEnsureAdminIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryParticipants()
	svc := NewParticipantService(repo, "secret", time.Hour, nil)

	require.NoError(t, svc.EnsureAdmin(ctx, "ops", "admin-pass"))
	require.NoError(t, svc.EnsureAdmin(ctx, "ops", "admin-pass"))
	require.NoError(t, svc.EnsureAdmin(ctx, "", ""))

	admin, err := repo.ByUsername(ctx, "ops")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, admin.Role)
}

func newAuctionService(t *testing.T) *AuctionService {
	t.Helper()
	e := engine.New(ledger.NewMemoryStore())
	return NewAuctionService(e, engine.NewScheduler(e, nil, "@every 1h"), nil)
}

func futureSpec() models.AuctionSpec {
	now := time.Now()
	return models.AuctionSpec{
		InstrumentID: "IN0020230085",
		Notional:     100,
		MinSize:      1,
		StartsAt:     now.Add(time.Hour),
		EndsAt:       now.Add(2 * time.Hour),
	}
}

func TestCreateArmsBothTransitions(t *testing.T) {
	svc := newAuctionService(t)
	_, err := svc.Create(context.Background(), futureSpec(), "ops")
	require.NoError(t, err)

	st, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, 1, st.Auctions[models.StatusUpcoming])
	assert.Equal(t, 2, st.ArmedTransitions)
}

func TestTransitionToCurrentStateIsNoop(t *testing.T) {
	ctx := context.Background()
	svc := newAuctionService(t)
	a, err := svc.Create(ctx, futureSpec(), "ops")
	require.NoError(t, err)

	got, changed, err := svc.Transition(ctx, a.ID, models.StatusLive, "ops")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.StatusLive, got.Status)

	got, changed, err = svc.Transition(ctx, a.ID, models.StatusLive, "ops")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, models.StatusLive, got.Status)

	_, _, err = svc.Transition(ctx, a.ID, models.StatusUpcoming, "ops")
	assert.True(t, engine.IsKind(err, engine.KindState))
}

func TestParticipantsOnlySeeOwnQuotes(t *testing.T) {
	ctx := context.Background()
	svc := newAuctionService(t)
	a, err := svc.Create(ctx, futureSpec(), "ops")
	require.NoError(t, err)
	_, _, err = svc.Transition(ctx, a.ID, models.StatusLive, "ops")
	require.NoError(t, err)

	price := decimal.NewFromInt(100)
	for _, who := range []string{"alice", "bob", "alice"} {
		_, err := svc.Submit(ctx, engine.SubmitRequest{
			AuctionID: a.ID, ParticipantID: who, Side: models.SideBuy, Quantity: 10, Price: &price,
		})
		require.NoError(t, err)
	}

	mine, err := svc.Quotes(ctx, a.ID, engine.QuoteFilter{ParticipantID: "bob"}, engine.Actor{ID: "alice"})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	all, err := svc.Quotes(ctx, a.ID, engine.QuoteFilter{}, engine.Actor{ID: "ops", Admin: true})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
