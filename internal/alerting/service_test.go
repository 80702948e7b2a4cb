package alerting

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatch/internal/chains"
	"pricewatch/internal/storage"
	"pricewatch/internal/tracker"
)

type fakeTokenSource struct {
	havePrices map[string]bool
	created    []string
}

func (f *fakeTokenSource) GetLatestPrice(_ context.Context, _, address string) (storage.PriceObservation, error) {
	if f.havePrices[address] {
		return storage.PriceObservation{USDPrice: decimal.NewFromInt(1)}, nil
	}
	return storage.PriceObservation{}, tracker.ErrNoPriceData
}

func (f *fakeTokenSource) CreateToken(_ context.Context, _, address string) (storage.Token, error) {
	f.created = append(f.created, address)
	return storage.Token{Address: address}, nil
}

func validRequest() CreateAlertRequest {
	return CreateAlertRequest{
		Chain:        testChain,
		TokenAddress: strings.ToLower(wethAddr),
		TargetPrice:  decimal.NewFromInt(5000),
		Condition:    storage.ConditionAbove,
		UserEmail:    "user@example.com",
	}
}

func TestCreateUserAlertRegistersUnknownToken(t *testing.T) {
	alerts := &fakeAlertStore{}
	tokens := &fakeTokenSource{havePrices: map[string]bool{}}
	svc := NewService(evaluatorConfig(true), alerts, tokens, testRegistry(), zerolog.Nop())

	alert, err := svc.CreateUserAlert(context.Background(), validRequest())
	require.NoError(t, err)

	// Address is checksum-normalized on the way in.
	assert.Equal(t, wethAddr, alert.TokenAddress)
	assert.True(t, alert.Active)
	assert.Equal(t, []string{wethAddr}, tokens.created)
}

func TestCreateUserAlertSkipsRegistrationForKnownToken(t *testing.T) {
	alerts := &fakeAlertStore{}
	tokens := &fakeTokenSource{havePrices: map[string]bool{wethAddr: true}}
	svc := NewService(evaluatorConfig(true), alerts, tokens, testRegistry(), zerolog.Nop())

	_, err := svc.CreateUserAlert(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Empty(t, tokens.created)
}

func TestCreateUserAlertEnforcesPerUserLimit(t *testing.T) {
	alerts := &fakeAlertStore{countByMail: map[string]int64{"user@example.com": 10}}
	tokens := &fakeTokenSource{havePrices: map[string]bool{wethAddr: true}}
	svc := NewService(evaluatorConfig(true), alerts, tokens, testRegistry(), zerolog.Nop())

	_, err := svc.CreateUserAlert(context.Background(), validRequest())
	assert.ErrorIs(t, err, ErrAlertLimitReached)
}

func TestCreateUserAlertValidation(t *testing.T) {
	alerts := &fakeAlertStore{}
	tokens := &fakeTokenSource{havePrices: map[string]bool{wethAddr: true}}
	svc := NewService(evaluatorConfig(true), alerts, tokens, testRegistry(), zerolog.Nop())

	req := validRequest()
	req.Condition = "sideways"
	_, err := svc.CreateUserAlert(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidAlert)

	req = validRequest()
	req.TargetPrice = decimal.Zero
	_, err = svc.CreateUserAlert(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidAlert)

	req = validRequest()
	req.UserEmail = ""
	_, err = svc.CreateUserAlert(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidAlert)

	req = validRequest()
	req.Chain = "solana"
	_, err = svc.CreateUserAlert(context.Background(), req)
	assert.ErrorIs(t, err, chains.ErrUnsupportedChain)

	req = validRequest()
	req.TokenAddress = "0x123"
	_, err = svc.CreateUserAlert(context.Background(), req)
	assert.ErrorIs(t, err, chains.ErrInvalidAddress)
}

func TestDeactivateAlertClaimsOnce(t *testing.T) {
	alerts := &fakeAlertStore{}
	alert, err := alerts.CreateUserAlert(context.Background(), storage.UserPriceAlert{UserEmail: "user@example.com"})
	require.NoError(t, err)

	tokens := &fakeTokenSource{}
	svc := NewService(evaluatorConfig(true), alerts, tokens, testRegistry(), zerolog.Nop())

	claimed, err := svc.DeactivateAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = svc.DeactivateAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.False(t, claimed)
}
