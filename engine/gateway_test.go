package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"casedraft-backend/engine"
	"casedraft-backend/engine/mocks"
	"casedraft-backend/models"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
)

// =============================================================================
// Gateway Test Suite
// =============================================================================
// Retry, timeout and validation policy of Gateway.Consult over a mocked engine.

type GatewaySuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	engine  *mocks.MockEngine
	gateway *engine.Gateway
}

func TestGatewaySuite(t *testing.T) {
	suite.Run(t, new(GatewaySuite))
}

func (s *GatewaySuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.engine = mocks.NewMockEngine(s.ctrl)
	s.gateway = engine.NewGateway(s.engine, engine.WithConfig(engine.Config{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		CallTimeout:    50 * time.Millisecond,
	}))
}

func (s *GatewaySuite) TearDownTest() {
	s.ctrl.Finish()
}

func reasoningRequest() engine.Request {
	return engine.Request{
		Kind:      engine.KindReasoning,
		Reasoning: &engine.ReasoningPayload{Snapshot: engine.Snapshot{Facts: map[string]string{"a": "b"}}},
	}
}

func draftingRequest() engine.Request {
	return engine.Request{
		Kind: engine.KindDrafting,
		Drafting: &engine.DraftingPayload{
			Plan: models.Plan{Version: 1, Steps: []models.PlanStep{{Title: "Plângere"}}},
		},
	}
}

func planReady() *engine.Result {
	return &engine.Result{Verdict: &models.Verdict{
		Kind:  models.VerdictPlanReady,
		Steps: []models.PlanStep{{Title: "Plângere contravențională"}},
	}}
}

func (s *GatewaySuite) TestSuccessOnFirstAttempt() {
	s.engine.EXPECT().Call(gomock.Any(), gomock.Any()).Return(planReady(), nil).Times(1)

	res, err := s.gateway.Consult(context.Background(), reasoningRequest())
	s.Require().NoError(err)
	s.Equal(engine.KindReasoning, res.Kind)
	s.Equal(models.VerdictPlanReady, res.Verdict.Kind)
}

func (s *GatewaySuite) TestTransientFailuresAreRetried() {
	doc := &engine.Result{Document: &engine.Document{Title: "Plângere", Markdown: "# Plângere"}}
	gomock.InOrder(
		s.engine.EXPECT().Call(gomock.Any(), gomock.Any()).Return(nil, engine.Unavailable(errors.New("503"))),
		s.engine.EXPECT().Call(gomock.Any(), gomock.Any()).Return(nil, errors.New("connection reset")),
		s.engine.EXPECT().Call(gomock.Any(), gomock.Any()).Return(doc, nil),
	)

	res, err := s.gateway.Consult(context.Background(), draftingRequest())
	s.Require().NoError(err)
	s.Equal("# Plângere", res.Document.Markdown)
}

func (s *GatewaySuite) TestExhaustedRetriesReportUnavailable() {
	s.engine.EXPECT().Call(gomock.Any(), gomock.Any()).Return(nil, engine.Unavailable(errors.New("503"))).Times(3)

	_, err := s.gateway.Consult(context.Background(), reasoningRequest())
	s.Require().Error(err)
	s.ErrorIs(err, engine.ErrUnavailable)

	var engErr *engine.Error
	s.Require().ErrorAs(err, &engErr)
	s.Equal(3, engErr.Attempts)
	s.Equal(engine.KindReasoning, engErr.Kind)
	s.Equal(engine.CodeUnavailable, engErr.Code)
}

func (s *GatewaySuite) TestRejectedIsNeverRetried() {
	s.engine.EXPECT().Call(gomock.Any(), gomock.Any()).Return(nil, engine.Rejected(errors.New("400 bad request"))).Times(1)

	_, err := s.gateway.Consult(context.Background(), reasoningRequest())
	s.ErrorIs(err, engine.ErrRejected)
	s.NotErrorIs(err, engine.ErrUnavailable)

	var engErr *engine.Error
	s.Require().ErrorAs(err, &engErr)
	s.Equal(1, engErr.Attempts)
}

func (s *GatewaySuite) TestPerAttemptTimeout() {
	s.engine.EXPECT().Call(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ engine.Request) (*engine.Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}).Times(3)

	_, err := s.gateway.Consult(context.Background(), reasoningRequest())
	s.ErrorIs(err, engine.ErrTimeout)
}

func (s *GatewaySuite) TestEmptyResponsesAreNotSuccess() {
	gomock.InOrder(
		s.engine.EXPECT().Call(gomock.Any(), gomock.Any()).Return(nil, nil),
		s.engine.EXPECT().Call(gomock.Any(), gomock.Any()).Return(&engine.Result{}, nil),
		s.engine.EXPECT().Call(gomock.Any(), gomock.Any()).Return(&engine.Result{
			Verdict: &models.Verdict{Kind: models.VerdictNeedMoreInfo},
		}, nil),
	)

	_, err := s.gateway.Consult(context.Background(), reasoningRequest())
	s.ErrorIs(err, engine.ErrUnavailable)
}

func (s *GatewaySuite) TestBlankDraftIsRetried() {
	gomock.InOrder(
		s.engine.EXPECT().Call(gomock.Any(), gomock.Any()).Return(&engine.Result{Document: &engine.Document{Markdown: "  \n"}}, nil),
		s.engine.EXPECT().Call(gomock.Any(), gomock.Any()).Return(&engine.Result{Document: &engine.Document{Markdown: "# Cerere"}}, nil),
	)

	res, err := s.gateway.Consult(context.Background(), draftingRequest())
	s.Require().NoError(err)
	s.Equal(engine.KindDrafting, res.Kind)
}

func (s *GatewaySuite) TestMalformedRequestIsRejectedWithoutCalling() {
	_, err := s.gateway.Consult(context.Background(), engine.Request{Kind: engine.KindDrafting})
	s.ErrorIs(err, engine.ErrRejected)

	_, err = s.gateway.Consult(context.Background(), engine.Request{Kind: "summarize"})
	s.ErrorIs(err, engine.ErrRejected)
}

func (s *GatewaySuite) TestCancelledContextStopsRetries() {
	ctx, cancel := context.WithCancel(context.Background())
	s.engine.EXPECT().Call(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, engine.Request) (*engine.Result, error) {
			cancel()
			return nil, engine.Unavailable(errors.New("503"))
		}).Times(1)

	_, err := s.gateway.Consult(ctx, reasoningRequest())
	s.Require().Error(err)

	var engErr *engine.Error
	s.Require().ErrorAs(err, &engErr)
	s.Equal(1, engErr.Attempts)
}
