package notifier_test

import (
	"context"
	"errors"
	"testing"

	"casedraft-backend/notifier"
	"casedraft-backend/notifier/mocks"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestNotifier_Delivers(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := mocks.NewMockSender(ctrl)
	n := notifier.New(sender)
	userID := uuid.New()

	sender.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, event notifier.Event) error {
			assert.Equal(t, userID, event.UserID)
			assert.Equal(t, notifier.KindDraftReady, event.Kind)
			assert.Equal(t, "abc", event.Payload["draft_id"])
			assert.NotEqual(t, uuid.Nil, event.ID)
			assert.False(t, event.OccurredAt.IsZero())
			return nil
		})

	err := n.Notify(context.Background(), userID, notifier.KindDraftReady, map[string]any{"draft_id": "abc"})
	require.NoError(t, err)
}

func TestNotifier_FailureIsTyped(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := mocks.NewMockSender(ctrl)
	n := notifier.New(sender)
	cause := errors.New("broker down")

	sender.EXPECT().Send(gomock.Any(), gomock.Any()).Return(cause)

	err := n.Notify(context.Background(), uuid.New(), notifier.KindQuestions, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, notifier.ErrDelivery)
	assert.ErrorIs(t, err, cause)

	var delivery *notifier.DeliveryError
	require.ErrorAs(t, err, &delivery)
	assert.Equal(t, notifier.KindQuestions, delivery.Kind)
}

func TestLogSender(t *testing.T) {
	n := notifier.New(notifier.NewLogSender(nil))
	assert.NoError(t, n.Notify(context.Background(), uuid.New(), notifier.KindClosed, map[string]any{"case_id": "x"}))
}
