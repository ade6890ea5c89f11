package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-lti-provider/pkg/lti"
	"github.com/mind-engage/mindengage-lti-provider/pkg/storage/memory"
	"github.com/mind-engage/mindengage-lti-provider/pkg/storage/storetest"
)

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T, clock *storetest.Clock) lti.Store {
		s := memory.New()
		s.Now = clock.Now
		return s
	})
}

func TestStore_CopiesRecords(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	l := lti.NewResourceLink("ck1", "rl1")
	l.SetSetting("a", "1")
	require.NoError(t, s.SaveResourceLink(ctx, l))
	l.SetSetting("a", "2")

	got, err := s.LoadResourceLink(ctx, "ck1", "rl1")
	require.NoError(t, err)
	assert.Equal(t, "1", got.Setting("a", ""))

	got.SetSetting("a", "3")
	again, err := s.LoadResourceLink(ctx, "ck1", "rl1")
	require.NoError(t, err)
	assert.Equal(t, "1", again.Setting("a", ""))
}

func TestStore_DeleteMissingConsumer(t *testing.T) {
	err := memory.New().DeleteToolConsumer(context.Background(), "nope")
	assert.ErrorIs(t, err, lti.ErrNotFound)
}
