package relay_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomrelay/internal/relay"
)

func TestMembership_QueryAndNotify(t *testing.T) {
	r, _ := newTestRelay(t, time.Second)
	members := make([]*fakeConn, 3)
	for i := range members {
		members[i] = newFakeConn(fmt.Sprintf("c%d", i))
		r.Lifecycle.Connect(members[i], roomDoc("room-1"))
	}
	bystander := newFakeConn("other")
	r.Lifecycle.Connect(bystander, roomDoc("room-2"))

	count := r.Membership.QueryAndNotify("room-1")

	assert.Equal(t, 3, count)
	for _, m := range members {
		pushes := m.frames(relay.EventUpdateCount)
		require.Len(t, pushes, 1, m.ID())
		assert.Equal(t, "3", pushes[0].data)
	}
	assert.Empty(t, bystander.frames(relay.EventUpdateCount))
}

func TestMembership_EmptyRoomReportsRawCount(t *testing.T) {
	r, _ := newTestRelay(t, time.Second)

	assert.Equal(t, 0, r.Membership.QueryAndNotify("room-empty"))
}

func TestPushedCount(t *testing.T) {
	tests := []struct {
		count int
		want  int
	}{
		{count: 0, want: 1},
		{count: 1, want: 1},
		{count: 3, want: 3},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("count=%d", tt.count), func(t *testing.T) {
			assert.Equal(t, tt.want, relay.PushedCount(tt.count))
		})
	}
}
