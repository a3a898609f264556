package sessionfsm

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/hpcfleet/cfs/internal/kvstore"
	"github.com/hpcfleet/cfs/pkg/cfsmodel"
)

type recordingPublisher struct {
	events []string
}

func (p *recordingPublisher) Publish(ctx context.Context, eventType string, session *cfsmodel.Session) {
	p.events = append(p.events, eventType)
}

func alwaysExists(ctx context.Context, name string) bool { return true }
func neverExists(ctx context.Context, name string) bool  { return false }

func newTestFSM(t *testing.T, configs ConfigurationExists, events EventPublisher, isV3 bool) *FSM {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := kvstore.NewRedisStore(client, "sessions", kvstore.Config{BusyBudget: 2 * time.Second, BatchSize: 10}, nil)
	return New(store, configs, events, isV3)
}

func TestCreateRejectsUnknownConfiguration(t *testing.T) {
	pub := &recordingPublisher{}
	f := newTestFSM(t, neverExists, pub, false)
	s := &cfsmodel.Session{Name: "sess1", Configuration: cfsmodel.SessionConfiguration{Name: "missing"}, Target: cfsmodel.SessionTarget{Definition: "repo"}}
	_, err := f.Create(context.Background(), s, "cfg.ini")
	require.Error(t, err)
	require.Empty(t, pub.events)
}

func TestCreateExemptsDebugSessionsOnV3(t *testing.T) {
	pub := &recordingPublisher{}
	f := newTestFSM(t, neverExists, pub, true)
	s := &cfsmodel.Session{Name: "debug_sess1", Configuration: cfsmodel.SessionConfiguration{Name: "missing"}, Target: cfsmodel.SessionTarget{Definition: "repo"}}
	saved, err := f.Create(context.Background(), s, "cfg.ini")
	require.NoError(t, err)
	require.Equal(t, "pending", saved.Status.Session.Status)
	require.Equal(t, []string{"CREATE"}, pub.events)
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	f := newTestFSM(t, alwaysExists, nil, false)
	s := &cfsmodel.Session{Name: "sess1", Target: cfsmodel.SessionTarget{Definition: "repo"}}
	_, err := f.Create(context.Background(), s, "")
	require.NoError(t, err)

	_, err = f.Create(context.Background(), &cfsmodel.Session{Name: "sess1", Target: cfsmodel.SessionTarget{Definition: "repo"}}, "")
	require.Error(t, err)
}

func TestCreateRejectsImageTargetWithNonUUIDMember(t *testing.T) {
	f := newTestFSM(t, alwaysExists, nil, false)
	s := &cfsmodel.Session{Name: "sess1", Target: cfsmodel.SessionTarget{
		Definition: "image",
		Groups:     []cfsmodel.SessionGroup{{Name: "g1", Members: []string{"not-a-uuid"}}},
	}}
	_, err := f.Create(context.Background(), s, "")
	require.Error(t, err)
}

func TestCreateAcceptsImageTargetWithUUIDMember(t *testing.T) {
	f := newTestFSM(t, alwaysExists, nil, false)
	s := &cfsmodel.Session{Name: "sess1", Target: cfsmodel.SessionTarget{
		Definition: "image",
		Groups:     []cfsmodel.SessionGroup{{Name: "g1", Members: []string{uuid.NewString()}}},
	}}
	_, err := f.Create(context.Background(), s, "")
	require.NoError(t, err)
}

func TestCreateRejectsDisallowedPassthroughFlag(t *testing.T) {
	f := newTestFSM(t, alwaysExists, nil, false)
	s := &cfsmodel.Session{
		Name:    "sess1",
		Target:  cfsmodel.SessionTarget{Definition: "repo"},
		Ansible: cfsmodel.SessionAnsible{Passthrough: map[string]interface{}{"become": true}},
	}
	_, err := f.Create(context.Background(), s, "")
	require.Error(t, err)
}

func TestPatchStatusMonotonicallyProgresses(t *testing.T) {
	f := newTestFSM(t, alwaysExists, nil, false)
	_, err := f.Create(context.Background(), &cfsmodel.Session{Name: "sess1", Target: cfsmodel.SessionTarget{Definition: "repo"}}, "")
	require.NoError(t, err)

	got, err := f.Patch(context.Background(), "sess1", map[string]interface{}{"status": "complete"}, nil)
	require.NoError(t, err)
	require.Equal(t, "complete", got.Status.Session.Status)

	// Regressing from complete to running must not move the status backwards.
	got, err = f.Patch(context.Background(), "sess1", map[string]interface{}{"status": "running"}, nil)
	require.NoError(t, err)
	require.Equal(t, "complete", got.Status.Session.Status)
}

func TestDeleteEmitsEvent(t *testing.T) {
	pub := &recordingPublisher{}
	f := newTestFSM(t, alwaysExists, pub, false)
	_, err := f.Create(context.Background(), &cfsmodel.Session{Name: "sess1", Target: cfsmodel.SessionTarget{Definition: "repo"}}, "")
	require.NoError(t, err)

	require.NoError(t, f.Delete(context.Background(), "sess1"))
	require.Equal(t, []string{"CREATE", "DELETE"}, pub.events)

	_, err = f.Get(context.Background(), "sess1")
	require.ErrorIs(t, err, kvstore.ErrNoEntry)
}
