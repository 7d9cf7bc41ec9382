package trigger

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/lineageq/internal/backoff"
	"github.com/cuongbtq/lineageq/internal/domain"
	"github.com/cuongbtq/lineageq/internal/eventbus"
	"github.com/cuongbtq/lineageq/internal/storage"
	"github.com/cuongbtq/lineageq/shared/database"
	"github.com/cuongbtq/lineageq/shared/logger"
)

const testSecret = "s3cret"

const pushBody = `{
	"ref": "refs/heads/feature/lineage",
	"repository": {"full_name": "acme/warehouse", "clone_url": "https://github.com/acme/warehouse.git"}
}`

type fixture struct {
	store   *storage.Storage
	bus     *eventbus.Bus
	sub     *eventbus.Subscription
	service *Service
}

func newFixture(t *testing.T, secret string) *fixture {
	t.Helper()

	log := logger.NewNop().Logger
	client, err := database.NewClient(&database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "queue.db"),
	}, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store := storage.New(client.GetDB(), storage.Options{Backoff: backoff.Default(), Logger: log})
	require.NoError(t, store.Migrate(context.Background()))

	bus := eventbus.New(eventbus.Options{Logger: log})
	sub := bus.Subscribe()
	t.Cleanup(func() { bus.Unsubscribe(sub) })

	return &fixture{
		store: store,
		bus:   bus,
		sub:   sub,
		service: NewService(&Config{
			Logger:        log,
			Store:         store,
			Bus:           bus,
			WebhookSecret: secret,
		}),
	}
}

func (f *fixture) next(t *testing.T) domain.Notification {
	t.Helper()
	select {
	case n := <-f.sub.C():
		return n
	case <-time.After(time.Second):
		t.Fatal("no notification published")
		return domain.Notification{}
	}
}

func (f *fixture) assertNoWrites(t *testing.T) {
	t.Helper()
	jobs, err := f.store.ListJobs(context.Background(), storage.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)

	events, err := f.store.ListEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, events)

	select {
	case n := <-f.sub.C():
		t.Fatalf("unexpected notification: %+v", n)
	default:
	}
}

func TestSignature(t *testing.T) {
	body := []byte(`{"hello":"world"}`)
	valid := Sign(testSecret, body)

	tests := []struct {
		name   string
		secret string
		header string
		want   bool
	}{
		{name: "valid", secret: testSecret, header: valid, want: true},
		{name: "wrong secret", secret: "other", header: valid, want: false},
		{name: "missing prefix", secret: testSecret, header: valid[len("sha256="):], want: false},
		{name: "not hex", secret: testSecret, header: "sha256=zz", want: false},
		{name: "empty header", secret: testSecret, header: "", want: false},
		{name: "no secret skips verification", secret: "", header: "", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifySignature(tt.secret, body, tt.header))
		})
	}

	assert.False(t, VerifySignature(testSecret, []byte(`{"hello":"tampered"}`), valid))
}

func TestBranchFromRef(t *testing.T) {
	assert.Equal(t, "main", BranchFromRef("refs/heads/main"))
	assert.Equal(t, "feature/x", BranchFromRef("refs/heads/feature/x"))
	assert.Equal(t, "v1.2.0", BranchFromRef("refs/tags/v1.2.0"))
	assert.Equal(t, "", BranchFromRef(""))
	assert.Equal(t, "develop", BranchFromRef("develop"))
}

func TestEnqueueIngest(t *testing.T) {
	f := newFixture(t, testSecret)
	ctx := context.Background()

	id, err := f.service.EnqueueIngest(ctx, domain.JobSpec{RepoPath: "/x", ConnName: "c", Priority: 5})
	require.NoError(t, err)

	n := f.next(t)
	assert.Equal(t, domain.NotificationJob, n.Type)
	assert.Equal(t, id, n.JobID)
	assert.Equal(t, domain.JobStatusQueued, n.Status)

	job, err := f.store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 5, job.Priority)
}

func TestEnqueueIngest_RejectsMissingSource(t *testing.T) {
	f := newFixture(t, testSecret)

	_, err := f.service.EnqueueIngest(context.Background(), domain.JobSpec{ConnName: "c"})
	require.ErrorIs(t, err, domain.ErrValidation)
	f.assertNoWrites(t)
}

func TestPublishEvent(t *testing.T) {
	f := newFixture(t, testSecret)

	ev, err := f.service.PublishEvent(context.Background(), "deploy", json.RawMessage(`{"env":"prod"}`))
	require.NoError(t, err)
	assert.Equal(t, domain.EventSourceAPI, ev.Source)

	n := f.next(t)
	assert.Equal(t, domain.NotificationEvent, n.Type)
	assert.Equal(t, "deploy", n.Key)
	assert.JSONEq(t, `{"env":"prod"}`, string(n.Payload))
}

func TestHandleGitHubWebhook(t *testing.T) {
	f := newFixture(t, testSecret)
	body := []byte(pushBody)

	result, err := f.service.HandleGitHubWebhook(context.Background(), WebhookRequest{
		Body:      body,
		Signature: Sign(testSecret, body),
		EventName: "push",
	})
	require.NoError(t, err)

	assert.Equal(t, "push", result.Event.Key)
	assert.Equal(t, domain.EventSourceGitHub, result.Event.Source)
	assert.Equal(t, domain.JobStatusQueued, result.Job.Status)
	assert.Equal(t, DefaultConnName, result.Job.ConnName)
	require.NotNil(t, result.Job.GitURL)
	assert.Equal(t, "https://github.com/acme/warehouse.git", *result.Job.GitURL)
	require.NotNil(t, result.Job.GitBranch)
	assert.Equal(t, "feature/lineage", *result.Job.GitBranch)

	first := f.next(t)
	assert.Equal(t, domain.NotificationEvent, first.Type)
	second := f.next(t)
	assert.Equal(t, domain.NotificationJob, second.Type)
	assert.Equal(t, result.Job.ID, second.JobID)
}

func TestHandleGitHubWebhook_InvalidSignatureWritesNothing(t *testing.T) {
	f := newFixture(t, testSecret)
	body := []byte(pushBody)

	_, err := f.service.HandleGitHubWebhook(context.Background(), WebhookRequest{
		Body:      body,
		Signature: Sign("wrong", body),
		EventName: "push",
	})
	require.ErrorIs(t, err, domain.ErrInvalidSignature)
	f.assertNoWrites(t)
}

func TestHandleGitHubWebhook_BadPayloadWritesNothing(t *testing.T) {
	f := newFixture(t, testSecret)

	for _, body := range []string{`not json`, `{"ref":"refs/heads/main","repository":{}}`} {
		_, err := f.service.HandleGitHubWebhook(context.Background(), WebhookRequest{
			Body:      []byte(body),
			Signature: Sign(testSecret, []byte(body)),
			EventName: "push",
		})
		require.ErrorIs(t, err, domain.ErrValidation)
	}
	f.assertNoWrites(t)
}

func TestHandleGitHubWebhook_NoSecretSkipsVerification(t *testing.T) {
	f := newFixture(t, "")

	result, err := f.service.HandleGitHubWebhook(context.Background(), WebhookRequest{Body: []byte(pushBody)})
	require.NoError(t, err)
	assert.Equal(t, "unknown", result.Event.Key)
}
