package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"alex/internal/task"
)

type fakeTaskCreator struct {
	created []task.Draft
}

func (f *fakeTaskCreator) Create(_ context.Context, draft task.Draft) (*task.Task, error) {
	f.created = append(f.created, draft)
	return &task.Task{ID: "T-1", Title: draft.Title, Repository: draft.Repository}, nil
}

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func newReceiver(t *testing.T, importer *IssueImporter) *Receiver {
	t.Helper()
	r, err := NewReceiver("hmac-secret", "static-token", importer, nil)
	require.NoError(t, err)
	return r
}

func TestHandleRejectsInvalidHMACSignature(t *testing.T) {
	r := newReceiver(t, nil)
	result := r.Handle(Delivery{
		Source: SourceUpstreamA, Body: []byte(`{}`), SignatureHeader: "sha256=deadbeef",
		ObjectKind: "push", Parsed: map[string]any{"id": "evt-1"},
	})
	require.False(t, result.Success)
	require.Contains(t, result.Message, "signature")
}

func TestHandleAcceptsValidHMACSignature(t *testing.T) {
	r := newReceiver(t, nil)
	body := `{"commits":[1,2]}`
	result := r.Handle(Delivery{
		Source: SourceUpstreamA, Body: []byte(body), SignatureHeader: sign("hmac-secret", body),
		ObjectKind: "push", Parsed: map[string]any{"id": "evt-1", "commits": []any{1, 2}},
	})
	require.True(t, result.Success)
}

func TestHandleRejectsInvalidStaticToken(t *testing.T) {
	r := newReceiver(t, nil)
	result := r.Handle(Delivery{
		Source: SourceUpstreamB, TokenHeader: "wrong", ObjectKind: "push",
		Parsed: map[string]any{"id": "evt-2"},
	})
	require.False(t, result.Success)
	require.Contains(t, result.Message, "token")
}

func TestHandleDeduplicatesByEventID(t *testing.T) {
	r := newReceiver(t, nil)
	d := Delivery{
		Source: SourceUpstreamB, TokenHeader: "static-token", ObjectKind: "push",
		Parsed: map[string]any{"id": "evt-3"},
	}
	first := r.Handle(d)
	second := r.Handle(d)
	require.True(t, first.Success)
	require.True(t, second.Success)
	require.Equal(t, "duplicate", second.Message)
}

func TestHandleUnsupportedEventType(t *testing.T) {
	r := newReceiver(t, nil)
	result := r.Handle(Delivery{
		Source: SourceUpstreamB, TokenHeader: "static-token", ObjectKind: "star",
		Parsed: map[string]any{"id": "evt-4"},
	})
	require.True(t, result.Success)
	require.Equal(t, "Unsupported event type", result.Message)
}

func TestHandleIssueOpenedImportsTask(t *testing.T) {
	creator := &fakeTaskCreator{}
	importer := NewIssueImporter(creator, ImportFilter{})
	r := newReceiver(t, importer)

	result := r.Handle(Delivery{
		Source: SourceUpstreamB, TokenHeader: "static-token", ObjectKind: "issue", Action: "opened",
		Repository: "svc-a",
		Parsed: map[string]any{
			"id": "evt-5",
			"issue": map[string]any{
				"id": "GH-1", "title": "bug found", "labels": []any{"bug"},
			},
		},
	})
	require.True(t, result.Success)
	require.Len(t, creator.created, 1)
	require.Equal(t, "bug found", creator.created[0].Title)
	require.Equal(t, task.PriorityMedium, creator.created[0].Priority)
}

func TestImportSkipsClosedIssueWhenFilterRequests(t *testing.T) {
	creator := &fakeTaskCreator{}
	importer := NewIssueImporter(creator, ImportFilter{SkipClosed: true})

	_, skipped, err := importer.Import(context.Background(), SourceUpstreamA, ExternalIssue{
		ExternalID: "GH-2", Closed: true,
	})
	require.NoError(t, err)
	require.True(t, skipped)
	require.Empty(t, creator.created)
}

func TestImportRejectsRepositoryNotInAllowList(t *testing.T) {
	creator := &fakeTaskCreator{}
	importer := NewIssueImporter(creator, ImportFilter{RepositoryAllowList: []string{"svc-a"}})

	_, skipped, err := importer.Import(context.Background(), SourceUpstreamA, ExternalIssue{
		ExternalID: "GH-3", Repository: "svc-z",
	})
	require.NoError(t, err)
	require.True(t, skipped)
}

func TestImportManyAccumulatesCounters(t *testing.T) {
	creator := &fakeTaskCreator{}
	importer := NewIssueImporter(creator, ImportFilter{SkipClosed: true})

	batch := importer.ImportMany(context.Background(), SourceUpstreamA, []ExternalIssue{
		{ExternalID: "1"},
		{ExternalID: "2", Closed: true},
		{ExternalID: "1"}, // duplicate of the first
	})
	require.Equal(t, 1, batch.Imported)
	require.Equal(t, 2, batch.Skipped)
	require.Equal(t, 0, batch.Failed)
}

func TestImportRecordsMapping(t *testing.T) {
	creator := &fakeTaskCreator{}
	importer := NewIssueImporter(creator, ImportFilter{})

	_, _, err := importer.Import(context.Background(), SourceUpstreamA, ExternalIssue{ExternalID: "GH-9", Repository: "svc-a"})
	require.NoError(t, err)

	mappings := importer.Mappings()
	require.Len(t, mappings, 1)
	require.Equal(t, "GH-9", mappings[0].ExternalID)
	require.Equal(t, "T-1", mappings[0].TaskID)
}
