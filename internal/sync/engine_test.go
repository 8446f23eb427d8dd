package sync

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listsync/internal/cache"
	"listsync/internal/core/apperror"
	"listsync/internal/fieldtypes"
	"listsync/internal/lookupindex"
	"listsync/internal/metadata"
	"listsync/internal/record"
	"listsync/pkg/logger"
)

const firstResponseXML = `
<Changes LastChangeToken="1;3;tok-100" EffectivePermMask="0x7FFFFFFFFFFFFFFF">
  <List Name="{8663F780-D30F-4B76-B93E-29B1C21B83BE}" Title="Projects" WebFullUrl="https://example.com/site">
    <Fields>
      <Field Name="Status">
        <CHOICES><CHOICE>Active</CHOICE><CHOICE>Done</CHOICE></CHOICES>
        <Default>Active</Default>
      </Field>
    </Fields>
  </List>
  <data ItemCount="2">
    <z:row ows_ID="1" ows_Title="Alpha" ows_Status="Active"/>
    <z:row ows_ID="2" ows_Title="Beta" ows_Status="Done"/>
  </data>
</Changes>`

const deletionResponseXML = `
<Changes LastChangeToken="1;3;tok-101">
  <Id ChangeType="Delete">7</Id>
  <data ItemCount="1">
    <z:row ows_ID="8" ows_Title="Survivor"/>
  </data>
</Changes>`

func parseDoc(t *testing.T, xml string) *etree.Document {
	t.Helper()
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(xml))
	return doc
}

func newTestList() *metadata.ListDefinition {
	return metadata.NewList("Projects", "{8663F780-D30F-4B76-B93E-29B1C21B83BE}", []*metadata.FieldDefinition{
		{InternalName: "ID", MappedName: "id", ObjectType: fieldtypes.TypeCounter, ReadOnly: true},
		{InternalName: "Title", MappedName: "title", ObjectType: fieldtypes.TypeText},
		{InternalName: "Status", MappedName: "status", ObjectType: fieldtypes.TypeChoice},
		{InternalName: "Parent", MappedName: "parent", ObjectType: fieldtypes.TypeLookup},
	})
}

func newTestEngine(exec OperationExecutor) (*Engine, *metadata.ListDefinition) {
	registry := metadata.NewRegistry()
	list := newTestList()
	registry.Register(list)
	return New(cache.New(registry, logger.Nop()), exec, logger.Nop()), list
}

// stubExecutor replays queued documents/errors and counts calls.
type stubExecutor struct {
	docs  []*etree.Document
	errs  []error
	delay time.Duration
	calls int32
}

func (s *stubExecutor) ExecuteOperation(ctx context.Context, q *Query) (*etree.Document, error) {
	n := int(atomic.AddInt32(&s.calls, 1)) - 1
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if n < len(s.errs) && s.errs[n] != nil {
		return nil, s.errs[n]
	}
	if n < len(s.docs) {
		return s.docs[n], nil
	}
	return nil, errors.New("no response queued")
}

func TestProcessChangeCycle_FirstRun(t *testing.T) {
	engine, list := newTestEngine(nil)
	q := NewQuery("GetListItemChangesSinceToken", list)

	summary, err := engine.ProcessChangeCycle(context.Background(), q, parseDoc(t, firstResponseXML))
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Applied)
	assert.Equal(t, 0, summary.Deleted)
	assert.Equal(t, StateSynced, summary.State)
	assert.Equal(t, "1;3;tok-100", q.ChangeToken())

	// Metadata extracted once from the same response.
	assert.True(t, list.MetadataExtended())
	assert.Equal(t, []string{"Active", "Done"}, list.Field("status").Choices)

	// Permission mask decoded and propagated to query and list.
	require.NotNil(t, q.Permissions())
	assert.True(t, q.Permissions().FullMask)
	require.NotNil(t, list.Permissions())
	assert.True(t, list.Permissions().EditListItems)

	// Records are canonical and indexed in the query's target.
	assert.Equal(t, 2, q.Target.Len())
	alpha := engine.Cache().GetCachedEntity(list.ID, 1)
	require.NotNil(t, alpha)
	assert.Same(t, alpha, q.Target.Get(1))
	assert.Equal(t, "Alpha", alpha.Fields["title"])
	assert.False(t, q.LastRun().IsZero())
}

func TestProcessChangeCycle_DeletionReconciliation(t *testing.T) {
	engine, list := newTestEngine(nil)
	q := NewQuery("GetListItemChangesSinceToken", list)

	_, err := engine.ProcessChangeCycle(context.Background(), q, parseDoc(t, firstResponseXML))
	require.NoError(t, err)

	// Seed id 7 so the deletion has something to reconcile.
	_, err = engine.Cache().RegisterEntity(list.ID, record.Record{"id": 7, "title": "doomed"}, q.Target)
	require.NoError(t, err)
	require.True(t, q.Target.Has(7))

	summary, err := engine.ProcessChangeCycle(context.Background(), q, parseDoc(t, deletionResponseXML))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Deleted)
	assert.Equal(t, 1, summary.Applied)
	assert.False(t, q.Target.Has(7))
	assert.Nil(t, engine.Cache().GetCachedEntity(list.ID, 7))

	// The unrelated addition in the same batch landed.
	assert.True(t, q.Target.Has(8))
	assert.Equal(t, "1;3;tok-101", q.ChangeToken())
}

func TestProcessChangeCycle_DeletionWithDivergentServerName(t *testing.T) {
	registry := metadata.NewRegistry()
	list := metadata.NewList("Projects", "projects", []*metadata.FieldDefinition{
		{InternalName: "ID", MappedName: "id", ObjectType: fieldtypes.TypeCounter, ReadOnly: true},
		{InternalName: "Title", MappedName: "title", ObjectType: fieldtypes.TypeText},
	})
	registry.Register(list)
	engine := New(cache.New(registry, logger.Nop()), nil, logger.Nop())
	q := NewQuery("GetListItemChangesSinceToken", list)

	// Seeded before any response, keyed by the configured id.
	_, err := engine.Cache().RegisterEntity(list.ID, record.Record{"id": 7, "title": "doomed"}, q.Target)
	require.NoError(t, err)
	require.True(t, q.Target.Has(7))

	// The first response reports a different list identifier than the
	// configured one. Its deletion set must still hit the seeded entity.
	response := `
<Changes LastChangeToken="t1">
  <List Name="{8663F780-D30F-4B76-B93E-29B1C21B83BE}" Title="Projects"/>
  <Id ChangeType="Delete">7</Id>
</Changes>`
	summary, err := engine.ProcessChangeCycle(context.Background(), q, parseDoc(t, response))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Deleted)
	assert.False(t, q.Target.Has(7))
	assert.Nil(t, engine.Cache().GetCachedEntity("projects", 7))

	assert.Equal(t, "projects", list.ID)
	assert.Equal(t, "8663f780-d30f-4b76-b93e-29b1c21b83be", list.SourceName)
}

func TestProcessChangeCycle_TokenLastKnownGood(t *testing.T) {
	engine, list := newTestEngine(nil)
	q := NewQuery("GetListItemChangesSinceToken", list)

	_, err := engine.ProcessChangeCycle(context.Background(), q, parseDoc(t, firstResponseXML))
	require.NoError(t, err)
	require.Equal(t, "1;3;tok-100", q.ChangeToken())

	// A response without a token must not null out the good one.
	_, err = engine.ProcessChangeCycle(context.Background(), q, parseDoc(t, `<Changes><data/></Changes>`))
	require.NoError(t, err)
	assert.Equal(t, "1;3;tok-100", q.ChangeToken())
}

func TestRun_FailureLeavesStateUntouched(t *testing.T) {
	exec := &stubExecutor{
		docs: []*etree.Document{parseDoc(t, firstResponseXML)},
		errs: []error{nil, errors.New("connection reset")},
	}
	engine, list := newTestEngine(exec)
	q := NewQuery("GetListItemChangesSinceToken", list)

	_, err := engine.Run(context.Background(), q)
	require.NoError(t, err)
	tokenBefore := q.ChangeToken()
	permsBefore := q.Permissions()
	entitiesBefore := q.Target.Len()

	_, err = engine.Run(context.Background(), q)
	require.Error(t, err)
	assert.True(t, apperror.IsRemote(err))

	// Atomic per cycle: token, permissions and index are all unchanged.
	assert.Equal(t, tokenBefore, q.ChangeToken())
	assert.Same(t, permsBefore, q.Permissions())
	assert.Equal(t, entitiesBefore, q.Target.Len())
}

func TestProcessChangeCycle_MetadataPendingHeld(t *testing.T) {
	engine, list := newTestEngine(nil)
	q := NewQuery("GetListItemChangesSinceToken", list)

	// Partial schema: List element without the marker attribute.
	partial := `<Changes LastChangeToken="t1"><List Title="Projects"/></Changes>`
	summary, err := engine.ProcessChangeCycle(context.Background(), q, parseDoc(t, partial))
	require.NoError(t, err)
	assert.Equal(t, StateMetadataPending, summary.State)
	assert.False(t, list.MetadataExtended())

	// A later complete response retries extraction without duplicate work.
	summary, err = engine.ProcessChangeCycle(context.Background(), q, parseDoc(t, firstResponseXML))
	require.NoError(t, err)
	assert.Equal(t, StateSynced, summary.State)
	assert.True(t, list.MetadataExtended())
}

func TestProcessChangeCycle_PerRecordIsolation(t *testing.T) {
	engine, list := newTestEngine(nil)
	q := NewQuery("GetListItemChangesSinceToken", list)

	// The middle record has no id and cannot be cached; siblings survive.
	mixed := `
<Changes LastChangeToken="t1">
  <data>
    <z:row ows_ID="1" ows_Title="Good"/>
    <z:row ows_Title="No id"/>
    <z:row ows_ID="3" ows_Title="Also good"/>
  </data>
</Changes>`
	summary, err := engine.ProcessChangeCycle(context.Background(), q, parseDoc(t, mixed))
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Applied)
	assert.Equal(t, 1, summary.Malformed)
	assert.True(t, q.Target.Has(1))
	assert.True(t, q.Target.Has(3))
}

func TestProcessChangeCycle_EmptyDocument(t *testing.T) {
	engine, list := newTestEngine(nil)
	q := NewQuery("GetListItemChangesSinceToken", list)

	_, err := engine.ProcessChangeCycle(context.Background(), q, nil)
	require.Error(t, err)
	assert.True(t, apperror.IsRemote(err))
}

func TestProcessChangeCycle_MergeOnResync(t *testing.T) {
	engine, list := newTestEngine(nil)
	q := NewQuery("GetListItemChangesSinceToken", list)

	_, err := engine.ProcessChangeCycle(context.Background(), q, parseDoc(t, firstResponseXML))
	require.NoError(t, err)
	held := engine.Cache().GetCachedEntity(list.ID, 1)
	require.NotNil(t, held)

	update := `
<Changes LastChangeToken="t2">
  <data><z:row ows_ID="1" ows_Title="Alpha v2" ows_Status="Done"/></data>
</Changes>`
	_, err = engine.ProcessChangeCycle(context.Background(), q, parseDoc(t, update))
	require.NoError(t, err)

	// Same canonical reference, updated in place.
	assert.Same(t, held, engine.Cache().GetCachedEntity(list.ID, 1))
	assert.Equal(t, "Alpha v2", held.Fields["title"])
	assert.Equal(t, "Done", held.Fields["status"])
}

func TestRun_ConcurrentFetchGuard(t *testing.T) {
	exec := &stubExecutor{
		docs:  []*etree.Document{parseDoc(t, firstResponseXML)},
		delay: 50 * time.Millisecond,
	}
	engine, list := newTestEngine(exec)
	q := NewQuery("GetListItemChangesSinceToken", list)

	type result struct {
		summary Summary
		err     error
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			s, err := engine.Run(context.Background(), q)
			results <- result{s, err}
		}()
	}

	for i := 0; i < 2; i++ {
		r := <-results
		require.NoError(t, r.err)
		assert.Equal(t, "1;3;tok-100", r.summary.Token)
	}

	// Overlapping callers shared one in-flight run.
	assert.Equal(t, int32(1), atomic.LoadInt32(&exec.calls))
}

func TestProcessChangeCycle_LookupIndexMaintained(t *testing.T) {
	engine, list := newTestEngine(nil)
	q := NewQuery("GetListItemChangesSinceToken", list)
	q.Lookups = lookupindex.New()

	first := `
<Changes LastChangeToken="t1">
  <data>
    <z:row ows_ID="1" ows_Title="Child A" ows_Parent="5;#Apollo"/>
    <z:row ows_ID="2" ows_Title="Child B" ows_Parent="5;#Apollo"/>
    <z:row ows_ID="3" ows_Title="Child C" ows_Parent="9;#Gemini"/>
  </data>
</Changes>`
	_, err := engine.ProcessChangeCycle(context.Background(), q, parseDoc(t, first))
	require.NoError(t, err)

	refs := q.Lookups.QueryByLookup("parent", list.ID, 5)
	require.Len(t, refs, 2)
	assert.Equal(t, 1, refs[0].ID)
	assert.Equal(t, 2, refs[1].ID)

	// Re-pointing a lookup moves the entity between buckets.
	second := `
<Changes LastChangeToken="t2">
  <data><z:row ows_ID="1" ows_Title="Child A" ows_Parent="9;#Gemini"/></data>
</Changes>`
	_, err = engine.ProcessChangeCycle(context.Background(), q, parseDoc(t, second))
	require.NoError(t, err)

	refs = q.Lookups.QueryByLookup("parent", list.ID, 5)
	require.Len(t, refs, 1)
	assert.Equal(t, 2, refs[0].ID)
	refs = q.Lookups.QueryByLookup("parent", list.ID, 9)
	require.Len(t, refs, 2)
	assert.Equal(t, 1, refs[0].ID)
	assert.Equal(t, 3, refs[1].ID)

	// Deleting a referencing entity prunes its buckets.
	third := `
<Changes LastChangeToken="t3">
  <Id ChangeType="Delete">3</Id>
</Changes>`
	_, err = engine.ProcessChangeCycle(context.Background(), q, parseDoc(t, third))
	require.NoError(t, err)

	refs = q.Lookups.QueryByLookup("parent", list.ID, 9)
	require.Len(t, refs, 1)
	assert.Equal(t, 1, refs[0].ID)
}

func TestLocateRecordNodes(t *testing.T) {
	doc := parseDoc(t, firstResponseXML)
	nodes := LocateRecordNodes(doc)
	require.Len(t, nodes, 2)
	assert.Equal(t, "1", nodes[0].SelectAttrValue("ows_ID", ""))

	assert.Nil(t, LocateRecordNodes(nil))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Uninitialized", StateUninitialized.String())
	assert.Equal(t, "MetadataPending", StateMetadataPending.String())
	assert.Equal(t, "Synced", StateSynced.String())
}
