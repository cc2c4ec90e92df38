package enrichment_test

import (
	"bytes"
	"testing"

	"github.com/alecthomas/assert/v2"
	tst "github.com/julianstephens/go-utils/tests"

	"github.com/julianstephens/cdcwal/internal/cdcwal/channel"
	"github.com/julianstephens/cdcwal/internal/cdcwal/enrichment"
)

// TestNewTxMetadata_RequiredFields rejects absent required fields
func TestNewTxMetadata_RequiredFields(t *testing.T) {
	conn := enrichment.EmbeddedConnection

	_, err := enrichment.NewTxMetadata(0, "srv", enrichment.User("alice"), conn, 1)
	assert.IsError(t, err, enrichment.ErrInvalidArgument)
	_, err = enrichment.NewTxMetadata(enrichment.CaptureModeDiff, "", enrichment.User("alice"), conn, 1)
	assert.IsError(t, err, enrichment.ErrInvalidArgument)
	_, err = enrichment.NewTxMetadata(enrichment.CaptureModeDiff, "srv", enrichment.Subject{}, conn, 1)
	assert.IsError(t, err, enrichment.ErrInvalidArgument)
}

// TestTxMetadata_RoundTrip covers a populated header with an authenticated user
func TestTxMetadata_RoundTrip(t *testing.T) {
	conn := enrichment.ClientConnection{
		Details:       "bolt-42",
		Protocol:      "bolt",
		ConnectionID:  "conn-42",
		ClientAddress: "10.0.0.7:51000",
		RequestURI:    "/db/neo4j/tx",
	}
	meta, err := enrichment.NewTxMetadata(enrichment.CaptureModeFull, "srv-ü", enrichment.User("alice"), conn, 9001)
	tst.RequireNoError(t, err)

	var buf bytes.Buffer
	tst.RequireNoError(t, meta.Serialize(channel.NewWriter(&buf)))
	tst.RequireDeepEqual(t, int64(buf.Len()), meta.SerializedSize())

	got, err := enrichment.DeserializeTxMetadata(channel.NewSliceReader(buf.Bytes()))
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, got, meta)

	user, ok := got.AuthenticatedUser()
	tst.AssertTrue(t, ok, "expected authenticated user")
	tst.RequireDeepEqual(t, user, "alice")
	tst.RequireDeepEqual(t, got.ExecutingUser(), "alice")
	tst.RequireDeepEqual(t, got.LastCommittedTx(), int64(9001))
	tst.RequireDeepEqual(t, got.Connection(), conn)
}

// TestTxMetadata_NullFields decodes null connection fields as empty and rejects a null server id
func TestTxMetadata_NullFields(t *testing.T) {
	header := func(serverID *string) []byte {
		var buf bytes.Buffer
		w := channel.NewWriter(&buf)
		tst.RequireNoError(t, w.PutLong(5))
		tst.RequireNoError(t, w.PutByte(enrichment.CaptureModeDiff.ID()))
		putString(t, w, serverID)
		putString(t, w, nil)
		exec := "bob"
		putString(t, w, &exec)
		for i := 0; i < 5; i++ {
			putString(t, w, nil)
		}
		return buf.Bytes()
	}

	srv := "srv"
	got, err := enrichment.DeserializeTxMetadata(channel.NewSliceReader(header(&srv)))
	tst.RequireNoError(t, err)
	_, ok := got.AuthenticatedUser()
	tst.AssertFalse(t, ok, "expected no authenticated user")
	tst.RequireDeepEqual(t, got.Connection(), enrichment.ClientConnection{})

	_, err = enrichment.DeserializeTxMetadata(channel.NewSliceReader(header(nil)))
	assert.IsError(t, err, enrichment.ErrInvalidMetadata)
}

func putString(t *testing.T, w *channel.Writer, s *string) {
	t.Helper()
	if s == nil {
		tst.RequireNoError(t, w.PutInt(-1))
		return
	}
	tst.RequireNoError(t, w.PutInt(int32(len(*s))))
	tst.RequireNoError(t, w.Put([]byte(*s)))
}

// TestTxMetadata_SubjectIsCopied keeps metadata immutable
func TestTxMetadata_SubjectIsCopied(t *testing.T) {
	name := "carol"
	subject := enrichment.Subject{AuthenticatedUser: &name, ExecutingUser: "carol"}
	meta, err := enrichment.NewTxMetadata(enrichment.CaptureModeDiff, "srv", subject, enrichment.EmbeddedConnection, 0)
	tst.RequireNoError(t, err)

	name = "mallory"
	*meta.Subject().AuthenticatedUser = "eve"
	user, _ := meta.AuthenticatedUser()
	tst.RequireDeepEqual(t, user, "carol")
}

// TestCaptureMode_WireIDs pins the stable identifiers
func TestCaptureMode_WireIDs(t *testing.T) {
	tst.RequireDeepEqual(t, enrichment.CaptureModeDiff.ID(), byte(1))
	tst.RequireDeepEqual(t, enrichment.CaptureModeFull.ID(), byte(2))

	for _, mode := range []enrichment.CaptureMode{enrichment.CaptureModeDiff, enrichment.CaptureModeFull} {
		got, err := enrichment.CaptureModeByID(mode.ID())
		tst.RequireNoError(t, err)
		tst.RequireDeepEqual(t, got, mode)
	}

	_, err := enrichment.CaptureModeByID(0)
	assert.IsError(t, err, enrichment.ErrUnknownCaptureMode)
	_, err = enrichment.CaptureModeByID(3)
	assert.IsError(t, err, enrichment.ErrUnknownCaptureMode)
}

// TestMode_ParseAndStrategy covers mode names and strategies
func TestMode_ParseAndStrategy(t *testing.T) {
	m, err := enrichment.ParseMode("full")
	tst.RequireNoError(t, err)
	tst.RequireDeepEqual(t, m, enrichment.ModeFull)

	cm, ok := m.CaptureMode()
	tst.AssertTrue(t, ok, "expected capture mode")
	tst.RequireDeepEqual(t, cm, enrichment.CaptureModeFull)
	_, ok = enrichment.ModeOff.CaptureMode()
	tst.AssertFalse(t, ok, "OFF has no capture mode")

	_, err = enrichment.ParseMode("sometimes")
	assert.IsError(t, err, enrichment.ErrUnknownMode)

	tst.RequireDeepEqual(t, enrichment.NoEnrichment.Mode(), enrichment.ModeOff)
	tst.RequireDeepEqual(t, enrichment.FixedStrategy(enrichment.ModeDiff).Mode(), enrichment.ModeDiff)
	calls := 0
	s := enrichment.StrategyFunc(func() enrichment.Mode { calls++; return enrichment.ModeFull })
	tst.RequireDeepEqual(t, s.Mode(), enrichment.ModeFull)
	tst.RequireDeepEqual(t, calls, 1)
}

// TestVersion_Ordering checks the user metadata threshold
func TestVersion_Ordering(t *testing.T) {
	tst.AssertFalse(t, enrichment.Version1.HasUserMetadata(), "v1 has four regions")
	tst.AssertTrue(t, enrichment.VersionUserMetadata.HasUserMetadata(), "threshold has five regions")
	tst.AssertTrue(t, enrichment.LatestVersion.IsAtLeast(enrichment.Version1), "latest is at least v1")
	tst.RequireDeepEqual(t, enrichment.Version1.RegionCount(), 4)
	tst.RequireDeepEqual(t, enrichment.LatestVersion.RegionCount(), 5)
	tst.AssertFalse(t, enrichment.Version(0).Valid(), "zero is not a version")
}
