package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/julianstephens/go-utils/jsonutil"

	"github.com/julianstephens/cdcwal/internal/cdcwal/capture"
	"github.com/julianstephens/cdcwal/internal/cdcwal/enrichment"
)

// TxView is the printable form of one committed transaction.
type TxView struct {
	TxnID           uint64         `json:"txn_id"`
	Enriched        bool           `json:"enriched"`
	FormatVersion   uint8          `json:"format_version,omitempty"`
	CaptureMode     string         `json:"capture_mode,omitempty"`
	ServerID        string         `json:"server_id,omitempty"`
	ExecutingUser   string         `json:"executing_user,omitempty"`
	LastCommittedTx int64          `json:"last_committed_tx,omitempty"`
	Changes         []ChangeView   `json:"changes,omitempty"`
	UserMetadata    map[string]any `json:"user_metadata,omitempty"`
}

type ChangeView struct {
	ID            int64                         `json:"id"`
	Entity        string                        `json:"entity"`
	Delta         string                        `json:"delta"`
	Labels        []int32                       `json:"labels,omitempty"`
	AddedLabels   []int32                       `json:"added_labels,omitempty"`
	RemovedLabels []int32                       `json:"removed_labels,omitempty"`
	RelType       *int32                        `json:"rel_type,omitempty"`
	Start         *int64                        `json:"start,omitempty"`
	End           *int64                        `json:"end,omitempty"`
	State         map[int32]any                 `json:"state,omitempty"`
	Added         map[int32]any                 `json:"added,omitempty"`
	Changed       map[int32]capture.ValueChange `json:"changed,omitempty"`
	Removed       map[int32]any                 `json:"removed,omitempty"`
}

// newTxView decodes r, which may be nil for a transaction without an
// enrichment.
func newTxView(txnId uint64, r *enrichment.Read) (TxView, error) {
	v := TxView{TxnID: txnId}
	if r == nil {
		return v, nil
	}
	tx, err := capture.Decode(r)
	if err != nil {
		return v, err
	}

	meta := tx.Metadata
	v.Enriched = true
	v.FormatVersion = uint8(r.Version())
	v.CaptureMode = meta.CaptureMode().String()
	v.ServerID = meta.ServerID()
	v.ExecutingUser = meta.ExecutingUser()
	v.LastCommittedTx = meta.LastCommittedTx()
	v.UserMetadata = tx.UserMetadata
	v.Changes = make([]ChangeView, 0, len(tx.Changes))
	for _, c := range tx.Changes {
		cv := ChangeView{
			ID:            c.ID,
			Entity:        c.Entity.String(),
			Delta:         c.Delta.String(),
			Labels:        c.Labels,
			AddedLabels:   c.AddedLabels,
			RemovedLabels: c.RemovedLabels,
			State:         c.State,
			Added:         c.Added,
			Changed:       c.Changed,
			Removed:       c.Removed,
		}
		if c.Entity == capture.EntityRelationship {
			relType, start, end := c.RelType, c.Start, c.End
			cv.RelType, cv.Start, cv.End = &relType, &start, &end
		}
		v.Changes = append(v.Changes, cv)
	}
	return v, nil
}

// writeJSON writes v followed by a newline.
func writeJSON(w io.Writer, v TxView) error {
	data, err := jsonutil.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n")
	return err
}

func writeText(w io.Writer, v TxView) error {
	var b strings.Builder
	if !v.Enriched {
		fmt.Fprintf(&b, "txn %d (no enrichment)\n", v.TxnID)
		_, err := io.WriteString(w, b.String())
		return err
	}

	fmt.Fprintf(&b, "txn %d v%d mode=%s server=%s user=%s changes=%d\n",
		v.TxnID, v.FormatVersion, v.CaptureMode, v.ServerID, v.ExecutingUser, len(v.Changes))
	for _, c := range v.Changes {
		fmt.Fprintf(&b, "  %s %s %d", c.Delta, c.Entity, c.ID)
		if c.RelType != nil {
			fmt.Fprintf(&b, " type=%d (%d)->(%d)", *c.RelType, *c.Start, *c.End)
		}
		if len(c.Labels) > 0 {
			fmt.Fprintf(&b, " labels=%v", c.Labels)
		}
		if len(c.AddedLabels) > 0 || len(c.RemovedLabels) > 0 {
			fmt.Fprintf(&b, " +labels=%v -labels=%v", c.AddedLabels, c.RemovedLabels)
		}
		writeProps(&b, "state:", c.State)
		writeProps(&b, "+", c.Added)
		writeProps(&b, "-", c.Removed)
		for _, k := range sortedKeys(c.Changed) {
			fmt.Fprintf(&b, " ~%d=%v->%v", k, c.Changed[k].Before, c.Changed[k].After)
		}
		b.WriteByte('\n')
	}
	if len(v.UserMetadata) > 0 {
		keys := make([]string, 0, len(v.UserMetadata))
		for k := range v.UserMetadata {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		b.WriteString("  metadata:")
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, v.UserMetadata[k])
		}
		b.WriteByte('\n')
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func writeProps(b *strings.Builder, prefix string, props map[int32]any) {
	for _, k := range sortedKeys(props) {
		fmt.Fprintf(b, " %s%d=%v", prefix, k, props[k])
	}
}

func sortedKeys[V any](m map[int32]V) []int32 {
	keys := make([]int32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
