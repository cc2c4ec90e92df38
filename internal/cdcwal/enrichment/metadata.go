package enrichment

import (
	"io"
	"math"

	"github.com/julianstephens/cdcwal/internal/cdcwal/channel"
)

const nullLength = -1

// Subject identifies who ran a transaction. AuthenticatedUser is nil when the
// transaction ran without authentication.
type Subject struct {
	AuthenticatedUser *string
	ExecutingUser     string
}

// User returns a Subject authenticated and executing as name.
func User(name string) Subject {
	return Subject{AuthenticatedUser: &name, ExecutingUser: name}
}

// ClientConnection describes the connection a transaction arrived on.
type ClientConnection struct {
	Details       string
	Protocol      string
	ConnectionID  string
	ClientAddress string
	RequestURI    string
}

// EmbeddedConnection is used for transactions started in-process.
var EmbeddedConnection = ClientConnection{Details: "embedded-session", Protocol: "embedded"}

// TxMetadata is the fixed header written in front of the enrichment regions.
// It is immutable once built.
type TxMetadata struct {
	captureMode     CaptureMode
	serverID        string
	subject         Subject
	connection      ClientConnection
	lastCommittedTx int64
}

// NewTxMetadata validates and builds a TxMetadata. The capture mode, server id
// and executing user are required.
func NewTxMetadata(
	mode CaptureMode,
	serverID string,
	subject Subject,
	conn ClientConnection,
	lastCommittedTx int64,
) (TxMetadata, error) {
	if !mode.Valid() {
		return TxMetadata{}, argumentError("capture_mode")
	}
	if serverID == "" {
		return TxMetadata{}, argumentError("server_id")
	}
	if subject.ExecutingUser == "" {
		return TxMetadata{}, argumentError("executing_user")
	}
	if subject.AuthenticatedUser != nil {
		user := *subject.AuthenticatedUser
		subject.AuthenticatedUser = &user
	}
	return TxMetadata{
		captureMode:     mode,
		serverID:        serverID,
		subject:         subject,
		connection:      conn,
		lastCommittedTx: lastCommittedTx,
	}, nil
}

func (m TxMetadata) CaptureMode() CaptureMode     { return m.captureMode }
func (m TxMetadata) ServerID() string             { return m.serverID }
func (m TxMetadata) Connection() ClientConnection { return m.connection }
func (m TxMetadata) LastCommittedTx() int64       { return m.lastCommittedTx }
func (m TxMetadata) ExecutingUser() string        { return m.subject.ExecutingUser }
func (m TxMetadata) AuthenticatedUser() (string, bool) {
	if m.subject.AuthenticatedUser == nil {
		return "", false
	}
	return *m.subject.AuthenticatedUser, true
}

// Subject returns a copy of the transaction subject.
func (m TxMetadata) Subject() Subject {
	s := m.subject
	if s.AuthenticatedUser != nil {
		user := *s.AuthenticatedUser
		s.AuthenticatedUser = &user
	}
	return s
}

// SerializedSize returns the number of bytes Serialize writes.
func (m TxMetadata) SerializedSize() int64 {
	size := int64(channel.LongSize + channel.ByteSize)
	size += stringSize(&m.serverID)
	size += stringSize(m.subject.AuthenticatedUser)
	size += stringSize(&m.subject.ExecutingUser)
	size += stringSize(&m.connection.Details)
	size += stringSize(&m.connection.Protocol)
	size += stringSize(&m.connection.ConnectionID)
	size += stringSize(&m.connection.ClientAddress)
	size += stringSize(&m.connection.RequestURI)
	return size
}

// Serialize writes the metadata header to ch.
func (m TxMetadata) Serialize(ch channel.WritableChannel) error {
	if err := ch.PutLong(m.lastCommittedTx); err != nil {
		return err
	}
	if err := ch.PutByte(m.captureMode.ID()); err != nil {
		return err
	}
	fields := []*string{
		&m.serverID,
		m.subject.AuthenticatedUser,
		&m.subject.ExecutingUser,
		&m.connection.Details,
		&m.connection.Protocol,
		&m.connection.ConnectionID,
		&m.connection.ClientAddress,
		&m.connection.RequestURI,
	}
	for _, f := range fields {
		if err := writeString(ch, f); err != nil {
			return err
		}
	}
	return nil
}

// DeserializeTxMetadata reads a header written by Serialize. A null server id
// or executing user is rejected; null connection fields decode as "".
func DeserializeTxMetadata(ch channel.ReadableChannel) (TxMetadata, error) {
	lastCommitted, err := ch.GetLong()
	if err != nil {
		return TxMetadata{}, shortRead("last_committed_tx", err)
	}
	id, err := ch.GetByte()
	if err != nil {
		return TxMetadata{}, shortRead("capture_mode", err)
	}
	mode, err := CaptureModeByID(id)
	if err != nil {
		return TxMetadata{}, err
	}

	serverID, err := readString(ch, "server_id")
	if err != nil {
		return TxMetadata{}, err
	}
	authUser, err := readString(ch, "authenticated_user")
	if err != nil {
		return TxMetadata{}, err
	}
	execUser, err := readString(ch, "executing_user")
	if err != nil {
		return TxMetadata{}, err
	}
	var conn ClientConnection
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"connection_details", &conn.Details},
		{"connection_protocol", &conn.Protocol},
		{"connection_id", &conn.ConnectionID},
		{"client_address", &conn.ClientAddress},
		{"request_uri", &conn.RequestURI},
	} {
		v, err := readString(ch, f.name)
		if err != nil {
			return TxMetadata{}, err
		}
		if v != nil {
			*f.dst = *v
		}
	}

	if serverID == nil {
		return TxMetadata{}, invalidMetadata("server_id")
	}
	if execUser == nil {
		return TxMetadata{}, invalidMetadata("executing_user")
	}
	meta, err := NewTxMetadata(mode, *serverID, Subject{AuthenticatedUser: authUser, ExecutingUser: *execUser}, conn, lastCommitted)
	if err != nil {
		return TxMetadata{}, &CodecError{Kind: KindInvalidMetadata, Err: ErrInvalidMetadata, Cause: err}
	}
	return meta, nil
}

func stringSize(s *string) int64 {
	if s == nil {
		return channel.IntSize
	}
	return channel.IntSize + int64(len(*s))
}

func writeString(ch channel.WritableChannel, s *string) error {
	if s == nil {
		return ch.PutInt(nullLength)
	}
	if len(*s) > math.MaxInt32 {
		return &CodecError{Kind: KindRegionTooLarge, Field: "string", Want: math.MaxInt32, Have: int64(len(*s)), Err: ErrRegionTooLarge}
	}
	if err := ch.PutInt(int32(len(*s))); err != nil { //nolint:gosec
		return err
	}
	return ch.Put([]byte(*s))
}

func readString(ch channel.ReadableChannel, field string) (*string, error) {
	n, err := ch.GetInt()
	if err != nil {
		return nil, shortRead(field, err)
	}
	if n == nullLength {
		return nil, nil
	}
	if n < 0 {
		return nil, &CodecError{Kind: KindInvalidLength, Field: field, Want: 0, Have: int64(n), Err: ErrInvalidLength}
	}
	buf := make([]byte, n)
	if got, err := io.ReadFull(ch, buf); err != nil {
		return nil, &CodecError{Kind: KindShortRead, Field: field, Want: int64(n), Have: int64(got), Err: ErrShortRead, Cause: err}
	}
	s := string(buf)
	return &s, nil
}

func shortRead(field string, err error) error {
	return &CodecError{Kind: KindShortRead, Field: field, Err: ErrShortRead, Cause: err}
}

func invalidMetadata(field string) error {
	return &CodecError{Kind: KindInvalidMetadata, Field: field, Err: ErrInvalidMetadata}
}
