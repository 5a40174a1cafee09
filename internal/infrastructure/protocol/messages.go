package protocol

import (
	"fmt"

	"vidswarm/internal/core/domain"
)

// Kind is the one-byte message tag that follows the frame length.
type Kind uint8

// Requests
const (
	KindRegister    Kind = 0x01
	KindUnregister  Kind = 0x02
	KindHeartbeat   Kind = 0x03
	KindListPeers   Kind = 0x04
	KindListCatalog Kind = 0x05
	KindPublish     Kind = 0x06
	KindUnpublish   Kind = 0x07
	KindGetVideo    Kind = 0x08
	KindFindVideo   Kind = 0x09
	KindHello       Kind = 0x0A
	KindVideoInfo   Kind = 0x0B
)

// Responses
const (
	KindOK            Kind = 0x80
	KindPeers         Kind = 0x81
	KindCatalog       Kind = 0x82
	KindVideo         Kind = 0x83
	KindNotFound      Kind = 0x84
	KindProtocolError Kind = 0x85
	KindError         Kind = 0x86
	KindHelloAck      Kind = 0x87
)

var kindNames = map[Kind]string{
	KindRegister:      "REGISTER",
	KindUnregister:    "UNREGISTER",
	KindHeartbeat:     "HEARTBEAT",
	KindListPeers:     "LIST_PEERS",
	KindListCatalog:   "LIST_CATALOG",
	KindPublish:       "PUBLISH",
	KindUnpublish:     "UNPUBLISH",
	KindGetVideo:      "GET_VIDEO",
	KindFindVideo:     "FIND_VIDEO",
	KindHello:         "HELLO",
	KindVideoInfo:     "VIDEO_INFO",
	KindOK:            "OK",
	KindPeers:         "PEERS",
	KindCatalog:       "CATALOG",
	KindVideo:         "VIDEO",
	KindNotFound:      "NOT_FOUND",
	KindProtocolError: "PROTOCOL_ERROR",
	KindError:         "ERROR",
	KindHelloAck:      "HELLO_ACK",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("KIND(0x%02x)", uint8(k))
}

// IsRequest reports whether k is sent by a client.
func (k Kind) IsRequest() bool {
	return k >= KindRegister && k <= KindVideoInfo
}

// Message is one decoded frame.
type Message interface {
	Kind() Kind
	encode(e *encoder)
	decode(d *decoder)
}

type Register struct {
	PeerID domain.PeerID
	Host   string
	Port   int
}

type Unregister struct {
	PeerID domain.PeerID
}

type Heartbeat struct {
	PeerID domain.PeerID
}

type ListPeers struct{}

type ListCatalog struct{}

type Publish struct {
	PeerID domain.PeerID
	Video  domain.VideoRecord
}

type Unpublish struct {
	PeerID  domain.PeerID
	VideoID domain.VideoID
}

type GetVideo struct {
	VideoID domain.VideoID
}

type FindVideo struct {
	VideoID domain.VideoID
}

// Hello opens or keeps alive a manual session.
type Hello struct {
	PeerID domain.PeerID
}

// VideoInfo asks a peer for the metadata of one published video. It is
// answered with a single-entry CATALOG or NOT_FOUND.
type VideoInfo struct {
	VideoID domain.VideoID
}

type OK struct{}

type Peers struct {
	Peers []domain.PeerRecord
}

type Catalog struct {
	Entries []domain.CatalogEntry
}

// Video announces Size raw bytes that follow the frame on the stream.
type Video struct {
	Size int64
}

type NotFound struct {
	Message string
}

type ProtocolError struct {
	Message string
}

// ErrorResponse carries an application error code so the caller can rebuild it.
type ErrorResponse struct {
	Code    string
	Message string
}

type HelloAck struct {
	PeerID domain.PeerID
}

func (*Register) Kind() Kind      { return KindRegister }
func (*Unregister) Kind() Kind    { return KindUnregister }
func (*Heartbeat) Kind() Kind     { return KindHeartbeat }
func (*ListPeers) Kind() Kind     { return KindListPeers }
func (*ListCatalog) Kind() Kind   { return KindListCatalog }
func (*Publish) Kind() Kind       { return KindPublish }
func (*Unpublish) Kind() Kind     { return KindUnpublish }
func (*GetVideo) Kind() Kind      { return KindGetVideo }
func (*FindVideo) Kind() Kind     { return KindFindVideo }
func (*Hello) Kind() Kind         { return KindHello }
func (*VideoInfo) Kind() Kind     { return KindVideoInfo }
func (*OK) Kind() Kind            { return KindOK }
func (*Peers) Kind() Kind         { return KindPeers }
func (*Catalog) Kind() Kind       { return KindCatalog }
func (*Video) Kind() Kind         { return KindVideo }
func (*NotFound) Kind() Kind      { return KindNotFound }
func (*ProtocolError) Kind() Kind { return KindProtocolError }
func (*ErrorResponse) Kind() Kind { return KindError }
func (*HelloAck) Kind() Kind      { return KindHelloAck }

func (m *Register) encode(e *encoder) {
	e.string(string(m.PeerID))
	e.string(m.Host)
	e.port(m.Port)
}

func (m *Register) decode(d *decoder) {
	m.PeerID = domain.PeerID(d.string())
	m.Host = d.string()
	m.Port = d.port()
}

func (m *Unregister) encode(e *encoder) { e.string(string(m.PeerID)) }
func (m *Unregister) decode(d *decoder) { m.PeerID = domain.PeerID(d.string()) }

func (m *Heartbeat) encode(e *encoder) { e.string(string(m.PeerID)) }
func (m *Heartbeat) decode(d *decoder) { m.PeerID = domain.PeerID(d.string()) }

func (*ListPeers) encode(*encoder) {}
func (*ListPeers) decode(*decoder) {}

func (*ListCatalog) encode(*encoder) {}
func (*ListCatalog) decode(*decoder) {}

func (m *Publish) encode(e *encoder) {
	e.string(string(m.PeerID))
	e.video(m.Video)
}

func (m *Publish) decode(d *decoder) {
	m.PeerID = domain.PeerID(d.string())
	m.Video = d.video()
}

func (m *Unpublish) encode(e *encoder) {
	e.string(string(m.PeerID))
	e.string(string(m.VideoID))
}

func (m *Unpublish) decode(d *decoder) {
	m.PeerID = domain.PeerID(d.string())
	m.VideoID = domain.VideoID(d.string())
}

func (m *GetVideo) encode(e *encoder) { e.string(string(m.VideoID)) }
func (m *GetVideo) decode(d *decoder) { m.VideoID = domain.VideoID(d.string()) }

func (m *FindVideo) encode(e *encoder) { e.string(string(m.VideoID)) }
func (m *FindVideo) decode(d *decoder) { m.VideoID = domain.VideoID(d.string()) }

func (m *Hello) encode(e *encoder) { e.string(string(m.PeerID)) }
func (m *Hello) decode(d *decoder) { m.PeerID = domain.PeerID(d.string()) }

func (m *VideoInfo) encode(e *encoder) { e.string(string(m.VideoID)) }
func (m *VideoInfo) decode(d *decoder) { m.VideoID = domain.VideoID(d.string()) }

func (*OK) encode(*encoder) {}
func (*OK) decode(*decoder) {}

func (m *Peers) encode(e *encoder) {
	e.count(len(m.Peers))
	for _, p := range m.Peers {
		e.peer(p)
	}
}

func (m *Peers) decode(d *decoder) {
	n := d.count(minPeerSize)
	m.Peers = make([]domain.PeerRecord, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		m.Peers = append(m.Peers, d.peer())
	}
}

func (m *Catalog) encode(e *encoder) {
	e.count(len(m.Entries))
	for _, entry := range m.Entries {
		e.string(string(entry.PeerID))
		e.video(entry.Video)
	}
}

func (m *Catalog) decode(d *decoder) {
	n := d.count(minCatalogEntrySize)
	m.Entries = make([]domain.CatalogEntry, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		peerID := domain.PeerID(d.string())
		m.Entries = append(m.Entries, domain.CatalogEntry{PeerID: peerID, Video: d.video()})
	}
}

func (m *Video) encode(e *encoder) { e.size(m.Size) }
func (m *Video) decode(d *decoder) { m.Size = d.size() }

func (m *NotFound) encode(e *encoder) { e.string(m.Message) }
func (m *NotFound) decode(d *decoder) { m.Message = d.string() }

func (m *ProtocolError) encode(e *encoder) { e.string(m.Message) }
func (m *ProtocolError) decode(d *decoder) { m.Message = d.string() }

func (m *ErrorResponse) encode(e *encoder) {
	e.string(m.Code)
	e.string(m.Message)
}

func (m *ErrorResponse) decode(d *decoder) {
	m.Code = d.string()
	m.Message = d.string()
}

func (m *HelloAck) encode(e *encoder) { e.string(string(m.PeerID)) }
func (m *HelloAck) decode(d *decoder) { m.PeerID = domain.PeerID(d.string()) }

// newMessage returns an empty message for kind, or nil if the kind is unknown.
func newMessage(kind Kind) Message {
	switch kind {
	case KindRegister:
		return &Register{}
	case KindUnregister:
		return &Unregister{}
	case KindHeartbeat:
		return &Heartbeat{}
	case KindListPeers:
		return &ListPeers{}
	case KindListCatalog:
		return &ListCatalog{}
	case KindPublish:
		return &Publish{}
	case KindUnpublish:
		return &Unpublish{}
	case KindGetVideo:
		return &GetVideo{}
	case KindFindVideo:
		return &FindVideo{}
	case KindHello:
		return &Hello{}
	case KindVideoInfo:
		return &VideoInfo{}
	case KindOK:
		return &OK{}
	case KindPeers:
		return &Peers{}
	case KindCatalog:
		return &Catalog{}
	case KindVideo:
		return &Video{}
	case KindNotFound:
		return &NotFound{}
	case KindProtocolError:
		return &ProtocolError{}
	case KindError:
		return &ErrorResponse{}
	case KindHelloAck:
		return &HelloAck{}
	default:
		return nil
	}
}
