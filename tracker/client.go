// Package tracker implements the HTTP announce client from spec.md §4.4.
// Grounded on lvbealr-BitTorrent/torrent/tracker.go's
// SendHTTPTrackerRequest (query construction, User-Agent header,
// http.Client with a timeout) and niyazisuleymanov-alice/alice/discover.go's
// re-announce ticker shape. UDP tracker support (present in the teacher) is
// out of scope per spec.md §4.4 and is not ported; see DESIGN.md.
package tracker

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gotorrent/bencode"
	internalerrors "gotorrent/internal/errors"
)

// Event is the optional `event` query parameter.
type Event int

const (
	EventNone Event = iota
	EventStarted
	EventCompleted
	EventStopped
)

func (e Event) String() string {
	switch e {
	case EventStarted:
		return "started"
	case EventCompleted:
		return "completed"
	case EventStopped:
		return "stopped"
	default:
		return ""
	}
}

// Peer is one entry from a tracker's peer list.
type Peer struct {
	IP   net.IP
	Port uint16
}

// AnnounceResult is a successful announce response.
type AnnounceResult struct {
	Interval time.Duration
	Peers    []Peer
}

// Client announces against a single tracker's announce URL.
type Client struct {
	AnnounceURL string
	InfoHash    [20]byte
	PeerID      [20]byte
	Port        uint16
	httpClient  *http.Client
}

// New builds a Client with a bounded request timeout, matching the
// teacher's http.Client{Timeout: 15 * time.Second}.
func New(announceURL string, infoHash, peerID [20]byte, port uint16) *Client {
	return &Client{
		AnnounceURL: announceURL,
		InfoHash:    infoHash,
		PeerID:      peerID,
		Port:        port,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Announce performs a single GET announce and parses the response.
func (c *Client) Announce(ctx context.Context, uploaded, downloaded, left int64, event Event) (*AnnounceResult, error) {
	u := c.buildURL(uploaded, downloaded, left, event)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, internalerrors.TrackerNetwork(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", "gotorrent/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, internalerrors.TrackerNetwork(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, internalerrors.TrackerNetwork(fmt.Errorf("read response: %w", err))
	}

	return parseAnnounceResponse(body)
}

func (c *Client) buildURL(uploaded, downloaded, left int64, event Event) string {
	var b strings.Builder
	b.WriteString(c.AnnounceURL)
	if strings.Contains(c.AnnounceURL, "?") {
		b.WriteByte('&')
	} else {
		b.WriteByte('?')
	}
	b.WriteString("info_hash=")
	b.WriteString(escapeBytes(c.InfoHash[:]))
	b.WriteString("&peer_id=")
	b.WriteString(escapeBytes(c.PeerID[:]))
	b.WriteString("&port=")
	b.WriteString(strconv.Itoa(int(c.Port)))
	b.WriteString("&uploaded=")
	b.WriteString(strconv.FormatInt(uploaded, 10))
	b.WriteString("&downloaded=")
	b.WriteString(strconv.FormatInt(downloaded, 10))
	b.WriteString("&left=")
	b.WriteString(strconv.FormatInt(left, 10))
	b.WriteString("&compact=1")
	if event != EventNone {
		b.WriteString("&event=")
		b.WriteString(event.String())
	}
	return b.String()
}

// escapeBytes percent-encodes every byte outside the unreserved set
// (A-Z a-z 0-9 - _ . ~), byte-by-byte, per spec.md §4.4 — deliberately not
// url.QueryEscape, which escapes space as "+" and is defined over strings
// rather than raw bytes.
func escapeBytes(b []byte) string {
	const hex = "0123456789ABCDEF"
	var sb strings.Builder
	sb.Grow(len(b) * 3)
	for _, c := range b {
		if isUnreserved(c) {
			sb.WriteByte(c)
			continue
		}
		sb.WriteByte('%')
		sb.WriteByte(hex[c>>4])
		sb.WriteByte(hex[c&0x0f])
	}
	return sb.String()
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_' || c == '.' || c == '~':
		return true
	default:
		return false
	}
}

func parseAnnounceResponse(body []byte) (*AnnounceResult, error) {
	val, err := bencode.DecodeStrict(body)
	if err != nil {
		return nil, internalerrors.TrackerNetwork(fmt.Errorf("decode response: %w", err))
	}
	if val.Kind() != bencode.KindDict {
		return nil, internalerrors.TrackerNetwork(fmt.Errorf("response is not a dict"))
	}

	if reason, ok := tryStr(val, "failure reason"); ok {
		return nil, internalerrors.TrackerFailure(reason)
	}

	result := &AnnounceResult{}
	if iv, ok := val.Dict("interval"); ok {
		result.Interval = time.Duration(iv.Int()) * time.Second
	}

	peersVal, ok := val.Dict("peers")
	if !ok {
		return result, nil
	}

	switch peersVal.Kind() {
	case bencode.KindString:
		peers, err := parseCompactPeers(peersVal.Str())
		if err != nil {
			return nil, internalerrors.TrackerNetwork(err)
		}
		result.Peers = peers
	case bencode.KindList:
		for _, p := range peersVal.List() {
			peer, err := parseDictPeer(p)
			if err != nil {
				return nil, internalerrors.TrackerNetwork(err)
			}
			result.Peers = append(result.Peers, peer)
		}
	default:
		return nil, internalerrors.TrackerNetwork(fmt.Errorf("unexpected peers encoding"))
	}

	return result, nil
}

func tryStr(dict bencode.Value, key string) (string, bool) {
	v, ok := dict.Dict(key)
	if !ok {
		return "", false
	}
	return string(v.Str()), true
}

// parseCompactPeers decodes the compact 6-bytes-per-peer form: 4-byte IPv4
// address followed by a 2-byte big-endian port.
func parseCompactPeers(raw []byte) ([]Peer, error) {
	if len(raw)%6 != 0 {
		return nil, fmt.Errorf("compact peers length %d not a multiple of 6", len(raw))
	}
	peers := make([]Peer, 0, len(raw)/6)
	for i := 0; i < len(raw); i += 6 {
		ip := net.IPv4(raw[i], raw[i+1], raw[i+2], raw[i+3])
		port := uint16(raw[i+4])<<8 | uint16(raw[i+5])
		peers = append(peers, Peer{IP: ip, Port: port})
	}
	return peers, nil
}

func parseDictPeer(v bencode.Value) (Peer, error) {
	ipVal, ok := v.Dict("ip")
	if !ok {
		return Peer{}, fmt.Errorf("peer entry missing ip")
	}
	portVal, ok := v.Dict("port")
	if !ok {
		return Peer{}, fmt.Errorf("peer entry missing port")
	}
	ip := net.ParseIP(string(ipVal.Str()))
	if ip == nil {
		return Peer{}, fmt.Errorf("invalid peer ip %q", ipVal.Str())
	}
	return Peer{IP: ip, Port: uint16(portVal.Int())}, nil
}
