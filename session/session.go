// Package session ties together the tracker client, piece store,
// scheduler, and peer fleet behind the single-threaded I/O loop from
// spec.md §4.7 and §5. Grounded on lvbealr-BitTorrent/torrent/p2p.go's
// StartDownload (file creation up front, pieceChan-style completion
// accounting) restructured around one tick loop instead of a
// sync.WaitGroup of peer goroutines, per SPEC_FULL.md Open-Question-4.
package session

import (
	"context"
	"time"

	"gotorrent/internal/config"
	internalerrors "gotorrent/internal/errors"
	"gotorrent/internal/logging"
	"gotorrent/internal/netpoll"
	"gotorrent/internal/peerid"
	"gotorrent/metainfo"
	"gotorrent/peer"
	"gotorrent/scheduler"
	"gotorrent/store"
	"gotorrent/tracker"
)

const tick = 200 * time.Millisecond

// maxAnnounceFailuresBeforeFatal bounds the "retries are exhausted" clause of
// spec.md §7's ScopeTracker policy: if the tracker has failed this many
// consecutive times, no peer has ever been seen, and no piece has verified,
// the session gives up rather than retrying forever. 8 failures reaches the
// 15-minute backoff cap (15s doubling six times) plus two capped retries, a
// little over half an hour of attempts.
const maxAnnounceFailuresBeforeFatal = 8

// Session owns every piece of session-lifetime state; nothing here is
// global, per spec.md §9 "Global state: none is required".
type Session struct {
	torrent *metainfo.Torrent
	opts    config.Options
	peerID  [20]byte

	store  *store.PieceStore
	sched  *scheduler.Scheduler
	poller *netpoll.Poller

	trackerClient *tracker.Client
	backoff       *tracker.Backoff
	announceCh    chan announceOutcome
	announcing    bool
	nextAnnounce  time.Time
	startedSent   bool
	everSawPeer   bool

	conns       map[int]*peer.Conn  // fd -> conn
	byKey       map[peer.Key]*peer.Conn
	pendingDial []tracker.Peer

	uploaded, downloaded int64

	fatalErr error
}

type announceOutcome struct {
	result *tracker.AnnounceResult
	err    error
}

// Open parses metainfoBytes, prepares the on-disk layout under destDir, and
// returns a Session ready to run. Mirrors the driver surface from spec.md
// §6: open(metainfo_bytes, destination_directory, options) -> Session.
func Open(metainfoBytes []byte, destDir string, opts config.Options) (*Session, error) {
	t, err := metainfo.Parse(metainfoBytes)
	if err != nil {
		return nil, internalerrors.Metainfo(err)
	}

	ps, err := store.Open(t, destDir)
	if err != nil {
		return nil, internalerrors.StorageIO(err)
	}

	alreadyVerified := make(map[int]bool)
	for i := 0; i < t.NumPieces(); i++ {
		if ps.HasPiece(i) {
			alreadyVerified[i] = true
		}
	}
	sched := scheduler.New(t, metainfo.BlockSize, alreadyVerified)

	id := peerid.Generate(opts.PeerIDPrefix)

	s := &Session{
		torrent:       t,
		opts:          opts,
		peerID:        id,
		store:         ps,
		sched:         sched,
		poller:        netpoll.New(),
		trackerClient: tracker.New(t.Announce, t.InfoHash, id, uint16(opts.Port)),
		backoff:       tracker.NewBackoff(),
		announceCh:    make(chan announceOutcome, 1),
		conns:         make(map[int]*peer.Conn),
		byKey:         make(map[peer.Key]*peer.Conn),
	}
	return s, nil
}

// Progress reports (verified pieces, total pieces, verified bytes, total
// bytes), matching spec.md §7's user-visible progress shape.
func (s *Session) Progress() (verifiedPieces, totalPieces int, verifiedBytes, totalBytes int64) {
	return s.store.Progress()
}

// RunUntilComplete drives the session's single-threaded I/O loop until
// every piece verifies, the context is cancelled, or a fatal error occurs.
func (s *Session) RunUntilComplete(ctx context.Context) error {
	defer s.closeAllPeers()
	defer s.store.Close()

	s.startAnnounce(ctx, tracker.EventStarted)

	for {
		if s.sched.Done() {
			s.sendStoppedBestEffort(ctx, tracker.EventCompleted)
			logging.Infof("session: all %d pieces verified", s.torrent.NumPieces())
			return nil
		}

		select {
		case <-ctx.Done():
			s.sendStoppedBestEffort(context.Background(), tracker.EventStopped)
			return internalerrors.Interrupted()
		default:
		}

		s.drainAnnounceResult()
		s.dialMore(ctx)

		ready, err := s.poller.Wait(tick)
		if err != nil {
			return internalerrors.PeerIO(err)
		}
		now := time.Now()

		for _, r := range ready {
			conn, ok := s.conns[r.Fd]
			if !ok {
				continue
			}
			s.handleReady(conn, r, now)
		}

		s.closeIdlePeers(now)
		s.reapStaleReservations(now)
		s.fillPipelines(now)

		if s.fatalErr != nil {
			return s.fatalErr
		}

		if time.Now().After(s.nextAnnounce) && !s.announcing {
			s.startAnnounce(ctx, tracker.EventNone)
		}
	}
}

func (s *Session) handleReady(c *peer.Conn, r netpoll.Ready, now time.Time) {
	if c.State() == peer.Dialing && r.Writable {
		if err := c.CompleteDial(s.torrent.NumPieces(), now); err != nil {
			logging.Warnf("peer %s: connect failed: %v", c.Key, err)
			s.dropConn(c)
		}
		return
	}

	if r.Err || r.Hup {
		logging.Warnf("peer %s: socket error/hangup", c.Key)
		s.dropConn(c)
		return
	}

	if r.Writable {
		if err := c.OnWritable(now); err != nil {
			s.dropConn(c)
			return
		}
	}
	if r.Readable {
		events, err := c.OnReadable(now)
		for _, ev := range events {
			s.handleEvent(c, ev)
		}
		if err != nil {
			logging.Warnf("peer %s: %v", c.Key, err)
			s.dropConn(c)
			return
		}
	}
}

func (s *Session) handleEvent(c *peer.Conn, ev peer.Event) {
	switch ev.Kind {
	case peer.EventBecameReady:
		if s.sched.HasNeeded(c.Bitfield()) {
			c.SetInterested(true)
		}
	case peer.EventBitfieldChanged:
		if s.sched.HasNeeded(c.Bitfield()) {
			c.SetInterested(true)
		}
	case peer.EventChokedByPeer:
		s.sched.ReleaseReservations(c.Key, c.ReleaseReservations())
	case peer.EventPieceData:
		s.onPieceData(c, ev)
	case peer.EventPeerRequest:
		s.onPeerRequest(c, ev)
	case peer.EventClosed:
		s.dropConn(c)
	}
}

func (s *Session) onPieceData(c *peer.Conn, ev peer.Event) {
	s.sched.OnBlockReceived(ev.PieceIndex, ev.Begin)
	result, blacklisted, err := s.store.AcceptBlock(ev.PieceIndex, int64(ev.Begin), ev.Block, store.PeerKey(c.Key))
	if err != nil {
		s.fatalErr = internalerrors.StorageIO(err)
		return
	}
	switch result {
	case store.PieceCompleteOK:
		s.sched.MarkVerified(ev.PieceIndex)
		s.downloaded += s.torrent.PieceLen(ev.PieceIndex)
		verifiedPieces, totalPieces, _, _ := s.store.Progress()
		logging.Infof("piece %d verified (%d/%d)", ev.PieceIndex, verifiedPieces, totalPieces)
		s.broadcastHave(ev.PieceIndex)
	case store.PieceCompleteBad:
		keys := make([]peer.Key, 0, len(blacklisted))
		for _, k := range blacklisted {
			keys = append(keys, peer.Key(k))
		}
		s.sched.ResetPiece(ev.PieceIndex, keys)
		logging.Warnf("piece %d failed verification, blacklisting %d contributor(s)", ev.PieceIndex, len(keys))
	case store.OutOfRange:
		logging.Warnf("peer %s: protocol violation: block out of range", c.Key)
		s.dropConn(c)
	}
}

func (s *Session) onPeerRequest(c *peer.Conn, ev peer.Event) {
	if !s.store.HasPiece(ev.Req.Index) {
		return
	}
	block, err := s.store.ReadBlock(ev.Req.Index, int64(ev.Req.Begin), ev.Req.Length)
	if err != nil {
		logging.Warnf("peer %s: serving request: %v", c.Key, err)
		return
	}
	c.SendPiece(ev.Req.Index, ev.Req.Begin, block)
}

func (s *Session) broadcastHave(piece int) {
	for _, c := range s.conns {
		if c.State() == peer.Ready {
			c.SendHave(piece)
		}
	}
}

func (s *Session) fillPipelines(now time.Time) {
	for _, c := range s.conns {
		if c.State() != peer.Ready || c.PeerChoking() {
			continue
		}
		capacity := s.opts.PipelineDepth - c.ReservationCount()
		if capacity <= 0 {
			continue
		}
		for _, req := range s.sched.NextRequests(c.Key, c.Bitfield(), capacity, now) {
			c.Reserve(req.Piece, req.Offset, req.Length)
		}
	}
}

// reapStaleReservations releases blocks that have sat reserved beyond
// T_block (spec.md §5) so another peer can claim them, and drops the
// matching reservation on the peer that held it so its pipeline slot frees
// up too.
func (s *Session) reapStaleReservations(now time.Time) {
	for _, sr := range s.sched.ReapStaleReservations(now, s.opts.BlockTimeout()) {
		if c, ok := s.byKey[sr.Key]; ok {
			c.ExpireReservation(sr.Piece, sr.Offset)
		}
	}
}

func (s *Session) closeIdlePeers(now time.Time) {
	for _, c := range s.conns {
		if c.Idle(now, s.opts.IdleTimeout()) {
			logging.Warnf("peer %s: idle timeout", c.Key)
			s.dropConn(c)
		}
	}
}

func (s *Session) dropConn(c *peer.Conn) {
	s.sched.ReleaseReservations(c.Key, c.ReleaseReservations())
	c.Close()
	delete(s.conns, c.Fd())
	delete(s.byKey, c.Key)
}

func (s *Session) closeAllPeers() {
	for _, c := range s.conns {
		c.Close()
	}
}

func (s *Session) dialMore(ctx context.Context) {
	for len(s.conns) < s.opts.MaxPeers && len(s.pendingDial) > 0 {
		p := s.pendingDial[0]
		s.pendingDial = s.pendingDial[1:]

		key := peer.AddrKey(p.IP, p.Port)
		if _, exists := s.byKey[key]; exists {
			continue
		}

		c, err := peer.NewConn(p.IP, p.Port, s.torrent.InfoHash, s.peerID, s.poller, time.Now())
		if err != nil {
			logging.Warnf("dial %s: %v", key, err)
			continue
		}
		s.conns[c.Fd()] = c
		s.byKey[key] = c
	}
}

func (s *Session) startAnnounce(ctx context.Context, event tracker.Event) {
	if s.announcing {
		return
	}
	s.announcing = true
	_, _, _, totalBytes := s.store.Progress()
	_, _, verifiedBytes, _ := s.store.Progress()
	left := totalBytes - verifiedBytes

	go func() {
		result, err := s.trackerClient.Announce(ctx, s.uploaded, s.downloaded, left, event)
		select {
		case s.announceCh <- announceOutcome{result: result, err: err}:
		default:
		}
	}()
}

func (s *Session) sendStoppedBestEffort(ctx context.Context, event tracker.Event) {
	_, _, _, totalBytes := s.store.Progress()
	_, _, verifiedBytes, _ := s.store.Progress()
	left := totalBytes - verifiedBytes
	c, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, _ = s.trackerClient.Announce(c, s.uploaded, s.downloaded, left, event)
}

func (s *Session) drainAnnounceResult() {
	select {
	case outcome := <-s.announceCh:
		s.announcing = false
		if outcome.err != nil {
			logging.Warnf("tracker: %v", outcome.err)
			delay := s.backoff.Next()
			s.nextAnnounce = time.Now().Add(delay)

			verifiedPieces, _, _, _ := s.store.Progress()
			if !s.everSawPeer && verifiedPieces == 0 && s.backoff.Failures() >= maxAnnounceFailuresBeforeFatal {
				logging.Errorf("tracker: giving up after %d failed announces with no peers ever seen", s.backoff.Failures())
				s.fatalErr = outcome.err
				return
			}
			if !s.everSawPeer {
				logging.Warnf("tracker: no peers seen yet, retrying in %s", delay)
			}
			return
		}
		s.backoff.Reset()
		if outcome.result.Interval > 0 {
			s.backoff.RaiseCap(outcome.result.Interval)
			s.nextAnnounce = time.Now().Add(outcome.result.Interval)
		} else {
			s.nextAnnounce = time.Now().Add(30 * time.Minute)
		}
		if len(outcome.result.Peers) > 0 {
			s.everSawPeer = true
		}
		for _, p := range outcome.result.Peers {
			s.pendingDial = append(s.pendingDial, p)
		}
	default:
	}
}

