// Package discovery finds peer agents on the local network and keeps the
// presence registry current. Each agent runs a TCP listener answering
// handshake probes, plus a prober that sweeps the subnet on an interval.
package discovery

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mjnet/mjnet/internal/config"
	"github.com/mjnet/mjnet/internal/metrics"
	"github.com/mjnet/mjnet/internal/registry"
	"github.com/mjnet/mjnet/pkg/models"
)

// AgentID derives the stable identity for a user's agent: "MJ-" plus the
// first 8 hex chars of SHA-256 over "user_id:user_name:hostname".
func AgentID(userID int64, userName, hostname string) string {
	seed := strconv.FormatInt(userID, 10) + ":" + userName + ":" + hostname
	sum := sha256.Sum256([]byte(seed))
	return "MJ-" + hex.EncodeToString(sum[:])[:8]
}

// Service runs LAN peer discovery for one agent.
type Service struct {
	cfg  config.DiscoveryConfig
	reg  registry.Registry
	self models.AgentRecord

	mu    sync.RWMutex
	peers map[string]models.AgentRecord // agent id → last seen record

	listener net.Listener
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewService creates a discovery service for the given identity.
// The agent ID is derived from the user, their name and the hostname, so
// the same user on the same machine always advertises the same ID.
func NewService(cfg config.DiscoveryConfig, reg registry.Registry, userID int64, userName string, capabilities []string) *Service {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	return &Service{
		cfg: cfg,
		reg: reg,
		self: models.AgentRecord{
			AgentID:         AgentID(userID, userName, hostname),
			UserID:          userID,
			UserName:        userName,
			Capabilities:    capabilities,
			ProtocolVersion: models.ProtocolVersion,
			Status:          models.AgentOnline,
		},
		peers: make(map[string]models.AgentRecord),
	}
}

// Self returns the local agent's presence record.
func (s *Service) Self() models.AgentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.self
}

// Start opens the handshake listener and launches the subnet prober and
// the registry heartbeat. It returns once the listener is bound.
func (s *Service) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("discovery listen on port %d: %w", s.cfg.Port, err)
	}
	s.listener = ln

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	s.mu.Lock()
	s.self.Address = ln.Addr().String()
	s.self.LastSeen = time.Now().UTC()
	s.mu.Unlock()

	if err := s.heartbeat(runCtx); err != nil {
		log.Warn().Err(err).Msg("Initial presence publish failed")
	}

	go s.serve(runCtx, ln)
	go s.run(runCtx)

	log.Info().
		Str("agent_id", s.self.AgentID).
		Str("addr", ln.Addr().String()).
		Dur("scan_interval", s.cfg.ScanInterval).
		Msg("Discovery started")
	return nil
}

// Stop shuts the listener down and withdraws the presence record.
func (s *Service) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		s.listener.Close()
	}
	if s.done != nil {
		select {
		case <-s.done:
		case <-ctx.Done():
		}
	}
	return s.reg.Remove(ctx, s.self.AgentID)
}

// run drives the periodic subnet sweep and presence heartbeat.
func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Discovery stopped")
			return
		case <-ticker.C:
			if err := s.heartbeat(ctx); err != nil {
				log.Warn().Err(err).Msg("Presence heartbeat failed")
			}
			s.sweep(ctx)
		}
	}
}

// heartbeat republishes the local record, resetting its registry TTL.
func (s *Service) heartbeat(ctx context.Context) error {
	s.mu.Lock()
	s.self.LastSeen = time.Now().UTC()
	rec := s.self
	s.mu.Unlock()
	return s.reg.Publish(ctx, &rec)
}

// ── Listener side ───────────────────────────────────────────

func (s *Service) serve(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			log.Warn().Err(err).Msg("Discovery accept failed")
			return
		}
		go s.handleConn(conn)
	}
}

// handleConn answers a single probe. Unknown message types are dropped
// without a response so port scanners learn nothing.
func (s *Service) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(s.cfg.ProbeTimeout))

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return
	}
	var probe probeMessage
	if err := json.Unmarshal(line, &probe); err != nil || probe.Type != msgTypeProbe {
		return
	}

	s.mu.RLock()
	resp := probeResponse{
		Type:            msgTypeResponse,
		MJID:            s.self.AgentID,
		UserName:        s.self.UserName,
		Capabilities:    s.self.Capabilities,
		ProtocolVersion: models.ProtocolVersion,
		DiscoveryMethod: "network_scan",
	}
	s.mu.RUnlock()

	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	conn.Write(append(data, '\n'))
}

// ── Prober side ─────────────────────────────────────────────

// sweep probes every candidate host on the subnet concurrently, bounded
// by ProbeBatch in-flight connections.
func (s *Service) sweep(ctx context.Context) {
	hosts, err := s.candidateHosts()
	if err != nil {
		log.Warn().Err(err).Msg("Subnet enumeration failed")
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.ProbeBatch)

	var mu sync.Mutex
	found := 0
	for _, host := range hosts {
		addr := net.JoinHostPort(host, strconv.Itoa(s.cfg.Port))
		g.Go(func() error {
			rec, err := s.Probe(gctx, addr)
			if err != nil {
				return nil // silence is absence, not an error
			}
			mu.Lock()
			found++
			mu.Unlock()
			s.recordPeer(rec)
			return nil
		})
	}
	g.Wait()

	if found > 0 {
		log.Debug().Int("peers", found).Int("hosts", len(hosts)).Msg("Subnet sweep complete")
	}
}

// Probe performs one handshake against addr and returns the peer's
// record, or an error if nothing answered within the probe timeout.
func (s *Service) Probe(ctx context.Context, addr string) (*models.AgentRecord, error) {
	result := "silent"
	defer func() { metrics.ProbesSent.WithLabelValues(result).Inc() }()

	d := net.Dialer{Timeout: s.cfg.ProbeTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(s.cfg.ProbeTimeout))

	probe := probeMessage{
		Type:            msgTypeProbe,
		FromMJID:        s.self.AgentID,
		ProtocolVersion: models.ProtocolVersion,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(probe)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return nil, err
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	var resp probeResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, err
	}
	if resp.Type != msgTypeResponse {
		return nil, fmt.Errorf("unexpected response type %q from %s", resp.Type, addr)
	}
	if resp.MJID == s.self.AgentID {
		return nil, fmt.Errorf("probed self at %s", addr)
	}
	result = "answered"

	return &models.AgentRecord{
		AgentID:         resp.MJID,
		UserName:        resp.UserName,
		Address:         addr,
		Capabilities:    resp.Capabilities,
		ProtocolVersion: resp.ProtocolVersion,
		Status:          models.AgentOnline,
		LastSeen:        time.Now().UTC(),
	}, nil
}

// recordPeer stores a probe result in the local peer table only. The
// shared registry is never written here: each agent upserts its own key,
// and a probe response carries less than the owner's record (no user id),
// so republishing it would clobber the owner's entry.
func (s *Service) recordPeer(rec *models.AgentRecord) {
	s.mu.Lock()
	_, known := s.peers[rec.AgentID]
	s.peers[rec.AgentID] = *rec
	s.mu.Unlock()

	if !known {
		metrics.PeersDiscovered.Inc()
		log.Info().Str("peer", rec.AgentID).Str("addr", rec.Address).Msg("Peer discovered")
	}
}

// Peers returns a snapshot of agents seen by the local prober, sorted by
// agent ID for stable output.
func (s *Service) Peers() []models.AgentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.AgentRecord, 0, len(s.peers))
	for _, rec := range s.peers {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Discover returns peers via the requested method: "network" runs a
// live subnet sweep (authoritative but paying one connection attempt per
// candidate host), anything else reads the shared registry.
func (s *Service) Discover(ctx context.Context, method string) ([]models.AgentRecord, error) {
	if method == "network" {
		s.sweep(ctx)
		return s.Peers(), nil
	}
	records, err := s.reg.List(ctx)
	if err != nil {
		return nil, err
	}
	out := records[:0]
	for _, rec := range records {
		if rec.AgentID != s.self.AgentID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

// candidateHosts enumerates probe targets. An explicit CIDR wins;
// otherwise the /24 of the first non-loopback IPv4 interface is used.
func (s *Service) candidateHosts() ([]string, error) {
	cidr := s.cfg.Subnet
	if cidr == "" {
		derived, err := localSubnet()
		if err != nil {
			return nil, err
		}
		cidr = derived
	}

	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("parse subnet %q: %w", cidr, err)
	}

	var hosts []string
	for ip := ip.Mask(ipnet.Mask); ipnet.Contains(ip); incIP(ip) {
		// Skip network and broadcast addresses.
		if last := ip[len(ip)-1]; last == 0 || last == 255 {
			continue
		}
		hosts = append(hosts, ip.String())
	}
	return hosts, nil
}

func localSubnet() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return (&net.IPNet{IP: ip4.Mask(net.CIDRMask(24, 32)), Mask: net.CIDRMask(24, 32)}).String(), nil
		}
	}
	return "", fmt.Errorf("no non-loopback IPv4 interface found")
}

func incIP(ip net.IP) {
	for i := len(ip) - 1; i >= 0; i-- {
		ip[i]++
		if ip[i] != 0 {
			break
		}
	}
}
