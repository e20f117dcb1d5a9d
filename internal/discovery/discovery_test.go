package discovery_test

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/mjnet/mjnet/internal/config"
	"github.com/mjnet/mjnet/internal/discovery"
	"github.com/mjnet/mjnet/internal/registry"
)

func testConfig() config.DiscoveryConfig {
	return config.DiscoveryConfig{
		Port:         0, // ephemeral, tests probe the bound address directly
		ProbeTimeout: time.Second,
		ScanInterval: time.Hour, // no sweeps during tests
		ProbeBatch:   4,
		Subnet:       "127.0.0.1/32",
	}
}

// startService boots a discovery service on an ephemeral port and returns
// it with the loopback address its listener answers on.
func startService(t *testing.T, reg registry.Registry, userID int64, userName string) (*discovery.Service, string) {
	t.Helper()
	svc := discovery.NewService(testConfig(), reg, userID, userName, []string{"chat"})
	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { svc.Stop(context.Background()) })

	_, port, err := net.SplitHostPort(svc.Self().Address)
	if err != nil {
		t.Fatalf("SplitHostPort(%q) error = %v", svc.Self().Address, err)
	}
	return svc, net.JoinHostPort("127.0.0.1", port)
}

func TestAgentID_Deterministic(t *testing.T) {
	a := discovery.AgentID(42, "maya", "laptop")
	b := discovery.AgentID(42, "maya", "laptop")
	if a != b {
		t.Errorf("AgentID() not deterministic: %q vs %q", a, b)
	}
	if len(a) != len("MJ-")+8 {
		t.Errorf("AgentID() = %q, want MJ- prefix plus 8 hex chars", a)
	}
	if a[:3] != "MJ-" {
		t.Errorf("AgentID() = %q, want MJ- prefix", a)
	}
	if other := discovery.AgentID(42, "maya", "desktop"); other == a {
		t.Errorf("AgentID() identical for different hostnames: %q", other)
	}
}

func TestProbeHandshake(t *testing.T) {
	reg := registry.NewMemoryRegistry(time.Minute)
	_, addrA := startService(t, reg, 1, "alice")
	svcB, _ := startService(t, reg, 2, "bob")

	rec, err := svcB.Probe(context.Background(), addrA)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if rec.UserName != "alice" {
		t.Errorf("Probe().UserName = %q, want %q", rec.UserName, "alice")
	}
	if rec.ProtocolVersion == "" {
		t.Error("Probe().ProtocolVersion is empty")
	}
	if rec.AgentID == svcB.Self().AgentID {
		t.Error("Probe() returned the prober's own identity")
	}
}

func TestProbe_SelfIsRejected(t *testing.T) {
	reg := registry.NewMemoryRegistry(time.Minute)
	svc, addr := startService(t, reg, 1, "alice")

	if _, err := svc.Probe(context.Background(), addr); err == nil {
		t.Fatal("Probe() against own listener = nil error, want self rejection")
	}
}

func TestListener_IgnoresUnknownMessages(t *testing.T) {
	reg := registry.NewMemoryRegistry(time.Minute)
	_, addr := startService(t, reg, 1, "alice")

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write([]byte(`{"type":"port_scan"}` + "\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	// An unrecognized probe gets no response, only a closed connection.
	buf := make([]byte, 64)
	n, _ := conn.Read(buf)
	if n != 0 {
		t.Errorf("listener answered unknown message with %q, want silence", buf[:n])
	}
}

func TestProbe_NobodyListening(t *testing.T) {
	reg := registry.NewMemoryRegistry(time.Minute)
	svc, _ := startService(t, reg, 1, "alice")

	// A port with no listener is absence, reported as an error.
	if _, err := svc.Probe(context.Background(), "127.0.0.1:1"); err == nil {
		t.Fatal("Probe() against dead port = nil error, want failure")
	}
}

func TestStart_PublishesPresence(t *testing.T) {
	reg := registry.NewMemoryRegistry(time.Minute)
	svc, _ := startService(t, reg, 7, "carol")

	rec, err := reg.Lookup(context.Background(), svc.Self().AgentID)
	if err != nil {
		t.Fatalf("Lookup() after Start error = %v", err)
	}
	if rec.UserID != 7 {
		t.Errorf("registered UserID = %d, want 7", rec.UserID)
	}

	if err := svc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if _, err := reg.Lookup(context.Background(), svc.Self().AgentID); err == nil {
		t.Fatal("Lookup() after Stop = nil error, want ErrNotRegistered")
	}
}

// proberFor builds an unstarted service whose sweep targets the given
// loopback listener address.
func proberFor(t *testing.T, reg registry.Registry, addr string, userID int64, userName string) *discovery.Service {
	t.Helper()
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("SplitHostPort(%q) error = %v", addr, err)
	}
	cfg := testConfig()
	cfg.Port, err = strconv.Atoi(port)
	if err != nil {
		t.Fatalf("Atoi(%q) error = %v", port, err)
	}
	return discovery.NewService(cfg, reg, userID, userName, []string{"chat"})
}

func TestDiscover_NetworkMethodScansLive(t *testing.T) {
	reg := registry.NewMemoryRegistry(time.Minute)
	svcB, addrB := startService(t, reg, 42, "bob")
	svcA := proberFor(t, reg, addrB, 1, "alice")

	// No background sweep has run; a live scan must still find bob.
	peers, err := svcA.Discover(context.Background(), "network")
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(peers) != 1 || peers[0].AgentID != svcB.Self().AgentID {
		t.Fatalf("Discover() = %v, want only bob's agent", peers)
	}
	if peers[0].UserName != "bob" {
		t.Errorf("scanned peer UserName = %q, want %q", peers[0].UserName, "bob")
	}
}

func TestNetworkScan_LeavesRegistryToOwners(t *testing.T) {
	reg := registry.NewMemoryRegistry(time.Minute)
	svcB, addrB := startService(t, reg, 42, "bob")
	svcA := proberFor(t, reg, addrB, 1, "alice")

	if _, err := svcA.Discover(context.Background(), "network"); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	// Probe responses carry no user id; only the owner writes its key,
	// so bob's self-published record must survive the scan untouched.
	ctx := context.Background()
	rec, err := reg.Lookup(ctx, svcB.Self().AgentID)
	if err != nil {
		t.Fatalf("Lookup(bob) after scan error = %v", err)
	}
	if rec.UserID != 42 {
		t.Errorf("registry UserID for bob = %d, want 42", rec.UserID)
	}
	if _, err := reg.LookupByUser(ctx, 42); err != nil {
		t.Errorf("LookupByUser(42) after scan error = %v", err)
	}
	if _, err := reg.LookupByUser(ctx, 0); err == nil {
		t.Error("registry resolves user 0 after scan, scan results must stay local")
	}
}

func TestDiscover_RegistryMethod(t *testing.T) {
	reg := registry.NewMemoryRegistry(time.Minute)
	svcA, _ := startService(t, reg, 1, "alice")
	svcB, _ := startService(t, reg, 2, "bob")

	peers, err := svcA.Discover(context.Background(), "registry")
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(peers) != 1 || peers[0].AgentID != svcB.Self().AgentID {
		t.Errorf("Discover() = %v, want only bob's agent", peers)
	}
}
